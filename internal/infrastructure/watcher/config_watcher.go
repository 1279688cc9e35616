package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cocursor/contextengine/internal/domain/events"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/fsnotify/fsnotify"
)

// WatchConfig ConfigWatcher 配置
type WatchConfig struct {
	// Path 被监听的配置文件
	Path string
	// DebounceDelay 防抖延迟，编辑器保存时常触发多次写事件
	DebounceDelay time.Duration
}

// DefaultWatchConfig 返回默认配置
func DefaultWatchConfig(path string) WatchConfig {
	return WatchConfig{
		Path:          path,
		DebounceDelay: 500 * time.Millisecond,
	}
}

// ConfigWatcher 监听配置文件并发布 ConfigFileEvent
// 监听的是文件所在目录，以便覆盖"写临时文件再重命名"的保存方式
type ConfigWatcher struct {
	config   WatchConfig
	path     string
	eventBus events.EventBus
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	timer   *time.Timer
	timerMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewConfigWatcher 创建配置文件监听器
func NewConfigWatcher(config WatchConfig, eventBus events.EventBus) (*ConfigWatcher, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	path, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &ConfigWatcher{
		config:   config,
		path:     filepath.Clean(path),
		eventBus: eventBus,
		watcher:  w,
		logger:   log.NewModuleLogger("watcher", "config_watcher"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start 开始监听
// 目录不存在时返回错误，调用方可以选择忽略并以静态配置运行
func (cw *ConfigWatcher) Start() error {
	dir := filepath.Dir(cw.path)
	if err := cw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	cw.logger.Info("Watching config file", "path", cw.path)
	cw.wg.Add(1)
	go cw.watchLoop()
	return nil
}

// Stop 停止监听，可重复调用
func (cw *ConfigWatcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.stopCh)
		cw.watcher.Close()
		cw.wg.Wait()

		cw.timerMu.Lock()
		if cw.timer != nil {
			cw.timer.Stop()
		}
		cw.timerMu.Unlock()

		cw.logger.Info("Config watcher stopped")
	})
}

func (cw *ConfigWatcher) watchLoop() {
	defer cw.wg.Done()

	for {
		select {
		case <-cw.stopCh:
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			cw.handleFsEvent(event)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("Watcher error", "error", err)
		}
	}
}

// handleFsEvent 只关心目标文件；删除立即发布，写入经过防抖
func (cw *ConfigWatcher) handleFsEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != cw.path {
		return
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		cw.debounce()
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		cw.cancelPending()
		cw.publish(events.ConfigFileRemoved, time.Time{})
	}
}

func (cw *ConfigWatcher) debounce() {
	cw.timerMu.Lock()
	defer cw.timerMu.Unlock()

	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.config.DebounceDelay, func() {
		info, err := os.Stat(cw.path)
		if err != nil {
			cw.logger.Debug("Config file vanished before reload", "path", cw.path, "error", err)
			return
		}
		cw.publish(events.ConfigFileChanged, info.ModTime())
	})
}

func (cw *ConfigWatcher) cancelPending() {
	cw.timerMu.Lock()
	defer cw.timerMu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
		cw.timer = nil
	}
}

func (cw *ConfigWatcher) publish(eventType events.EventType, modTime time.Time) {
	select {
	case <-cw.stopCh:
		return
	default:
	}

	cw.eventBus.Publish(&events.ConfigFileEvent{
		EventType: eventType,
		Path:      cw.path,
		ModTime:   modTime,
		EventTime: time.Now(),
	})
	cw.logger.Debug("Config file event emitted", "type", eventType, "path", cw.path)
}
