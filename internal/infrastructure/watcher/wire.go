package watcher

import (
	"github.com/cocursor/contextengine/internal/domain/events"
	"github.com/cocursor/contextengine/internal/infrastructure/config"
	"github.com/google/wire"
)

// ProvideEventBus 提供事件总线实例
func ProvideEventBus() events.EventBus {
	return NewEventBus()
}

// ProvideConfigWatcher 提供配置文件监听器实例
func ProvideConfigWatcher(cfg *config.Config, eventBus events.EventBus) (*ConfigWatcher, error) {
	return NewConfigWatcher(DefaultWatchConfig(cfg.Path()), eventBus)
}

// ProviderSet 监听器 ProviderSet
var ProviderSet = wire.NewSet(
	ProvideEventBus,
	ProvideConfigWatcher,
)
