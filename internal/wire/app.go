package wire

import (
	"log/slog"

	appCE "github.com/cocursor/contextengine/internal/application/contextengine"
	"github.com/cocursor/contextengine/internal/domain/events"
	applog "github.com/cocursor/contextengine/internal/infrastructure/log"
	"github.com/cocursor/contextengine/internal/infrastructure/watcher"
	"github.com/cocursor/contextengine/internal/interfaces"
)

// App 应用主结构，组合所有服务
type App struct {
	HTTPServer *interfaces.HTTPServer
	MCPServer  *interfaces.MCPServer
	logger     *slog.Logger

	// 策略热更新
	eventBus       events.EventBus
	configWatcher  *watcher.ConfigWatcher
	policyReloader *appCE.PolicyReloader
	unsubscribe    []func()
}

// NewApp 创建应用实例
func NewApp(
	httpServer *interfaces.HTTPServer,
	mcpServer *interfaces.MCPServer,
	eventBus events.EventBus,
	configWatcher *watcher.ConfigWatcher,
	policyReloader *appCE.PolicyReloader,
) *App {
	return &App{
		HTTPServer:     httpServer,
		MCPServer:      mcpServer,
		logger:         applog.NewModuleLogger("app", "main"),
		eventBus:       eventBus,
		configWatcher:  configWatcher,
		policyReloader: policyReloader,
	}
}

// Start 启动所有服务
func (a *App) Start() error {
	a.logger.Info("Starting context engine")

	a.setupEventSubscribers()
	if a.configWatcher != nil {
		// 配置目录不存在时以静态配置运行
		if err := a.configWatcher.Start(); err != nil {
			a.logger.Warn("Config hot reload disabled",
				"error", err,
			)
		}
	}

	go func() {
		if err := a.HTTPServer.Start(); err != nil {
			a.logger.Error("HTTP server stopped with error",
				"error", err,
			)
		}
	}()

	a.logger.Info("Context engine started")
	return nil
}

// setupEventSubscribers 注册事件订阅者
func (a *App) setupEventSubscribers() {
	if a.eventBus == nil {
		return
	}

	if a.policyReloader != nil {
		a.unsubscribe = append(a.unsubscribe, a.policyReloader.Subscribe())
		a.logger.Info("Policy reloader subscribed to config file events")
	}

	a.unsubscribe = append(a.unsubscribe, a.eventBus.SubscribeMultiple(
		[]events.EventType{events.PolicyReloaded, events.PolicyRejected},
		events.HandlerFunc(func(event events.Event) error {
			pe, ok := event.(*events.PolicyEvent)
			if !ok {
				return nil
			}
			a.logger.Debug("Policy event",
				"type", pe.EventType,
				"source", pe.Source,
				"error", pe.Error,
			)
			return nil
		}),
	))
}

// Stop 停止所有服务
func (a *App) Stop() error {
	a.logger.Info("Stopping context engine")

	if a.configWatcher != nil {
		a.configWatcher.Stop()
	}
	for _, unsub := range a.unsubscribe {
		unsub()
	}
	if a.eventBus != nil {
		a.eventBus.Close()
	}

	if err := a.HTTPServer.Stop(); err != nil {
		a.logger.Error("Failed to stop HTTP server",
			"error", err,
		)
		return err
	}

	a.logger.Info("Context engine stopped")
	return nil
}
