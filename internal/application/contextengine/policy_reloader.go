package contextengine

import (
	"fmt"
	"log/slog"
	"time"

	domain "github.com/cocursor/contextengine/internal/domain/contextengine"
	"github.com/cocursor/contextengine/internal/domain/events"
	"github.com/cocursor/contextengine/internal/infrastructure/log"
)

// PolicyLoader 从配置文件读取策略
type PolicyLoader func(path string) (domain.Policy, error)

// PolicyReloader 订阅配置文件事件并热更新引擎策略
// 新策略非法时保留旧策略；配置文件被删除时同样保留
type PolicyReloader struct {
	engine *Engine
	load   PolicyLoader
	bus    events.EventBus
	logger *slog.Logger
}

// NewPolicyReloader 创建策略热更新器
func NewPolicyReloader(engine *Engine, load PolicyLoader, bus events.EventBus) *PolicyReloader {
	return &PolicyReloader{
		engine: engine,
		load:   load,
		bus:    bus,
		logger: log.NewModuleLogger("contextengine", "policy_reloader"),
	}
}

// Subscribe 在事件总线上注册，返回取消订阅函数
func (r *PolicyReloader) Subscribe() func() {
	return r.bus.SubscribeMultiple(
		[]events.EventType{events.ConfigFileChanged, events.ConfigFileRemoved},
		r,
	)
}

// HandleEvent 实现 events.Handler
func (r *PolicyReloader) HandleEvent(event events.Event) error {
	e, ok := event.(*events.ConfigFileEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	switch e.EventType {
	case events.ConfigFileRemoved:
		r.logger.Warn("Config file removed, keeping current policy", "path", e.Path)
		return nil
	case events.ConfigFileChanged:
		return r.reload(e.Path)
	default:
		return nil
	}
}

func (r *PolicyReloader) reload(path string) error {
	policy, err := r.load(path)
	if err == nil {
		err = r.engine.UpdatePolicy(policy)
	}
	if err != nil {
		r.logger.Error("Policy rejected, keeping current policy", "path", path, "error", err)
		r.publish(events.PolicyRejected, path, err)
		return fmt.Errorf("failed to reload policy: %w", err)
	}

	r.logger.Info("Policy reloaded", "path", path)
	r.publish(events.PolicyReloaded, path, nil)
	return nil
}

func (r *PolicyReloader) publish(eventType events.EventType, path string, err error) {
	e := &events.PolicyEvent{EventType: eventType, Source: path, EventTime: time.Now()}
	if err != nil {
		e.Error = err.Error()
	}
	r.bus.Publish(e)
}
