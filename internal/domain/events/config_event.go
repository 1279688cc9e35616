package events

import "time"

// ConfigFileEvent 配置文件变更事件
type ConfigFileEvent struct {
	// EventType 事件类型（changed/removed）
	EventType EventType
	// Path 配置文件完整路径
	Path string
	// ModTime 文件最后修改时间，删除时为零值
	ModTime time.Time
	// EventTime 事件发生时间
	EventTime time.Time
}

// Type 实现 Event 接口
func (e *ConfigFileEvent) Type() EventType {
	return e.EventType
}

// Timestamp 实现 Event 接口
func (e *ConfigFileEvent) Timestamp() time.Time {
	return e.EventTime
}

// PolicyEvent 预算策略变更结果
type PolicyEvent struct {
	EventType EventType
	// Source 触发变更的配置文件
	Source string
	// Error 策略被拒绝的原因
	Error     string
	EventTime time.Time
}

// Type 实现 Event 接口
func (e *PolicyEvent) Type() EventType {
	return e.EventType
}

// Timestamp 实现 Event 接口
func (e *PolicyEvent) Timestamp() time.Time {
	return e.EventTime
}
