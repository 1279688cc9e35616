// Package events 定义领域事件类型和接口
// 用于配置热加载等进程内的事件驱动通信
package events

import "time"

// EventType 事件类型标识
type EventType string

// 配置文件相关事件类型
const (
	// ConfigFileChanged 配置文件创建或修改
	ConfigFileChanged EventType = "config.file.changed"
	// ConfigFileRemoved 配置文件被删除或移走
	ConfigFileRemoved EventType = "config.file.removed"
)

// 预算策略相关事件类型
const (
	// PolicyReloaded 新策略已生效
	PolicyReloaded EventType = "policy.reloaded"
	// PolicyRejected 新策略非法，继续使用旧策略
	PolicyRejected EventType = "policy.rejected"
)

// Event 领域事件接口
// 所有事件类型都必须实现此接口
type Event interface {
	// Type 返回事件类型
	Type() EventType
	// Timestamp 返回事件发生时间
	Timestamp() time.Time
}
