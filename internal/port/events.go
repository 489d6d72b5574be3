package port

import "github.com/chiwei-platform/deployd/internal/domain"

// EventPublisher 把实时日志推送给订阅了该 JobID 的观察者。
// 不排队、不重放：发布时没有订阅者的事件直接丢弃。
type EventPublisher interface {
	Publish(jobID string, level domain.LogLevel, message string)
}
