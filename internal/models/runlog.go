package models

import "time"

// Outcome 运行日志事件类型
type Outcome string

const (
	OutcomeDiscovered        Outcome = "discovered"         // 发现并入队
	OutcomeStarted           Outcome = "started"            // 开始传输
	OutcomeCompleted         Outcome = "completed"          // 下载完成
	OutcomeSkipped           Outcome = "skipped"            // 跳过
	OutcomeFailed            Outcome = "failed"             // 失败
	OutcomeRenamed           Outcome = "renamed"            // 后处理替换了文件
	OutcomePostprocessFailed Outcome = "postprocess_failed" // 后处理失败(原文件保留)
)

// Event 运行日志中的一条记录
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	RefID     string    `json:"ref_id"`
	Outcome   Outcome   `json:"outcome"`
	Reason    Reason    `json:"reason,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Path      string    `json:"path,omitempty"`
}

// NewEvent 创建事件(时间戳由写入方填充)
func NewEvent(refID string, outcome Outcome, reason Reason, detail string, path string) Event {
	return Event{
		RefID:   refID,
		Outcome: outcome,
		Reason:  reason,
		Detail:  detail,
		Path:    path,
	}
}

// EventSink 事件接收者
// 遍历器、调度器与后处理器只依赖此接口
type EventSink interface {
	Record(ev Event)
}

// EventSinkFunc 函数适配器
type EventSinkFunc func(ev Event)

// Record 实现EventSink
func (f EventSinkFunc) Record(ev Event) {
	f(ev)
}

// DiscardSink 丢弃所有事件
var DiscardSink EventSink = EventSinkFunc(func(Event) {})
