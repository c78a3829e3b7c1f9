package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/rs/zerolog"
)

// RunTimestampLayout 运行日志与报告文件名中的时间戳格式
const RunTimestampLayout = "20060102_150405"

// RunLogFileName 运行日志文件名: download_ref<id>_<时间戳>.log
func RunLogFileName(rootRefID string, startedAt time.Time) string {
	return fmt.Sprintf("download_ref%s_%s.log", rootRefID, startedAt.Format(RunTimestampLayout))
}

// RunLog 单次运行的事件记录
// 只追加,并发安全; 每条事件立即以一行JSON写入文件,进程崩溃时已写入的部分仍然保留
type RunLog struct {
	mu     sync.Mutex
	events []models.Event
	file   *os.File
	writer zerolog.Logger
	path   string
	now    func() time.Time
}

// NewRunLog 在logDir下创建运行日志文件
func NewRunLog(logDir string, rootRefID string, startedAt time.Time) (*RunLog, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}

	path := filepath.Join(logDir, RunLogFileName(rootRefID, startedAt))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("创建运行日志失败: %w", err)
	}

	return &RunLog{
		events: make([]models.Event, 0, 64),
		file:   file,
		writer: zerolog.New(file),
		path:   path,
		now:    time.Now,
	}, nil
}

// NewMemoryRunLog 创建只保存在内存中的运行日志
func NewMemoryRunLog() *RunLog {
	return &RunLog{
		events: make([]models.Event, 0, 64),
		writer: zerolog.Nop(),
		now:    time.Now,
	}
}

// Record 追加一条事件(实现models.EventSink)
func (l *RunLog) Record(ev models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	l.events = append(l.events, ev)

	entry := l.writer.Log().
		Time("timestamp", ev.Timestamp).
		Str("ref_id", ev.RefID).
		Str("outcome", string(ev.Outcome))
	if ev.Reason != models.ReasonNone {
		entry = entry.Str("reason", string(ev.Reason))
	}
	if ev.Detail != "" {
		entry = entry.Str("detail", ev.Detail)
	}
	if ev.Path != "" {
		entry = entry.Str("path", ev.Path)
	}
	entry.Send()

	switch ev.Outcome {
	case models.OutcomeFailed, models.OutcomePostprocessFailed:
		Warnf("❌ [ref=%s] %s (%s): %s", ev.RefID, ev.Outcome, ev.Reason, ev.Detail)
	default:
		Debugf("[ref=%s] %s %s %s", ev.RefID, ev.Outcome, ev.Reason, ev.Path)
	}
}

// Events 返回事件快照
func (l *RunLog) Events() []models.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Count 统计指定结果与原因的事件数,reason为空时只按结果统计
func (l *RunLog) Count(outcome models.Outcome, reason models.Reason) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, ev := range l.events {
		if ev.Outcome == outcome && (reason == models.ReasonNone || ev.Reason == reason) {
			n++
		}
	}
	return n
}

// Path 运行日志文件路径,内存日志返回空字符串
func (l *RunLog) Path() string {
	return l.path
}

// WriteSummary 在日志末尾写入运行摘要
func (l *RunLog) WriteSummary(s *models.RunSummary) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.writer.Log().
		Time("timestamp", l.now()).
		Str("outcome", "summary").
		Str("run_id", s.RunID).
		Int("total", s.Total).
		Int("completed", s.Completed).
		Int("skipped", s.Skipped).
		Int("failed", s.Failed).
		Int("fetch_failed", s.Discovery.FetchFailed).
		Int64("total_bytes", s.TotalBytes).
		Send()
}

// Close 关闭日志文件
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.writer = zerolog.Nop()
	return err
}
