package models

import (
	"encoding/json"
	"time"
)

// RunReport 运行报告
type RunReport struct {
	// 运行信息
	RunID     string `json:"run_id"`
	RootURL   string `json:"root_url"`
	RootRefID string `json:"root_ref_id"`

	// 时间信息
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // 秒

	// 统计信息
	Summary RunSummary `json:"summary"`

	// 文件列表
	Downloaded []FileInfo       `json:"downloaded"`
	Skipped    []SkippedInfo    `json:"skipped"`
	Failed     []FailedFileInfo `json:"failed"`

	// 输出路径
	OutputDir  string `json:"output_dir"`
	RunLogPath string `json:"run_log_path"`

	// 配置快照
	Config DownloadConfig `json:"config"`
}

// FileInfo 已下载文件信息
type FileInfo struct {
	RefID        string    `json:"ref_id"`
	URL          string    `json:"url"`
	FilePath     string    `json:"file_path"`
	Size         int64     `json:"size"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// SkippedInfo 跳过的文件
type SkippedInfo struct {
	RefID    string `json:"ref_id"`
	FilePath string `json:"file_path"`
	Reason   Reason `json:"reason"`
}

// FailedFileInfo 失败文件信息
type FailedFileInfo struct {
	RefID     string `json:"ref_id"`
	URL       string `json:"url"`
	FilePath  string `json:"file_path"`
	ErrorType Reason `json:"error_type"` // http, transfer, filesystem等
	ErrorMsg  string `json:"error_msg"`
}

// ToJSON 序列化为JSON
func (r *RunReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *RunReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
