package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// TaskState 下载任务终态
type TaskState string

const (
	TaskPending   TaskState = "pending"   // 待执行
	TaskCompleted TaskState = "completed" // 已完成
	TaskSkipped   TaskState = "skipped"   // 已跳过
	TaskFailed    TaskState = "failed"    // 失败
)

// Reason 跳过/失败原因
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonSize       Reason = "size"       // 超过大小限制
	ReasonType       Reason = "type"       // 类型被过滤(视频)
	ReasonExists     Reason = "exists"     // 目标已存在
	ReasonFetch      Reason = "fetch"      // 列表页获取失败
	ReasonHTTP       Reason = "http"       // HTTP状态码或传输错误
	ReasonTransfer   Reason = "transfer"   // 内容被截断
	ReasonFilesystem Reason = "filesystem" // 本地文件系统错误
	ReasonConversion Reason = "conversion" // 文档转换失败
	ReasonTranscode  Reason = "transcode"  // 视频转码失败
	ReasonDuplicate  Reason = "duplicate"  // 重复的ref id
	ReasonCancelled  Reason = "cancelled"  // 运行被中止
)

// DownloadTask 单个文件的下载任务
// 由遍历器在发现阶段创建,由某个worker恰好消费一次
type DownloadTask struct {
	Node        ContentNode `json:"node"`
	Destination string      `json:"destination"`  // 本地目标路径(遍历阶段确定)
	OriginalExt string      `json:"original_ext"` // 发现时的扩展名,用于后处理分派
	Index       int         `json:"index"`        // 遍历顺序
}

// NewDownloadTask 由文件节点和目标路径创建任务
func NewDownloadTask(node ContentNode, destination string, index int) DownloadTask {
	return DownloadTask{
		Node:        node,
		Destination: destination,
		OriginalExt: NormalizeExt(filepath.Ext(destination)),
		Index:       index,
	}
}

// ConvertedPath 文档转换后的PDF路径
func (t *DownloadTask) ConvertedPath() string {
	return strings.TrimSuffix(t.Destination, filepath.Ext(t.Destination)) + ".pdf"
}

// TaskResult 任务结果(带标签的结果变体)
type TaskResult struct {
	Task      DownloadTask  `json:"task"`
	State     TaskState     `json:"state"`
	Reason    Reason        `json:"reason,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	FinalPath string        `json:"final_path,omitempty"` // 后处理后的路径(可能被重命名)
	Bytes     int64         `json:"bytes"`
	Duration  time.Duration `json:"duration"`
}

// Completed 构造完成结果
func Completed(task DownloadTask, finalPath string, bytes int64) TaskResult {
	return TaskResult{Task: task, State: TaskCompleted, FinalPath: finalPath, Bytes: bytes}
}

// Skipped 构造跳过结果
func Skipped(task DownloadTask, reason Reason, detail string) TaskResult {
	return TaskResult{Task: task, State: TaskSkipped, Reason: reason, Detail: detail}
}

// Failed 构造失败结果
func Failed(task DownloadTask, reason Reason, err error) TaskResult {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return TaskResult{Task: task, State: TaskFailed, Reason: reason, Detail: detail}
}

// DownloadConfig 下载配置
type DownloadConfig struct {
	RootReference     string        `mapstructure:"root_reference" json:"root_reference"`           // 根节点URL或ref id
	BaseURL           string        `mapstructure:"base_url" json:"base_url"`                       // 门户地址(根为纯数字ID时使用)
	DestinationRoot   string        `mapstructure:"destination_root" json:"destination_root"`       // 下载根目录 (默认:downloads)
	MaxFileSizeMB     float64       `mapstructure:"max_file_size_mb" json:"max_file_size_mb"`       // 最大文件大小,0表示不限制
	Workers           int           `mapstructure:"workers" json:"workers"`                         // 并发下载数 (默认:3)
	OverwriteExisting bool          `mapstructure:"overwrite_existing" json:"overwrite_existing"`   // 覆盖已存在文件 (默认:false)
	DownloadVideos    bool          `mapstructure:"download_videos" json:"download_videos"`         // 下载视频 (默认:true)
	ReduceVideoFPS    bool          `mapstructure:"reduce_video_fps" json:"reduce_video_fps"`       // 视频降帧 (默认:true)
	TargetFPS         int           `mapstructure:"target_fps" json:"target_fps"`                   // 目标帧率 (默认:1)
	ConvertDocuments  bool          `mapstructure:"convert_documents" json:"convert_documents"`     // 文档转PDF (默认:true)
	KeepOriginal      bool          `mapstructure:"keep_original" json:"keep_original"`             // 转换后保留原文件
	Retries           int           `mapstructure:"retries" json:"retries"`                         // 传输重试次数 (默认:1)
	RetryBackoff      time.Duration `mapstructure:"retry_backoff" json:"retry_backoff"`             // 重试退避
	RequestTimeout    time.Duration `mapstructure:"request_timeout" json:"request_timeout"`         // 单请求超时
	TransformTimeout  time.Duration `mapstructure:"transform_timeout" json:"transform_timeout"`     // 后处理超时
	RequestsPerSecond float64       `mapstructure:"requests_per_second" json:"requests_per_second"` // 请求速率,0表示不限
	MinFreeDiskMB     int           `mapstructure:"min_free_disk_mb" json:"min_free_disk_mb"`       // 最小剩余磁盘空间
}

// DefaultDownloadConfig 默认下载配置
func DefaultDownloadConfig() DownloadConfig {
	return DownloadConfig{
		DestinationRoot:  "downloads",
		Workers:          3,
		DownloadVideos:   true,
		ReduceVideoFPS:   true,
		TargetFPS:        1,
		ConvertDocuments: true,
		Retries:          1,
		RetryBackoff:     2 * time.Second,
		RequestTimeout:   60 * time.Second,
		TransformTimeout: 10 * time.Minute,
		MinFreeDiskMB:    256,
	}
}

// MaxFileSizeBytes 大小限制(字节),0表示不限制
func (c *DownloadConfig) MaxFileSizeBytes() int64 {
	if c.MaxFileSizeMB <= 0 {
		return 0
	}
	return int64(c.MaxFileSizeMB * 1024 * 1024)
}

// Validate 验证配置
func (c *DownloadConfig) Validate() error {
	if strings.TrimSpace(c.RootReference) == "" {
		return fmt.Errorf("必须指定根节点(URL或ref id)")
	}
	if c.DestinationRoot == "" {
		return fmt.Errorf("下载目录不能为空")
	}
	if c.Workers < 1 || c.Workers > 64 {
		return fmt.Errorf("并发数必须在1-64之间")
	}
	if c.MaxFileSizeMB < 0 {
		return fmt.Errorf("最大文件大小不能为负数")
	}
	if c.ReduceVideoFPS && (c.TargetFPS < 1 || c.TargetFPS > 60) {
		return fmt.Errorf("目标帧率必须在1-60之间")
	}
	if c.Retries < 0 || c.Retries > 5 {
		return fmt.Errorf("重试次数必须在0-5之间")
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("请求速率不能为负数")
	}
	return nil
}

// RunSummary 运行摘要
type RunSummary struct {
	RunID      string        `json:"run_id"`
	RootRefID  string        `json:"root_ref_id"`
	Total      int           `json:"total"`      // 清单中的任务数
	Completed  int           `json:"completed"`  // 成功下载
	Skipped    int           `json:"skipped"`    // 下载阶段跳过
	Failed     int           `json:"failed"`     // 失败
	Discovery  DiscoveryStat `json:"discovery"`  // 发现阶段统计
	TotalBytes int64         `json:"total_bytes"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Results    []TaskResult  `json:"-"`
}

// DiscoveryStat 发现阶段统计
type DiscoveryStat struct {
	Folders      int `json:"folders"`       // 展开的文件夹数
	Files        int `json:"files"`         // 入队的文件数
	SkippedSize  int `json:"skipped_size"`  // 因大小跳过
	SkippedType  int `json:"skipped_type"`  // 因类型跳过
	FetchFailed  int `json:"fetch_failed"`  // 列表页失败
	DuplicateRef int `json:"duplicate_ref"` // 重复ref id
}

// HasFailures 是否存在失败任务
func (s *RunSummary) HasFailures() bool {
	return s.Failed > 0 || s.Discovery.FetchFailed > 0
}

// Add 记录一个任务结果
func (s *RunSummary) Add(r TaskResult) {
	switch r.State {
	case TaskCompleted:
		s.Completed++
		s.TotalBytes += r.Bytes
	case TaskSkipped:
		s.Skipped++
	case TaskFailed:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}
