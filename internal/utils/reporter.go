package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter 报告生成器
type Reporter struct {
	outputDir string
}

// NewReporter 创建报告生成器
// outputDir 为下载根目录,报告写入其下的 reports/ 子目录
func NewReporter(outputDir string) *Reporter {
	return &Reporter{
		outputDir: outputDir,
	}
}

// ReportFileName 报告文件名: report_ref<id>_<时间戳>.json
func ReportFileName(rootRefID string, startedAt time.Time) string {
	return fmt.Sprintf("report_ref%s_%s.json", rootRefID, startedAt.Format(RunTimestampLayout))
}

// BuildReport 由运行摘要构造报告
func BuildReport(rootURL string, summary *models.RunSummary, config models.DownloadConfig, outputDir, runLogPath string) *models.RunReport {
	report := &models.RunReport{
		RunID:      summary.RunID,
		RootURL:    rootURL,
		RootRefID:  summary.RootRefID,
		StartTime:  summary.StartedAt,
		EndTime:    summary.FinishedAt,
		Duration:   summary.FinishedAt.Sub(summary.StartedAt).Seconds(),
		Summary:    *summary,
		Downloaded: make([]models.FileInfo, 0),
		Skipped:    make([]models.SkippedInfo, 0),
		Failed:     make([]models.FailedFileInfo, 0),
		OutputDir:  outputDir,
		RunLogPath: runLogPath,
		Config:     config,
	}

	for _, r := range summary.Results {
		switch r.State {
		case models.TaskCompleted:
			report.Downloaded = append(report.Downloaded, models.FileInfo{
				RefID:        r.Task.Node.RefID,
				URL:          r.Task.Node.DownloadURL,
				FilePath:     r.FinalPath,
				Size:         r.Bytes,
				DownloadedAt: summary.FinishedAt,
			})
		case models.TaskSkipped:
			report.Skipped = append(report.Skipped, models.SkippedInfo{
				RefID:    r.Task.Node.RefID,
				FilePath: r.Task.Destination,
				Reason:   r.Reason,
			})
		case models.TaskFailed:
			report.Failed = append(report.Failed, models.FailedFileInfo{
				RefID:     r.Task.Node.RefID,
				URL:       r.Task.Node.DownloadURL,
				FilePath:  r.Task.Destination,
				ErrorType: r.Reason,
				ErrorMsg:  r.Detail,
			})
		}
	}

	return report
}

// GenerateReport 生成运行报告,返回报告文件路径
func (r *Reporter) GenerateReport(report *models.RunReport) (string, error) {
	reportsDir := filepath.Join(r.outputDir, "reports")
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	path := filepath.Join(reportsDir, ReportFileName(report.RootRefID, report.StartTime))
	if err := r.saveJSONReport(path, report); err != nil {
		return "", err
	}

	Infof("✅ 报告已生成: %s", path)
	return path, nil
}

// saveJSONReport 保存JSON报告
func (r *Reporter) saveJSONReport(path string, data interface{}) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return nil
}

// NewProgressBar 创建进度条
// writer 为nil时输出到标准错误
func NewProgressBar(max int, description string, writer io.Writer) *progressbar.ProgressBar {
	if writer == nil {
		writer = os.Stderr
	}
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
