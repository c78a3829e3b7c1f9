package utils

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/models"
)

func TestBuildReport(t *testing.T) {
	started := time.Date(2024, 10, 1, 9, 30, 0, 0, time.UTC)
	task := func(refID, name string) models.DownloadTask {
		node := models.ContentNode{RefID: refID, Kind: models.KindFile, Name: name, DownloadURL: "https://ilias.example.edu/goto.php?target=file_" + refID + "_download"}
		return models.NewDownloadTask(node, filepath.Join("downloads", "ref_1", name), 0)
	}

	summary := &models.RunSummary{RunID: "run-1", RootRefID: "1", StartedAt: started, FinishedAt: started.Add(90 * time.Second)}
	summary.Add(models.Completed(task("11", "Blatt.docx"), "downloads/ref_1/Blatt.pdf", 2048))
	summary.Add(models.Skipped(task("12", "Skript.pdf"), models.ReasonExists, "downloads/ref_1/Skript.pdf"))
	summary.Add(models.Failed(task("13", "Folien.pdf"), models.ReasonHTTP, errors.New("HTTP 404")))

	report := BuildReport("https://ilias.example.edu/ilias.php?ref_id=1", summary, models.DefaultDownloadConfig(), "downloads", "downloads/logs/x.log")

	if report.Duration != 90 {
		t.Errorf("duration = %v, want 90", report.Duration)
	}
	if len(report.Downloaded) != 1 || report.Downloaded[0].FilePath != "downloads/ref_1/Blatt.pdf" {
		t.Errorf("下载列表应使用后处理后的路径: %+v", report.Downloaded)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].Reason != models.ReasonExists {
		t.Errorf("跳过列表错误: %+v", report.Skipped)
	}
	if len(report.Failed) != 1 || report.Failed[0].ErrorMsg != "HTTP 404" {
		t.Errorf("失败列表错误: %+v", report.Failed)
	}
}

func TestReporter_GenerateReport(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2024, 10, 1, 9, 30, 0, 0, time.UTC)
	summary := &models.RunSummary{RunID: "run-2", RootRefID: "4711", StartedAt: started, FinishedAt: started}
	report := BuildReport("https://ilias.example.edu", summary, models.DefaultDownloadConfig(), dir, "")

	path, err := NewReporter(dir).GenerateReport(report)
	if err != nil {
		t.Fatalf("GenerateReport() error = %v", err)
	}
	if want := filepath.Join(dir, "reports", "report_ref4711_20241001_093000.json"); path != want {
		t.Errorf("报告路径 = %s, want %s", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取报告失败: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("报告不是合法JSON: %v", err)
	}
	if decoded["run_id"] != "run-2" {
		t.Errorf("run_id = %v", decoded["run_id"])
	}
}
