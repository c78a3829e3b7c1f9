package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/RecoveryAshes/iliasdl/internal/core"
)

func TestCollectRoots(t *testing.T) {
	urlFile := filepath.Join(t.TempDir(), "courses.txt")
	content := "# Wintersemester\n4711\nhttps://ilias.example.edu/goto.php?target=crs_42\n\nnot a url\n"
	if err := os.WriteFile(urlFile, []byte(content), 0644); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	tests := []struct {
		name       string
		args       []string
		urlFile    string
		configured string
		want       int
		wantErr    bool
	}{
		{"位置参数", []string{"4711"}, "", "", 1, false},
		{"配置文件中的根节点", nil, "", "123", 1, false},
		{"URL文件", nil, urlFile, "", 2, false},
		{"参数与URL文件冲突", []string{"4711"}, urlFile, "", 0, true},
		{"URL文件不存在", nil, filepath.Join(t.TempDir(), "missing.txt"), "", 0, true},
		{"没有根节点", nil, "", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs, err := collectRoots(tt.args, tt.urlFile, tt.configured)
			if (err != nil) != tt.wantErr {
				t.Fatalf("collectRoots() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(refs) != tt.want {
				t.Errorf("得到 %d 个根节点 %v, want %d", len(refs), refs, tt.want)
			}
		})
	}
}

func TestBuildOverrides(t *testing.T) {
	if err := rootCmd.ParseFlags([]string{"--workers", "5", "--no-videos", "--no-convert=false"}); err != nil {
		t.Fatalf("解析参数失败: %v", err)
	}

	o := buildOverrides(rootCmd)
	if o.Workers == nil || *o.Workers != 5 {
		t.Errorf("workers覆盖错误: %v", o.Workers)
	}
	if o.DownloadVideos == nil || *o.DownloadVideos {
		t.Error("--no-videos应关闭视频下载")
	}
	if o.ConvertDocuments == nil || !*o.ConvertDocuments {
		t.Error("--no-convert=false应保持文档转换")
	}
	if o.TargetFPS != nil || o.BaseURL != nil {
		t.Error("未指定的参数不应覆盖配置")
	}
}

func TestRunDoctor(t *testing.T) {
	cfg := &core.Config{Tools: core.ToolsConfig{FFmpeg: "iliasdl-no-such-ffmpeg", Soffice: "iliasdl-no-such-soffice"}}
	cfg.Download.DestinationRoot = filepath.Join(t.TempDir(), "downloads")
	cfg.Session.File = filepath.Join(t.TempDir(), "cookies.json")

	if !runDoctor(context.Background(), cfg, core.NewResourceGuard(0)) {
		t.Error("缺少外部工具不应导致检查失败")
	}

	blocker := filepath.Join(t.TempDir(), "file")
	os.WriteFile(blocker, []byte("x"), 0644)
	cfg.Download.DestinationRoot = filepath.Join(blocker, "downloads")
	if runDoctor(context.Background(), cfg, core.NewResourceGuard(0)) {
		t.Error("下载目录不可写时应检查失败")
	}
}
