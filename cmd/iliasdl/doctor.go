package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/core"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "检查外部工具和下载目录",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if !runDoctor(ctx, appConfig, core.NewResourceGuard(appConfig.Download.MinFreeDiskMB)) {
			return fmt.Errorf("环境检查未通过")
		}
		return nil
	},
}

// runDoctor 打印环境检查结果
// 只有下载目录不可写时返回false; 缺少外部工具仅关闭对应的后处理
func runDoctor(ctx context.Context, cfg *core.Config, guard *core.ResourceGuard) bool {
	allOK := true

	fmt.Println("==================================================")
	fmt.Println("🩺 iliasdl 环境检查")
	fmt.Println("==================================================")
	fmt.Printf("✅ 操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	hints := map[string]string{
		"ffmpeg":  "视频降帧将被跳过 - 安装方法: https://ffmpeg.org/download.html",
		"soffice": "文档转换将被跳过 - 请安装LibreOffice",
	}
	for _, status := range core.CheckTools(ctx, cfg.Tools, nil) {
		if status.Available {
			fmt.Printf("✅ %s 已检测到: %s\n", status.Name, status.Path)
			if status.Version != "" {
				fmt.Printf("   %s\n", status.Version)
			}
			continue
		}
		fmt.Printf("⚠️  未检测到 %s (%s)\n", status.Name, status.Command)
		fmt.Printf("💡 提示: %s\n", hints[status.Name])
	}

	dest := cfg.Download.DestinationRoot
	if err := guard.CheckWritable(dest); err != nil {
		fmt.Printf("❌ 下载目录不可写: %v\n", err)
		allOK = false
	} else {
		fmt.Printf("✅ 下载目录可写: %s\n", dest)
	}

	if status, err := guard.DiskStatus(dest); err != nil {
		fmt.Printf("⚠️  无法获取磁盘信息: %v\n", err)
	} else {
		fmt.Printf("📦 磁盘剩余: %s / %s (已用 %.1f%%)\n",
			utils.FormatBytes(int64(status.Free)), utils.FormatBytes(int64(status.Total)), status.UsedPercent)
		if err := guard.CheckDiskSpace(dest); err != nil {
			fmt.Printf("⚠️  %v\n", err)
		}
	}

	if _, err := os.Stat(cfg.Session.File); err != nil {
		fmt.Printf("⚠️  会话文件不存在: %s\n", cfg.Session.File)
	} else {
		fmt.Printf("✅ 会话文件: %s\n", cfg.Session.File)
	}

	fmt.Println("==================================================")
	return allOK
}
