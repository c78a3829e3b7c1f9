package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/config"
	"github.com/RecoveryAshes/iliasdl/internal/core"
	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// errTasksFailed 有任务失败时以非零状态退出
var errTasksFailed = errors.New("部分任务失败")

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string
	logDir     string

	// 会话参数
	sessionFile    string
	headers        []string // 自定义HTTP请求头
	validateConfig bool     // 验证配置与会话文件

	// 下载参数
	urlFile     string
	baseURL     string
	destination string
	maxSizeMB   float64
	workers     int
	overwrite   bool
	noVideos    bool
	keepFPS     bool
	targetFPS   int
	noConvert   bool
	keepOrig    bool
	retries     int
	rps         float64

	// 批量处理参数
	batchDelay      int
	continueOnError bool
)

// appConfig 在PersistentPreRunE中加载,已合并命令行参数
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "iliasdl [课程URL|ref_id]",
	Short: "ILIAS课程资料下载工具",
	Long: `iliasdl - ILIAS课程内容树下载工具

从一个课程或文件夹开始遍历整个内容树,按门户中的层级结构下载所有文件:
  • 使用浏览器导出的会话cookie访问
  • 并发下载,已存在的文件自动跳过
  • Office文档自动转换为PDF (LibreOffice)
  • 视频降帧压缩 (ffmpeg)
  • 批量处理多个课程

示例:
  # 下载一个课程
  iliasdl "https://ilias.example.edu/ilias.php?baseClass=ilrepositorygui&ref_id=4711"

  # 使用纯数字ref id
  iliasdl 4711 --base-url https://ilias.example.edu

  # 不下载视频,保留原始文档
  iliasdl 4711 --no-videos --keep-original

  # 批量处理
  iliasdl --url-file courses.txt --batch-delay 5

  # 验证会话文件
  iliasdl --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	Args:    cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 加载配置
		cfg, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		// 命令行参数覆盖配置文件
		cfg.ApplyOverrides(buildOverrides(cmd))
		appConfig = cfg

		if err := utils.InitLogger(cfg.LogConfig()); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		if verbose {
			utils.Info("详细模式已启用")
		}

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// 设置信号处理(Ctrl+C取消上下文,进行中的传输会清理临时文件)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		go func() {
			select {
			case sig := <-sigChan:
				utils.Warnf("收到中断信号: %v, 正在优雅关闭...", sig)
				cancel()
			case <-ctx.Done():
			}
		}()

		// 如果用户请求验证配置
		if validateConfig {
			return runValidateConfig(appConfig)
		}

		refs, err := collectRoots(args, urlFile, appConfig.Download.RootReference)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			return cmd.Help()
		}

		// 校验时以第一个根节点代表整批
		appConfig.Download.RootReference = refs[0]
		if err := appConfig.Validate(); err != nil {
			return fmt.Errorf("配置无效: %w", err)
		}

		session, err := newSession(appConfig)
		if err != nil {
			return err
		}

		crawler := core.NewCrawler(appConfig, session)

		// 批量处理模式
		if len(refs) > 1 || urlFile != "" {
			batchCrawler := core.NewBatchCrawler(crawler, time.Duration(batchDelay)*time.Second, continueOnError)
			summary, err := batchCrawler.CrawlBatch(ctx, refs)
			if err != nil {
				return fmt.Errorf("批量下载中止: %w", err)
			}
			if summary.FailCount > 0 {
				return errTasksFailed
			}
			utils.Info("✨ 批量下载任务完成!")
			return nil
		}

		// 单根节点模式
		result, err := crawler.Crawl(ctx, refs[0])
		if err != nil {
			if errors.Is(err, models.ErrSessionRejected) {
				utils.Info("💡 提示: 会话已失效, 请从浏览器重新导出cookie")
			}
			return fmt.Errorf("下载失败: %w", err)
		}
		if result.Summary != nil && result.Summary.HasFailures() {
			return errTasksFailed
		}

		utils.Info("✨ 下载任务完成!")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("iliasdl %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

// newSession 创建会话管理器
// 会话文件不存在时生成模板并返回错误
func newSession(cfg *core.Config) (*core.SessionManager, error) {
	loader := config.NewSessionLoader(cfg.Session.File)
	created, err := loader.EnsureExists()
	if err != nil {
		return nil, err
	}
	if created {
		utils.Warnf("⚠️  未找到会话文件, 已生成模板: %s", loader.Path())
		utils.Info("💡 提示: 登录ILIAS后从浏览器导出cookie (至少包含PHPSESSID) 并写入该文件")
		return nil, fmt.Errorf("会话文件为空模板: %s", loader.Path())
	}

	session, err := core.NewSessionManager(loader.Path(), headers)
	if err != nil {
		return nil, fmt.Errorf("创建会话管理器失败: %w", err)
	}
	return session, nil
}

// buildOverrides 只收集用户显式指定的参数
func buildOverrides(cmd *cobra.Command) core.Overrides {
	flags := cmd.Flags()
	var o core.Overrides

	if flags.Changed("base-url") {
		o.BaseURL = &baseURL
	}
	if flags.Changed("output") {
		o.DestinationRoot = &destination
	}
	if flags.Changed("max-size") {
		o.MaxFileSizeMB = &maxSizeMB
	}
	if flags.Changed("workers") {
		o.Workers = &workers
	}
	if flags.Changed("overwrite") {
		o.OverwriteExisting = &overwrite
	}
	if flags.Changed("no-videos") {
		v := !noVideos
		o.DownloadVideos = &v
	}
	if flags.Changed("keep-video-fps") {
		v := !keepFPS
		o.ReduceVideoFPS = &v
	}
	if flags.Changed("target-fps") {
		o.TargetFPS = &targetFPS
	}
	if flags.Changed("no-convert") {
		v := !noConvert
		o.ConvertDocuments = &v
	}
	if flags.Changed("keep-original") {
		o.KeepOriginal = &keepOrig
	}
	if flags.Changed("retries") {
		o.Retries = &retries
	}
	if flags.Changed("rps") {
		o.RequestsPerSecond = &rps
	}
	if flags.Changed("session") {
		o.SessionFile = &sessionFile
	}
	if flags.Changed("log-level") {
		o.LogLevel = &logLevel
	}
	if flags.Changed("log-dir") {
		o.LogDir = &logDir
	}
	return o
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "日志目录 (默认: <下载目录>/logs)")
	rootCmd.PersistentFlags().StringVarP(&destination, "output", "o", "downloads", "下载根目录")

	// 会话参数
	rootCmd.PersistentFlags().StringVarP(&sessionFile, "session", "s", config.DefaultSessionFile, "会话cookie文件")
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.Flags().BoolVar(&validateConfig, "validate-config", false, "验证配置和会话文件")

	// 下载参数
	rootCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含课程URL或ref id列表的文件")
	rootCmd.Flags().StringVar(&baseURL, "base-url", "", "门户地址 (根节点为纯数字ref id时必需)")
	rootCmd.Flags().Float64Var(&maxSizeMB, "max-size", 0, "最大文件大小(MB), 0表示不限制")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 3, "并发下载数 (1-64)")
	rootCmd.Flags().BoolVar(&overwrite, "overwrite", false, "覆盖已存在的文件")
	rootCmd.Flags().BoolVar(&noVideos, "no-videos", false, "不下载视频")
	rootCmd.Flags().BoolVar(&keepFPS, "keep-video-fps", false, "不对视频降帧")
	rootCmd.Flags().IntVar(&targetFPS, "target-fps", 1, "视频目标帧率 (1-60)")
	rootCmd.Flags().BoolVar(&noConvert, "no-convert", false, "不将Office文档转换为PDF")
	rootCmd.Flags().BoolVar(&keepOrig, "keep-original", false, "转换后保留原始文档")
	rootCmd.Flags().IntVar(&retries, "retries", 1, "传输失败重试次数 (0-5)")
	rootCmd.Flags().Float64Var(&rps, "rps", 0, "每秒最大请求数, 0表示不限")

	// 批量处理参数
	rootCmd.Flags().IntVar(&batchDelay, "batch-delay", 1, "批量处理根节点间延迟(秒)")
	rootCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "遇到错误继续处理")

	// 添加子命令
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(doctorCmd)
}

func main() {
	err := rootCmd.Execute()
	utils.CloseLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
