package core

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/crawlers"
	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
	"golang.org/x/time/rate"
)

// Crawler 单个根节点的运行协调器
// 串联会话、遍历、下载、后处理、运行日志和报告
type Crawler struct {
	config  *Config
	session *SessionManager

	// runner 外部命令执行器 (nil时使用os/exec)
	runner CommandRunner

	// progressOut 进度条输出 (nil时输出到标准错误)
	progressOut io.Writer
}

// CrawlResult 单次运行的结果
type CrawlResult struct {
	Root       models.RootReference
	Summary    *models.RunSummary
	RunLogPath string
	ReportPath string
}

// NewCrawler 创建运行协调器
func NewCrawler(config *Config, session *SessionManager) *Crawler {
	return &Crawler{
		config:  config,
		session: session,
	}
}

// SetCommandRunner 替换外部命令执行器
func (c *Crawler) SetCommandRunner(runner CommandRunner) {
	c.runner = runner
}

// SetProgressWriter 设置进度条输出
func (c *Crawler) SetProgressWriter(w io.Writer) {
	c.progressOut = w
}

// Crawl 执行一次完整运行
// 执行流程:
//  1. 解析根节点,创建会话客户端和共享限速器
//  2. 打开运行日志
//  3. 遍历内容树,得到完整下载清单
//  4. 并发下载并执行后处理
//  5. 写入摘要和JSON报告
//
// 返回的error非nil表示运行被中止或根节点无法访问; 单个文件的失败只体现在摘要中
func (c *Crawler) Crawl(ctx context.Context, rootRef string) (*CrawlResult, error) {
	startedAt := time.Now()
	runID := models.NewRunID()
	dl := c.config.Download

	root, err := models.ParseRootReference(rootRef, dl.BaseURL)
	if err != nil {
		return nil, err
	}
	result := &CrawlResult{Root: root}

	restore := utils.WithRoot(root.RefID, runID)
	defer restore()

	utils.Infof("🚀 开始下载任务")
	utils.Infof("根节点: ref_id=%s (%s)", root.RefID, root.URL)
	utils.Infof("下载目录: %s", dl.DestinationRoot)

	client, err := c.session.NewHTTPClient(root.URL, dl.RequestTimeout)
	if err != nil {
		return nil, err
	}
	utils.Debugf("请求头部: %v", c.session.GetSafeHeaders())

	limiter := newLimiter(dl.RequestsPerSecond)

	runLog, err := utils.NewRunLog(c.config.LogDir(), root.RefID, startedAt)
	if err != nil {
		return nil, fmt.Errorf("创建运行日志失败: %w", err)
	}
	defer runLog.Close()
	result.RunLogPath = runLog.Path()

	guard := NewResourceGuard(dl.MinFreeDiskMB)
	guard.LogSystemInfo()

	fetcher := crawlers.NewCollyFetcher(client, c.session, limiter)
	walker := crawlers.NewWalker(fetcher, dl, runLog)

	manifest, err := walker.Walk(ctx, root)
	if err != nil {
		utils.Errorf("❌ 遍历失败: %v", err)
		return result, err
	}

	transferer := NewTransferer(client, c.session, limiter, dl)
	transferer.SetReservedPaths(manifest.Paths)
	pipeline := NewPipeline(dl, c.config.Tools, c.runner)
	orchestrator := NewOrchestrator(dl, transferer, pipeline, runLog, guard)
	if len(manifest.Tasks) > 0 {
		orchestrator.SetProgressBar(utils.NewProgressBar(len(manifest.Tasks), "📥 下载中", c.progressOut))
	}

	summary, runErr := orchestrator.Run(ctx, manifest.RootDir, manifest.Tasks)
	if summary == nil {
		return result, runErr
	}

	summary.RunID = runID
	summary.RootRefID = root.RefID
	summary.Discovery = manifest.Stats
	summary.StartedAt = startedAt
	result.Summary = summary

	runLog.WriteSummary(summary)

	report := utils.BuildReport(root.URL, summary, dl, dl.DestinationRoot, runLog.Path())
	if path, err := utils.NewReporter(dl.DestinationRoot).GenerateReport(report); err != nil {
		utils.Warnf("生成报告失败: %v", err)
	} else {
		result.ReportPath = path
	}

	printSummary(summary)
	return result, runErr
}

// newLimiter 请求速率限制, 0表示不限
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// printSummary 打印运行摘要
func printSummary(s *models.RunSummary) {
	utils.Info("==================================================")
	utils.Info("📊 下载摘要")
	utils.Info("==================================================")
	utils.Infof("📂 文件夹: %d", s.Discovery.Folders)
	utils.Infof("✅ 完成: %d", s.Completed)
	utils.Infof("⏭️  跳过: %d (发现阶段: 大小 %d / 类型 %d)", s.Skipped, s.Discovery.SkippedSize, s.Discovery.SkippedType)
	utils.Infof("❌ 失败: %d (列表页 %d)", s.Failed, s.Discovery.FetchFailed)
	utils.Infof("📦 总大小: %s", utils.FormatBytes(s.TotalBytes))
	utils.Infof("⏱️  总耗时: %.2f秒", s.FinishedAt.Sub(s.StartedAt).Seconds())
	utils.Info("==================================================")
}
