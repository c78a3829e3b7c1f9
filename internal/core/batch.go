package core

import (
	"context"
	"errors"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
)

// RootRunner 执行单个根节点的下载
type RootRunner interface {
	Crawl(ctx context.Context, rootRef string) (*CrawlResult, error)
}

// BatchCrawler 批量下载器
// 按顺序处理多个根节点,根节点之间可以设置间隔
type BatchCrawler struct {
	runner        RootRunner
	batchDelay    time.Duration
	continueOnErr bool
}

// BatchResult 单个根节点的结果
type BatchResult struct {
	Reference   string
	Success     bool
	Error       error
	Summary     *models.RunSummary
	ProcessedAt time.Time
	Duration    float64
}

// BatchSummary 批量下载摘要
type BatchSummary struct {
	TotalRoots    int
	SuccessCount  int
	FailCount     int
	TotalFiles    int
	TotalSize     int64
	TotalDuration float64
	Results       []BatchResult
}

// NewBatchCrawler 创建批量下载器
func NewBatchCrawler(runner RootRunner, batchDelay time.Duration, continueOnErr bool) *BatchCrawler {
	return &BatchCrawler{
		runner:        runner,
		batchDelay:    batchDelay,
		continueOnErr: continueOnErr,
	}
}

// CrawlBatch 批量处理根节点列表
// 根节点有失败任务也算失败; 会话失效时总是中止
func (bc *BatchCrawler) CrawlBatch(ctx context.Context, refs []string) (*BatchSummary, error) {
	utils.Infof("🚀 开始批量下载: %d个根节点", len(refs))

	summary := &BatchSummary{
		TotalRoots: len(refs),
		Results:    make([]BatchResult, 0, len(refs)),
	}
	startTime := time.Now()

	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			summary.TotalDuration = time.Since(startTime).Seconds()
			bc.printSummary(summary)
			return summary, err
		}

		utils.Infof("==================== [%d/%d] ====================", i+1, len(refs))
		utils.Infof("根节点: %s", ref)

		result := bc.crawlSingle(ctx, ref)
		summary.Results = append(summary.Results, result)

		if result.Summary != nil {
			summary.TotalFiles += result.Summary.Completed
			summary.TotalSize += result.Summary.TotalBytes
		}

		if result.Success {
			summary.SuccessCount++
		} else {
			summary.FailCount++
			utils.Errorf("❌ 根节点处理失败 [%s]: %v", ref, result.Error)

			if errors.Is(result.Error, models.ErrSessionRejected) {
				utils.Warn("会话已失效,批量下载中止")
				break
			}
			if !bc.continueOnErr {
				utils.Warn("批量下载中止 (--continue-on-error=false)")
				break
			}
		}

		if i < len(refs)-1 && bc.batchDelay > 0 {
			utils.Debugf("等待 %.0f 秒后处理下一个根节点...", bc.batchDelay.Seconds())
			select {
			case <-ctx.Done():
			case <-time.After(bc.batchDelay):
			}
		}
	}

	summary.TotalDuration = time.Since(startTime).Seconds()
	bc.printSummary(summary)
	return summary, ctx.Err()
}

// crawlSingle 处理单个根节点
func (bc *BatchCrawler) crawlSingle(ctx context.Context, ref string) BatchResult {
	result := BatchResult{
		Reference:   ref,
		ProcessedAt: time.Now(),
	}
	startTime := time.Now()

	res, err := bc.runner.Crawl(ctx, ref)
	if res != nil {
		result.Summary = res.Summary
	}
	result.Duration = time.Since(startTime).Seconds()

	switch {
	case err != nil:
		result.Error = err
	case result.Summary != nil && result.Summary.HasFailures():
		result.Error = errors.New("部分文件下载失败")
	default:
		result.Success = true
	}
	return result
}

// printSummary 打印批量下载摘要
func (bc *BatchCrawler) printSummary(summary *BatchSummary) {
	utils.Info("==================================================")
	utils.Info("📊 批量下载摘要")
	utils.Info("==================================================")
	utils.Infof("根节点数: %d", summary.TotalRoots)
	utils.Infof("✅ 成功: %d", summary.SuccessCount)
	utils.Infof("❌ 失败: %d", summary.FailCount)
	utils.Infof("📦 下载文件数: %d", summary.TotalFiles)
	utils.Infof("📦 总大小: %s", utils.FormatBytes(summary.TotalSize))
	utils.Infof("⏱️  总耗时: %.2f秒", summary.TotalDuration)
	utils.Info("==================================================")

	if summary.FailCount > 0 {
		utils.Warn("失败的根节点:")
		for _, result := range summary.Results {
			if !result.Success {
				utils.Warnf("  - %s: %v", result.Reference, result.Error)
			}
		}
	}
}
