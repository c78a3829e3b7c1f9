package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// PostProcessor 下载完成后的文件处理
type PostProcessor interface {
	Process(ctx context.Context, refID, path, originalExt string) (string, []models.Event)
}

// Orchestrator 下载调度器
// 固定数量的worker从任务通道取任务,每个任务恰好产生一个结果
type Orchestrator struct {
	config     models.DownloadConfig
	downloader Downloader
	pipeline   PostProcessor
	sink       models.EventSink
	guard      StorageGuard
	names      *nameIndex

	bar   *progressbar.ProgressBar
	done  atomic.Int64
	total atomic.Int64
}

// job 带遍历序号的任务
type job struct {
	index int
	task  models.DownloadTask
}

// NewOrchestrator 创建调度器, pipeline与guard可以为nil
func NewOrchestrator(config models.DownloadConfig, downloader Downloader, pipeline PostProcessor, sink models.EventSink, guard StorageGuard) *Orchestrator {
	if sink == nil {
		sink = models.DiscardSink
	}
	return &Orchestrator{
		config:     config,
		downloader: downloader,
		pipeline:   pipeline,
		sink:       sink,
		guard:      guard,
	}
}

// SetProgressBar 设置进度条
func (o *Orchestrator) SetProgressBar(bar *progressbar.ProgressBar) {
	o.bar = bar
}

// Progress 返回已处理任务数和总数
func (o *Orchestrator) Progress() (done, total int) {
	return int(o.done.Load()), int(o.total.Load())
}

// Run 执行全部下载任务
// 执行流程:
//  1. 检查根目录可写
//  2. 启动worker并按遍历顺序分发任务
//  3. 会话失效或磁盘已满时取消剩余任务
//  4. 没有结果的任务记为cancelled,按遍历顺序汇总
//
// 返回的摘要总是完整的; error非nil表示运行被中止
func (o *Orchestrator) Run(ctx context.Context, rootDir string, tasks []models.DownloadTask) (*models.RunSummary, error) {
	workers := o.config.Workers
	if workers < 1 {
		workers = 1
	}

	summary := &models.RunSummary{Total: len(tasks), StartedAt: time.Now()}
	o.done.Store(0)
	o.total.Store(int64(len(tasks)))

	if o.guard != nil {
		if err := o.guard.CheckWritable(rootDir); err != nil {
			utils.Errorf("❌ 下载目录不可写: %v", err)
			return nil, err
		}
		if err := o.guard.CheckDiskSpace(rootDir); err != nil {
			return nil, err
		}
	}

	names, err := loadNameIndex(rootDir)
	if err != nil {
		utils.Warnf("⚠️  %v, 无扩展名文件将重新下载", err)
	}
	o.names = names

	utils.Infof("📥 开始下载: %d 个文件, %d 个并发", len(tasks), workers)

	results := make([]*models.TaskResult, len(tasks))
	jobs := make(chan job)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i, task := range tasks {
			select {
			case jobs <- job{index: i, task: task}:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for j := range jobs {
				res, err := o.process(gctx, j.task)
				results[j.index] = &res
				o.advance()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	runErr := g.Wait()
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	for i, res := range results {
		if res == nil {
			r := o.fail(tasks[i], models.ReasonCancelled, context.Canceled)
			res = &r
		}
		summary.Add(*res)
	}
	summary.FinishedAt = time.Now()

	if o.bar != nil {
		o.bar.Finish()
	}

	if runErr != nil {
		utils.Errorf("❌ 下载被中止: %v", runErr)
	}
	utils.Infof("✅ 下载结束: 完成 %d, 跳过 %d, 失败 %d, 共 %s",
		summary.Completed, summary.Skipped, summary.Failed, utils.FormatBytes(summary.TotalBytes))

	return summary, runErr
}

// process 处理单个任务
// 返回的error只用于会话失效、磁盘已满这类需要中止整个运行的错误
func (o *Orchestrator) process(ctx context.Context, task models.DownloadTask) (models.TaskResult, error) {
	start := time.Now()
	refID := task.Node.RefID

	if err := ctx.Err(); err != nil {
		return o.fail(task, models.ReasonCancelled, err), nil
	}

	dir := filepath.Dir(task.Destination)
	if err := os.MkdirAll(dir, 0755); err != nil {
		fsErr := &models.FilesystemError{Op: "mkdir", Path: dir, Cause: diskError(err)}
		if errors.Is(fsErr, models.ErrDiskFull) {
			return o.fail(task, models.ReasonFilesystem, fsErr), fsErr
		}
		return o.fail(task, models.ReasonFilesystem, fsErr), nil
	}

	if !o.config.OverwriteExisting {
		if existing, ok := o.existingOutput(task); ok {
			return o.skip(task, models.ReasonExists, existing), nil
		}
	}

	if o.guard != nil {
		if err := o.guard.CheckDiskSpace(dir); err != nil {
			return o.fail(task, models.ReasonFilesystem, err), err
		}
	}

	o.sink.Record(models.NewEvent(refID, models.OutcomeStarted, models.ReasonNone, task.Node.DownloadURL, task.Destination))
	utils.Debugf("⬇️  开始下载: %s", task.Destination)

	path, n, err := o.downloader.Download(ctx, task)
	if err != nil {
		return o.classify(ctx, task, err)
	}

	o.sink.Record(models.NewEvent(refID, models.OutcomeCompleted, models.ReasonNone, utils.FormatBytes(n), path))

	finalPath := path
	if o.pipeline != nil {
		var events []models.Event
		finalPath, events = o.pipeline.Process(ctx, refID, path, task.OriginalExt)
		for _, ev := range events {
			o.sink.Record(ev)
		}
	}

	if filepath.Ext(task.Destination) == "" && finalPath != task.Destination {
		if err := o.names.Record(task.Destination, finalPath); err != nil {
			utils.Warnf("⚠️  %v", err)
		}
	}

	utils.Infof("✅ %s (%s)", filepath.Base(finalPath), utils.FormatBytes(n))
	res := models.Completed(task, finalPath, n)
	res.Duration = time.Since(start)
	return res, nil
}

// classify 把下载错误映射为任务结果
func (o *Orchestrator) classify(ctx context.Context, task models.DownloadTask, err error) (models.TaskResult, error) {
	var fsErr *models.FilesystemError
	var te *models.TransferError

	switch {
	case errors.Is(err, errTooLarge):
		return o.skip(task, models.ReasonSize, err.Error()), nil
	case ctx.Err() != nil:
		return o.fail(task, models.ReasonCancelled, ctx.Err()), nil
	case errors.Is(err, models.ErrSessionRejected):
		return o.fail(task, models.ReasonHTTP, err), err
	case errors.Is(err, models.ErrDiskFull):
		return o.fail(task, models.ReasonFilesystem, err), err
	case errors.As(err, &fsErr):
		return o.fail(task, models.ReasonFilesystem, err), nil
	case errors.As(err, &te) && te.StatusCode == 0 && errors.Is(err, io.ErrUnexpectedEOF):
		return o.fail(task, models.ReasonTransfer, err), nil
	default:
		return o.fail(task, models.ReasonHTTP, err), nil
	}
}

// existingOutput 查找任务已有的输出文件
// 包括原始路径、转换后的PDF,以及无扩展名任务上次记录的实际文件
func (o *Orchestrator) existingOutput(task models.DownloadTask) (string, bool) {
	candidates := []string{task.Destination}
	if o.config.ConvertDocuments && models.IsOfficeExt(task.OriginalExt) {
		candidates = append(candidates, task.ConvertedPath())
	}
	if filepath.Ext(task.Destination) == "" {
		if recorded, ok := o.names.Lookup(task.Destination); ok {
			candidates = append(candidates, recorded)
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

func (o *Orchestrator) skip(task models.DownloadTask, reason models.Reason, detail string) models.TaskResult {
	o.sink.Record(models.NewEvent(task.Node.RefID, models.OutcomeSkipped, reason, detail, task.Destination))
	utils.Debugf("⏭️  跳过 [%s] %s: %s", reason, filepath.Base(task.Destination), detail)
	return models.Skipped(task, reason, detail)
}

func (o *Orchestrator) fail(task models.DownloadTask, reason models.Reason, err error) models.TaskResult {
	o.sink.Record(models.NewEvent(task.Node.RefID, models.OutcomeFailed, reason, errorDetail(err), task.Destination))
	return models.Failed(task, reason, err)
}

func (o *Orchestrator) advance() {
	o.done.Add(1)
	if o.bar != nil {
		o.bar.Add(1)
	}
}

func errorDetail(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprint(err)
}
