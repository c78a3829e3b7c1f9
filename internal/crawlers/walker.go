package crawlers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
)

// Manifest 发现阶段的完整结果
// 调度开始前必须完整枚举,路径冲突处理和总数统计都依赖它
type Manifest struct {
	Root    models.RootReference
	RootDir string
	Tasks   []models.DownloadTask
	Stats   models.DiscoveryStat
	// Paths 本次遍历分配的全部本地路径
	Paths *PathAllocator
}

// RootDir 根节点的本地目录: <destinationRoot>/ref_<id>
func RootDir(destinationRoot, rootRefID string) string {
	return filepath.Join(destinationRoot, "ref_"+rootRefID)
}

// Walker 内容树遍历器
// 单线程深度优先遍历,子节点按页面顺序处理
type Walker struct {
	fetcher ListingFetcher
	config  models.DownloadConfig
	sink    models.EventSink
	visited *VisitedSet
}

// NewWalker 创建遍历器
func NewWalker(fetcher ListingFetcher, config models.DownloadConfig, sink models.EventSink) *Walker {
	if sink == nil {
		sink = models.DiscardSink
	}
	return &Walker{
		fetcher: fetcher,
		config:  config,
		sink:    sink,
		visited: NewVisitedSet(),
	}
}

// Walk 从根节点开始遍历,返回下载清单
// 执行流程:
//  1. 获取根节点列表页(失败则整个遍历失败)
//  2. 弹出栈顶节点,重复的ref id直接跳过
//  3. 文件夹: 分配目录,获取列表页,子节点逆序入栈
//  4. 文件: 应用大小/类型过滤,分配路径,生成任务
//
// 非根文件夹获取失败只跳过该子树; 会话失效和context取消会终止遍历
func (w *Walker) Walk(ctx context.Context, root models.RootReference) (*Manifest, error) {
	startTime := time.Now()
	w.visited.Reset()

	manifest := &Manifest{
		Root:    root,
		RootDir: RootDir(w.config.DestinationRoot, root.RefID),
		Tasks:   make([]models.DownloadTask, 0),
	}

	utils.Infof("🔍 开始遍历内容树: ref_id=%s", root.RefID)

	rootNode := models.ContentNode{
		RefID:      root.RefID,
		Kind:       models.KindFolder,
		Name:       "ref_" + root.RefID,
		ListingURL: root.URL,
	}
	w.visited.MarkVisited(root.RefID)

	children, err := w.fetcher.FetchListing(ctx, rootNode)
	if err != nil {
		return nil, &models.FetchError{RefID: root.RefID, URL: root.URL, Cause: err}
	}
	manifest.Stats.Folders++

	alloc := NewPathAllocator()
	manifest.Paths = alloc
	stack := &walkStack{}
	stack.push(children, manifest.RootDir)

	for stack.len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item, _ := stack.pop()
		node := item.node

		if !w.visited.MarkVisited(node.RefID) {
			utils.Debugf("ref_id=%s 已访问,跳过 (%s)", node.RefID, node.Name)
			manifest.Stats.DuplicateRef++
			continue
		}

		if node.IsFolder() {
			if err := w.expandFolder(ctx, node, item.parentDir, alloc, stack, manifest); err != nil {
				return nil, err
			}
			continue
		}

		w.addFile(node, item.parentDir, alloc, manifest)
	}

	utils.Infof("✅ 遍历完成: 访问 %d 个节点, %d 个文件夹, %d 个文件待下载, 跳过 %d (大小) / %d (类型), 失败 %d, 耗时 %.2f秒",
		w.visited.Count(), manifest.Stats.Folders, manifest.Stats.Files,
		manifest.Stats.SkippedSize, manifest.Stats.SkippedType,
		manifest.Stats.FetchFailed, time.Since(startTime).Seconds())

	return manifest, nil
}

// expandFolder 展开子文件夹
// 只有系统性错误才返回error,普通获取失败记录后继续
func (w *Walker) expandFolder(ctx context.Context, node models.ContentNode, parentDir string, alloc *PathAllocator, stack *walkStack, manifest *Manifest) error {
	dir := alloc.AllocateDir(parentDir, node.Name)
	utils.Debugf("📂 展开文件夹: %s (ref_id=%s)", node.Name, node.RefID)

	children, err := w.fetcher.FetchListing(ctx, node)
	if err != nil {
		fetchErr := &models.FetchError{RefID: node.RefID, URL: node.ListingURL, Cause: err}
		if errors.Is(err, models.ErrSessionRejected) {
			return fetchErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		manifest.Stats.FetchFailed++
		w.sink.Record(models.NewEvent(node.RefID, models.OutcomeFailed, models.ReasonFetch, fetchErr.Error(), dir))
		return nil
	}

	manifest.Stats.Folders++
	stack.push(children, dir)
	return nil
}

// addFile 过滤文件节点,通过后加入清单
func (w *Walker) addFile(node models.ContentNode, parentDir string, alloc *PathAllocator, manifest *Manifest) {
	if reason, detail := w.filter(node); reason != models.ReasonNone {
		switch reason {
		case models.ReasonSize:
			manifest.Stats.SkippedSize++
		case models.ReasonType:
			manifest.Stats.SkippedType++
		}
		w.sink.Record(models.NewEvent(node.RefID, models.OutcomeSkipped, reason, detail, ""))
		return
	}

	withPDF := w.config.ConvertDocuments && models.IsOfficeExt(node.Extension())
	dest := alloc.AllocateFile(parentDir, node.FileName(), withPDF)

	task := models.NewDownloadTask(node, dest, len(manifest.Tasks))
	manifest.Tasks = append(manifest.Tasks, task)
	manifest.Stats.Files++

	w.sink.Record(models.NewEvent(node.RefID, models.OutcomeDiscovered, models.ReasonNone, node.Name, dest))
}

// filter 应用大小与类型过滤
// 未知大小不在发现阶段过滤,下载时再按实际大小检查
func (w *Walker) filter(node models.ContentNode) (models.Reason, string) {
	if limit := w.config.MaxFileSizeBytes(); limit > 0 && node.HasKnownSize() && node.SizeBytes > limit {
		return models.ReasonSize, fmt.Sprintf("%s: %s > %s",
			node.Name, utils.FormatBytes(node.SizeBytes), utils.FormatBytes(limit))
	}

	if !w.config.DownloadVideos && models.IsVideoExt(node.Extension()) {
		return models.ReasonType, fmt.Sprintf("%s: 视频下载已关闭", node.Name)
	}

	return models.ReasonNone, ""
}
