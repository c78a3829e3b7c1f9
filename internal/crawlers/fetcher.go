package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

// ListingFetcher 获取并解析文件夹列表页
type ListingFetcher interface {
	// FetchListing 返回文件夹的子节点(页面顺序)
	// 会话失效时返回的错误包装 models.ErrSessionRejected
	FetchListing(ctx context.Context, folder models.ContentNode) ([]models.ContentNode, error)
}

// CollyFetcher 基于Colly的列表页获取器
// Colly以同步模式运行,同一时刻只处理一个列表页
type CollyFetcher struct {
	collector      *colly.Collector
	headerProvider models.HeaderProvider
	limiter        *rate.Limiter

	mu sync.Mutex

	// 当前请求的结果,由回调填充
	parentRefID string
	nodes       []models.ContentNode
	pageErr     error
}

// NewCollyFetcher 创建列表页获取器
// client 携带会话cookie,limiter 为nil时不限速
func NewCollyFetcher(client *http.Client, headerProvider models.HeaderProvider, limiter *rate.Limiter) *CollyFetcher {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)

	// 使用共享客户端,列表页与文件下载共用同一个cookie jar
	if client != nil {
		c.SetClient(client)
	}

	f := &CollyFetcher{
		collector:      c,
		headerProvider: headerProvider,
		limiter:        limiter,
	}
	f.setupCallbacks()

	return f
}

// setupCallbacks 设置Colly回调
func (f *CollyFetcher) setupCallbacks() {
	f.collector.OnRequest(func(r *colly.Request) {
		if f.headerProvider == nil {
			return
		}
		headers, err := f.headerProvider.GetHeaders()
		if err != nil {
			utils.Warnf("获取HTTP头部失败: %v", err)
			return
		}
		for name, values := range headers {
			// 压缩由Go的Transport透明处理,手动设置会导致响应体不被解压
			if http.CanonicalHeaderKey(name) == "Accept-Encoding" {
				continue
			}
			if len(values) > 0 {
				r.Headers.Set(name, values[0])
			}
		}
		utils.Debugf("访问列表页: %s", r.URL.String())
	})

	f.collector.OnHTML("html", func(e *colly.HTMLElement) {
		if IsLoginPage(e.DOM, e.Request.URL) {
			f.pageErr = models.ErrSessionRejected
			return
		}
		f.nodes = ParseListing(e.DOM, e.Request.URL, f.parentRefID)
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		// 403 表示单个对象无权限,只有401才说明会话失效
		if r != nil && r.StatusCode == http.StatusUnauthorized {
			f.pageErr = fmt.Errorf("HTTP %d: %w", r.StatusCode, models.ErrSessionRejected)
			return
		}
		if r != nil && r.StatusCode != 0 {
			f.pageErr = fmt.Errorf("HTTP %d: %w", r.StatusCode, err)
			return
		}
		f.pageErr = err
	})
}

// FetchListing 获取文件夹列表页并解析子节点
func (f *CollyFetcher) FetchListing(ctx context.Context, folder models.ContentNode) ([]models.ContentNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	f.parentRefID = folder.RefID
	f.nodes = nil
	f.pageErr = nil

	visitErr := f.collector.Visit(folder.ListingURL)

	if f.pageErr != nil {
		return nil, f.pageErr
	}
	if visitErr != nil {
		return nil, visitErr
	}
	if f.nodes == nil {
		// 没有触发OnHTML: 响应不是HTML
		return nil, errors.New("响应不是HTML列表页")
	}
	return f.nodes, nil
}
