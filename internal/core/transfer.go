package core

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/crawlers"
	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// errTooLarge 下载时发现文件超过大小限制
var errTooLarge = errors.New("文件超过大小限制")

// Downloader 下载单个文件
type Downloader interface {
	// Download 把任务内容写入目标路径,返回实际写入的路径和字节数
	Download(ctx context.Context, task models.DownloadTask) (string, int64, error)
}

// PathReservation 发现阶段已分配给其他节点的路径
type PathReservation interface {
	IsReserved(path string) bool
}

// Transferer 基于net/http的流式下载器
// 先写入同目录下的临时文件,完整写入后再原子重命名
type Transferer struct {
	client   *http.Client
	headers  models.HeaderProvider
	limiter  *rate.Limiter
	maxBytes int64
	retries  int
	backoff  time.Duration
	reserved PathReservation
}

// NewTransferer 创建下载器
// limiter与列表页抓取共享,为nil时不限速
func NewTransferer(client *http.Client, headers models.HeaderProvider, limiter *rate.Limiter, config models.DownloadConfig) *Transferer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Transferer{
		client:   client,
		headers:  headers,
		limiter:  limiter,
		maxBytes: config.MaxFileSizeBytes(),
		retries:  config.Retries,
		backoff:  config.RetryBackoff,
	}
}

// SetReservedPaths 设置已分配路径,补全扩展名时不会占用其他节点的路径
func (t *Transferer) SetReservedPaths(r PathReservation) {
	t.reserved = r
}

// Download 下载文件,可重试的错误按退避时间重试
func (t *Transferer) Download(ctx context.Context, task models.DownloadTask) (string, int64, error) {
	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		if attempt > 0 {
			utils.Warnf("🔄 重试下载 [%s] (%d/%d): %v", task.Node.FileName(), attempt, t.retries, lastErr)
			select {
			case <-ctx.Done():
				return "", 0, ctx.Err()
			case <-time.After(t.backoff * time.Duration(attempt)):
			}
		}

		path, n, err := t.attempt(ctx, task)
		if err == nil {
			return path, n, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", 0, err
		}
		var te *models.TransferError
		if !errors.As(err, &te) || !te.Retryable() {
			return "", 0, err
		}
	}
	return "", 0, lastErr
}

// attempt 执行一次下载
func (t *Transferer) attempt(ctx context.Context, task models.DownloadTask) (string, int64, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return "", 0, err
		}
	}

	rawURL := task.Node.DownloadURL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("创建请求失败: %w", err)
	}
	if t.headers != nil {
		headers, err := t.headers.GetHeaders()
		if err != nil {
			return "", 0, err
		}
		for name, values := range headers {
			req.Header[name] = values
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", 0, &models.TransferError{URL: rawURL, Cause: err}
	}
	defer resp.Body.Close()

	if crawlers.IsLoginURL(resp.Request.URL) {
		return "", 0, &models.TransferError{URL: rawURL, Cause: models.ErrSessionRejected}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return "", 0, &models.TransferError{URL: rawURL, StatusCode: resp.StatusCode, Cause: models.ErrSessionRejected}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, &models.TransferError{URL: rawURL, StatusCode: resp.StatusCode, Cause: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	if t.maxBytes > 0 && resp.ContentLength > t.maxBytes {
		return "", 0, fmt.Errorf("%w: %s > %s", errTooLarge,
			utils.FormatBytes(resp.ContentLength), utils.FormatBytes(t.maxBytes))
	}

	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	body, err := decodeBody(encoding, resp.Body)
	if err != nil {
		return "", 0, &models.TransferError{URL: rawURL, Cause: err}
	}
	defer body.Close()

	dest := resolveDestination(task.Destination, resp.Header, t.reserved)
	expected := int64(-1)
	if encoding == "" || encoding == "identity" {
		expected = resp.ContentLength
	}

	n, err := t.writeFile(dest, rawURL, body, expected)
	if err != nil {
		return "", 0, err
	}
	return dest, n, nil
}

// fileWriter 记录写入端错误,用于区分网络读取失败和本地写入失败
type fileWriter struct {
	f   *os.File
	err error
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

// writeFile 流式写入临时文件后重命名到目标路径
// 任何失败都会删除临时文件,目标路径上不会留下不完整的文件
func (t *Transferer) writeFile(dest, rawURL string, body io.Reader, expected int64) (int64, error) {
	dir := filepath.Dir(dest)
	tmpPath := filepath.Join(dir, "."+filepath.Base(dest)+".part-"+uuid.New().String())

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return 0, &models.FilesystemError{Op: "create", Path: tmpPath, Cause: diskError(err)}
	}

	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	reader := body
	if t.maxBytes > 0 {
		reader = io.LimitReader(body, t.maxBytes+1)
	}

	fw := &fileWriter{f: f}
	n, err := io.Copy(fw, reader)
	if err != nil {
		if fw.err != nil {
			return 0, &models.FilesystemError{Op: "write", Path: dest, Cause: diskError(fw.err)}
		}
		return 0, &models.TransferError{URL: rawURL, Cause: err}
	}

	if t.maxBytes > 0 && n > t.maxBytes {
		return 0, fmt.Errorf("%w: 已超过 %s", errTooLarge, utils.FormatBytes(t.maxBytes))
	}
	if expected >= 0 && n != expected {
		return 0, &models.TransferError{
			URL:   rawURL,
			Cause: fmt.Errorf("%w: 期望%d字节,实际%d字节", io.ErrUnexpectedEOF, expected, n),
		}
	}

	if err := f.Sync(); err != nil {
		return 0, &models.FilesystemError{Op: "sync", Path: dest, Cause: diskError(err)}
	}
	if err := f.Close(); err != nil {
		return 0, &models.FilesystemError{Op: "close", Path: dest, Cause: diskError(err)}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		committed = true
		return 0, &models.FilesystemError{Op: "rename", Path: dest, Cause: err}
	}
	committed = true

	return n, nil
}

// decodeBody 根据Content-Encoding解压响应体
// 支持 gzip, deflate (zlib或裸deflate), br (Brotli)
func decodeBody(encoding string, body io.Reader) (io.ReadCloser, error) {
	switch encoding {
	case "", "identity":
		return io.NopCloser(body), nil

	case "gzip", "x-gzip":
		reader, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		return reader, nil

	case "deflate":
		// 服务端常把裸deflate标为deflate,按zlib头判断
		br := bufio.NewReader(body)
		header, _ := br.Peek(2)
		if len(header) == 2 && header[0]&0x0f == 8 && (uint16(header[0])<<8|uint16(header[1]))%31 == 0 {
			reader, err := zlib.NewReader(br)
			if err != nil {
				return nil, fmt.Errorf("deflate解压失败: %w", err)
			}
			return reader, nil
		}
		return flate.NewReader(br), nil

	case "br":
		return io.NopCloser(brotli.NewReader(body)), nil

	default:
		return nil, fmt.Errorf("不支持的Content-Encoding: %s", encoding)
	}
}

// resolveDestination 目标路径没有扩展名时,根据响应头补全
// 补全后的路径已分配给其他节点或已存在时保持原路径
func resolveDestination(dest string, header http.Header, reserved PathReservation) string {
	if filepath.Ext(dest) != "" {
		return dest
	}

	ext := ""
	if name := utils.FilenameFromContentDisposition(header.Get("Content-Disposition")); name != "" {
		ext = models.NormalizeExt(filepath.Ext(name))
	}
	if ext == "" {
		ext = utils.ExtensionFromContentType(header.Get("Content-Type"))
	}
	if ext == "" {
		return dest
	}

	candidate := dest + ext
	if reserved != nil && reserved.IsReserved(candidate) {
		return dest
	}
	if _, err := os.Stat(candidate); err == nil {
		return dest
	}
	utils.Debugf("根据响应头补全扩展名: %s", filepath.Base(candidate))
	return candidate
}

// diskError 磁盘已满时包装为ErrDiskFull
func diskError(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", models.ErrDiskFull, err)
	}
	return err
}
