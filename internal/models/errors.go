package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionRejected 会话被门户拒绝(跳转到登录页或401)
	ErrSessionRejected = errors.New("会话已失效,门户要求重新登录")

	// ErrDestinationUnwritable 下载根目录不可写
	ErrDestinationUnwritable = errors.New("下载目录不可写")

	// ErrDiskFull 磁盘空间不足
	ErrDiskFull = errors.New("磁盘空间不足")

	// ErrToolUnavailable 外部工具不可用
	ErrToolUnavailable = errors.New("外部工具不可用")
)

// FetchError 列表页获取或解析失败
// 对应子树被跳过,兄弟节点继续
type FetchError struct {
	RefID string
	URL   string
	Cause error
}

// Error 实现error接口
func (e *FetchError) Error() string {
	return fmt.Sprintf("获取列表页失败 [ref=%s, %s]: %v", e.RefID, e.URL, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// TransferError 文件内容下载失败或被截断
type TransferError struct {
	URL        string
	StatusCode int // 0表示传输层错误
	Cause      error
}

// Error 实现error接口
func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("下载失败 [%s]: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("下载失败 [%s]: %v", e.URL, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *TransferError) Unwrap() error {
	return e.Cause
}

// Retryable 是否值得重试(传输错误、5xx、429)
func (e *TransferError) Retryable() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Cause, ErrSessionRejected)
	}
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// ConversionError 文档转换失败(原文件保留)
type ConversionError struct {
	Path  string
	Cause error
}

// Error 实现error接口
func (e *ConversionError) Error() string {
	return fmt.Sprintf("文档转换失败 [%s]: %v", e.Path, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *ConversionError) Unwrap() error {
	return e.Cause
}

// TranscodeError 视频转码失败(原文件保留)
type TranscodeError struct {
	Path  string
	Cause error
}

// Error 实现error接口
func (e *TranscodeError) Error() string {
	return fmt.Sprintf("视频转码失败 [%s]: %v", e.Path, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *TranscodeError) Unwrap() error {
	return e.Cause
}

// FilesystemError 本地文件系统错误
type FilesystemError struct {
	Op    string
	Path  string
	Cause error
}

// Error 实现error接口
func (e *FilesystemError) Error() string {
	return fmt.Sprintf("文件系统错误 [%s %s]: %v", e.Op, e.Path, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *FilesystemError) Unwrap() error {
	return e.Cause
}
