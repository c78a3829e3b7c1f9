package models

import (
	"fmt"
	"net/http"
	"strings"
)

// Cookie 会话cookie条目
// 与浏览器扩展导出的cookies.json格式兼容
type Cookie struct {
	Name   string `mapstructure:"name" json:"name" yaml:"name"`
	Value  string `mapstructure:"value" json:"value" yaml:"value"`
	Domain string `mapstructure:"domain" json:"domain,omitempty" yaml:"domain,omitempty"`
	Path   string `mapstructure:"path" json:"path,omitempty" yaml:"path,omitempty"`
}

// SessionConfig 会话文件的结构
// 包含已认证的cookie和可选的自定义HTTP头部
type SessionConfig struct {
	// Cookies 已登录会话的cookie
	Cookies []Cookie `mapstructure:"cookies" json:"cookies" yaml:"cookies"`

	// Headers 自定义HTTP头部 (键值对)
	Headers map[string]string `mapstructure:"headers" json:"headers" yaml:"headers"`
}

// CliHeaders 表示命令行传递的头部列表
// 每个字符串格式为 "Name: Value"
type CliHeaders []string

// Parse 将字符串列表解析为 http.Header
func (ch CliHeaders) Parse() (http.Header, error) {
	result := make(http.Header)
	for i, s := range ch {
		name, value, err := parseHeaderString(s)
		if err != nil {
			return nil, fmt.Errorf("参数 --header 第%d项格式错误: %w", i+1, err)
		}
		result.Set(name, value)
	}
	return result, nil
}

// parseHeaderString 解析单个头部字符串 "Name: Value"
func parseHeaderString(s string) (name, value string, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("格式错误: 缺少冒号分隔符,应为 'Name: Value'")
	}

	name = strings.TrimSpace(parts[0])
	value = strings.TrimSpace(parts[1])

	if name == "" {
		return "", "", fmt.Errorf("头部名称不能为空")
	}

	return name, value, nil
}

// HeaderProvider 定义HTTP头部提供者接口
// 列表页抓取与文件下载都通过它获取请求头
type HeaderProvider interface {
	// GetHeaders 返回已按优先级合并的头部(默认 < 会话文件 < 命令行)
	GetHeaders() (http.Header, error)
}

// ValidationError 头部或cookie验证错误
type ValidationError struct {
	// Field 出错的字段 ("name", "value" 或 "cookie")
	Field string

	// HeaderName 头部或cookie名称
	HeaderName string

	// Reason 错误原因
	Reason string

	// Suggestion 修复建议 (可选)
	Suggestion string
}

// Error 实现error接口
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("会话验证失败 [%s]: %s", e.HeaderName, e.Reason)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (建议: %s)", e.Suggestion)
	}
	return msg
}

// ConfigError 配置文件错误
type ConfigError struct {
	// FilePath 配置文件路径
	FilePath string

	// Cause 底层错误
	Cause error
}

// Error 实现error接口
func (e *ConfigError) Error() string {
	return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
}

// Unwrap 支持errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Cause
}
