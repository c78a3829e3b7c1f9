package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
	"github.com/spf13/viper"
)

const (
	// DefaultSessionFile 默认会话文件路径
	DefaultSessionFile = "cookies.json"

	// MaxSessionFileSize 会话文件最大大小 (1MB)
	MaxSessionFileSize = 1 * 1024 * 1024
)

// ErrTemplateCreated 会话文件不存在,已生成模板
var ErrTemplateCreated = errors.New("会话文件不存在,已生成模板,请填入登录后的cookie")

//go:embed session_template.json
var defaultSessionTemplate string

// SessionLoader 会话文件加载器
// 支持两种格式:
//   - 浏览器扩展导出的cookie数组: [{"name": "...", "value": "..."}]
//   - 包含 cookies 和 headers 的YAML/JSON文档
type SessionLoader struct {
	path string
}

// NewSessionLoader 创建会话文件加载器
func NewSessionLoader(path string) *SessionLoader {
	if path == "" {
		path = DefaultSessionFile
	}
	return &SessionLoader{
		path: path,
	}
}

// Path 会话文件路径
func (sl *SessionLoader) Path() string {
	return sl.path
}

// EnsureExists 确保会话文件存在,不存在时生成模板
// 返回: 是否生成了模板
func (sl *SessionLoader) EnsureExists() (bool, error) {
	if _, err := os.Stat(sl.path); !os.IsNotExist(err) {
		return false, nil
	}

	if dir := filepath.Dir(sl.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, fmt.Errorf("无法创建会话目录 [%s]: %w", dir, err)
		}
	}

	if err := os.WriteFile(sl.path, []byte(defaultSessionTemplate), 0600); err != nil {
		return false, fmt.Errorf("无法生成会话文件 [%s]: %w", sl.path, err)
	}
	return true, nil
}

// validateFileSize 验证会话文件大小
func (sl *SessionLoader) validateFileSize() error {
	info, err := os.Stat(sl.path)
	if err != nil {
		return fmt.Errorf("无法读取会话文件信息 [%s]: %w", sl.path, err)
	}

	if info.Size() > MaxSessionFileSize {
		return &models.ConfigError{
			FilePath: sl.path,
			Cause:    fmt.Errorf("会话文件过大: %d 字节 (最大 %d 字节)", info.Size(), MaxSessionFileSize),
		}
	}
	return nil
}

// Load 加载会话文件
// 执行流程:
//  1. 确保文件存在 (不存在则生成模板并返回ErrTemplateCreated)
//  2. 验证文件大小
//  3. 顶层为数组时按cookie列表解析,否则用Viper解析文档
//  4. 丢弃没有名称的cookie,至少保留一个有值的cookie
func (sl *SessionLoader) Load() (*models.SessionConfig, error) {
	created, err := sl.EnsureExists()
	if err != nil {
		return nil, err
	}
	if created {
		utils.Warnf("📝 已生成会话模板: %s", sl.path)
		return nil, &models.ConfigError{FilePath: sl.path, Cause: ErrTemplateCreated}
	}

	if err := sl.validateFileSize(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(sl.path)
	if err != nil {
		return nil, &models.ConfigError{FilePath: sl.path, Cause: err}
	}

	var session models.SessionConfig
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		// Viper不支持顶层数组
		if err := json.Unmarshal(trimmed, &session.Cookies); err != nil {
			return nil, &models.ConfigError{FilePath: sl.path, Cause: fmt.Errorf("cookie数组解析失败: %w", err)}
		}
	} else {
		v := viper.New()
		v.SetConfigType(configType(sl.path))
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, &models.ConfigError{FilePath: sl.path, Cause: err}
		}
		if err := v.Unmarshal(&session); err != nil {
			return nil, &models.ConfigError{FilePath: sl.path, Cause: fmt.Errorf("会话配置绑定失败: %w", err)}
		}
	}

	if session.Headers == nil {
		session.Headers = make(map[string]string)
	}

	cookies := session.Cookies[:0]
	hasValue := false
	for _, c := range session.Cookies {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		if c.Value != "" {
			hasValue = true
		}
		cookies = append(cookies, c)
	}
	session.Cookies = cookies

	if !hasValue {
		return nil, &models.ConfigError{FilePath: sl.path, Cause: errors.New("会话文件中没有有效的cookie")}
	}

	return &session, nil
}

// configType 根据扩展名选择Viper解析器,默认YAML
func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}
