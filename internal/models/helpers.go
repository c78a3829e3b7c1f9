package models

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	// goto.php?target=crs_123 / fold_123 / file_123_download
	targetPattern = regexp.MustCompile(`^[a-z]+_(\d+)`)

	// goto_<client>_fold_123.html / goto_<client>_file_123_download.html
	staticGotoPattern = regexp.MustCompile(`goto_[^/]*?_[a-z]+_(\d+)(?:_[a-z]+)?\.html$`)

	// goto.php/fold/123 (ILIAS 8+)
	pathGotoPattern = regexp.MustCompile(`goto\.php/[a-z]+/(\d+)`)

	numericPattern = regexp.MustCompile(`^\d+$`)
)

// RootReference 爬取起点
type RootReference struct {
	RefID string // 根节点ref id
	URL   string // 根节点列表页URL
}

// ValidateURL 验证URL
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("无效的URL: %w", err)
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("URL缺少协议(http/https)")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL必须是HTTP或HTTPS协议")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL必须包含主机名")
	}
	return nil
}

// ParseRootReference 解析根节点引用
// 支持完整的门户URL或纯数字ref id(需提供baseURL)
func ParseRootReference(ref string, baseURL string) (RootReference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return RootReference{}, fmt.Errorf("根节点引用不能为空")
	}

	if numericPattern.MatchString(ref) {
		if baseURL == "" {
			return RootReference{}, fmt.Errorf("使用纯数字ref id时必须配置base_url")
		}
		if err := ValidateURL(baseURL); err != nil {
			return RootReference{}, fmt.Errorf("base_url无效: %w", err)
		}
		return RootReference{RefID: ref, URL: FolderListingURL(baseURL, ref)}, nil
	}

	if err := ValidateURL(ref); err != nil {
		return RootReference{}, err
	}
	refID := ExtractRefID(ref)
	if refID == "" {
		return RootReference{}, fmt.Errorf("无法从URL中提取ref id: %s", ref)
	}
	return RootReference{RefID: refID, URL: ref}, nil
}

// ExtractRefID 从门户链接中提取ref id,提取失败返回空字符串
func ExtractRefID(link string) string {
	parsed, err := url.Parse(link)
	if err != nil {
		return ""
	}
	q := parsed.Query()
	if id := q.Get("ref_id"); numericPattern.MatchString(id) {
		return id
	}
	if m := targetPattern.FindStringSubmatch(q.Get("target")); m != nil {
		return m[1]
	}
	if m := pathGotoPattern.FindStringSubmatch(parsed.Path); m != nil {
		return m[1]
	}
	if m := staticGotoPattern.FindStringSubmatch(parsed.Path); m != nil {
		return m[1]
	}
	return ""
}

// FolderListingURL 根据门户地址和ref id构造列表页URL
func FolderListingURL(baseURL string, refID string) string {
	return strings.TrimRight(baseURL, "/") + "/ilias.php?baseClass=ilrepositorygui&ref_id=" + refID
}

// generateID 生成唯一ID
func generateID() string {
	return uuid.New().String()
}

// NewRunID 生成运行ID
func NewRunID() string {
	return generateID()
}
