package utils

import (
	"bufio"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/RecoveryAshes/iliasdl/internal/models"
)

var (
	// Windows与POSIX文件系统都不接受的字符
	unsafeNameChars = regexp.MustCompile(`[<>:"/\\|?*]`)

	// 不规范的Content-Disposition兜底匹配
	cdFilenamePattern = regexp.MustCompile(`(?i)filename\s*=\s*"?([^";]+)"?`)

	numericRefPattern = regexp.MustCompile(`^\d+$`)
)

// ReadURLsFromFile 从文件中读取URL列表
// 每行一个课程URL或纯数字ref id,空行和#开头的注释行被忽略
func ReadURLsFromFile(filepath string) ([]string, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, fmt.Errorf("打开URL文件失败: %w", err)
	}
	defer file.Close()

	urls := make([]string, 0)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// 跳过空行和注释行
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if !numericRefPattern.MatchString(line) {
			if err := models.ValidateURL(line); err != nil {
				Warnf("跳过无效URL (行 %d): %s - %v", lineNum, line, err)
				continue
			}
		}

		urls = append(urls, line)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取URL文件失败: %w", err)
	}

	if len(urls) == 0 {
		return nil, fmt.Errorf("URL文件中没有有效的URL")
	}

	Infof("从文件加载了 %d 个URL", len(urls))
	return urls, nil
}

// SanitizeFilename 把门户显示名称转换为安全的路径片段
// 非法字符替换为下划线,去掉控制字符以及首尾空白和末尾的点
func SanitizeFilename(name string) string {
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.TrimRight(name, ". ")

	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

// FilenameFromContentDisposition 从Content-Disposition头部提取文件名
// 支持RFC 6266的filename*和filename参数,无法解析时返回空字符串
func FilenameFromContentDisposition(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}

	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := params["filename"]; name != "" {
			return filepath.Base(name)
		}
		return ""
	}

	// ParseMediaType对不规范的头部会报错,退回正则匹配
	if m := cdFilenamePattern.FindStringSubmatch(header); m != nil {
		return filepath.Base(strings.TrimSpace(m[1]))
	}
	return ""
}

// ExtensionFromContentType 根据Content-Type推断扩展名
// 无法推断时返回空字符串
func ExtensionFromContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType == "" || mediaType == "application/octet-stream" {
		return ""
	}

	// 常见类型优先,避免mime表返回冷门扩展名
	switch mediaType {
	case "application/pdf":
		return ".pdf"
	case "application/zip":
		return ".zip"
	case "video/mp4":
		return ".mp4"
	case "text/plain":
		return ".txt"
	}

	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// FormatBytes 以人类可读的形式显示字节数
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
