package models

import (
	"mime"
	"path/filepath"
	"strings"
)

// NodeKind 内容节点类型
type NodeKind string

const (
	KindFolder NodeKind = "folder" // 文件夹(可继续展开)
	KindFile   NodeKind = "file"   // 可下载文件
)

// UnknownSize 列表页未给出文件大小时的占位值
const UnknownSize int64 = -1

// VideoExtensions 识别为视频的扩展名
var VideoExtensions = []string{".mp4", ".m4v", ".mkv", ".avi", ".mov", ".wmv", ".flv", ".webm", ".mpg", ".mpeg"}

// OfficeExtensions 可转换为PDF的办公文档扩展名
var OfficeExtensions = []string{".doc", ".docx", ".ppt", ".pptx", ".pps", ".ppsx", ".xls", ".xlsx", ".odt", ".odp", ".ods", ".rtf"}

// ContentNode 门户内容树中的一个节点(文件夹或文件)
type ContentNode struct {
	// 标识信息
	RefID       string   `json:"ref_id"`        // 门户分配的稳定ID
	Kind        NodeKind `json:"kind"`          // 节点类型
	Name        string   `json:"name"`          // 门户显示名称(用作路径前需清洗)
	ParentRefID string   `json:"parent_ref_id"` // 所属文件夹ID(按ID查找,不持有指针)

	// 仅文件夹节点
	ListingURL string `json:"listing_url,omitempty"` // 列表页的绝对URL

	// 仅文件节点
	DownloadURL string `json:"download_url,omitempty"` // 文件内容的绝对URL
	SizeBytes   int64  `json:"size_bytes"`             // 声明大小,未知时为UnknownSize
	FileType    string `json:"file_type,omitempty"`    // 列表页属性中的类型提示(如 "pdf")
}

// IsFolder 是否为文件夹
func (n *ContentNode) IsFolder() bool {
	return n.Kind == KindFolder
}

// HasKnownSize 列表页是否给出了大小
func (n *ContentNode) HasKnownSize() bool {
	return n.SizeBytes >= 0
}

// FileName 返回带扩展名的文件名
// 列表页标题通常不含扩展名,此时使用类型提示补全
func (n *ContentNode) FileName() string {
	name := strings.TrimSpace(n.Name)
	if n.FileType == "" {
		return name
	}
	ext := "." + strings.ToLower(strings.TrimPrefix(n.FileType, "."))
	if strings.EqualFold(filepath.Ext(name), ext) {
		return name
	}
	return name + ext
}

// Extension 返回小写扩展名(含点)
func (n *ContentNode) Extension() string {
	return NormalizeExt(filepath.Ext(n.FileName()))
}

// NormalizeExt 统一扩展名格式: 小写且带前导点
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// IsVideoExt 判断扩展名是否为视频
func IsVideoExt(ext string) bool {
	ext = NormalizeExt(ext)
	if ext == "" {
		return false
	}
	for _, v := range VideoExtensions {
		if ext == v {
			return true
		}
	}
	// 兜底: 按MIME类型判断
	return strings.HasPrefix(mime.TypeByExtension(ext), "video/")
}

// IsOfficeExt 判断扩展名是否为可转换的办公文档
func IsOfficeExt(ext string) bool {
	ext = NormalizeExt(ext)
	for _, v := range OfficeExtensions {
		if ext == v {
			return true
		}
	}
	return false
}
