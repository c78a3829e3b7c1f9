package crawlers

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/iliasdl/internal/utils"
)

// PathAllocator 按遍历顺序分配本地路径
// 同一目录下名称冲突(不区分大小写)时先到先得,后来者追加 " (2)"、" (3)" 后缀
type PathAllocator struct {
	// dir -> 已占用的小写名称
	taken map[string]map[string]bool
}

// NewPathAllocator 创建路径分配器
func NewPathAllocator() *PathAllocator {
	return &PathAllocator{
		taken: make(map[string]map[string]bool),
	}
}

// AllocateDir 为子文件夹分配目录路径
func (a *PathAllocator) AllocateDir(parentDir, name string) string {
	name = utils.SanitizeFilename(name)
	for i := 1; ; i++ {
		candidate := withSuffix(name, "", i)
		if a.reserve(parentDir, candidate) {
			return filepath.Join(parentDir, candidate)
		}
	}
}

// AllocateFile 为文件分配路径
// withPDF为true时同时预留转换后的 <stem>.pdf,保证文档转换不会覆盖同目录的其他文件
func (a *PathAllocator) AllocateFile(parentDir, name string, withPDF bool) string {
	name = utils.SanitizeFilename(name)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		// ".bashrc" 这类名称整体视为主干
		stem, ext = name, ""
	}

	for i := 1; ; i++ {
		candidate := withSuffix(stem, ext, i)
		names := []string{candidate}
		if withPDF {
			pdf := withSuffix(stem, ".pdf", i)
			if !strings.EqualFold(pdf, candidate) {
				names = append(names, pdf)
			}
		}
		if a.reserve(parentDir, names...) {
			return filepath.Join(parentDir, candidate)
		}
	}
}

// IsReserved 路径是否已分配给某个节点(不区分大小写)
// 遍历结束后只读,可并发调用
func (a *PathAllocator) IsReserved(path string) bool {
	if a == nil {
		return false
	}
	return a.taken[filepath.Dir(path)][strings.ToLower(filepath.Base(path))]
}

// reserve 所有名称都空闲时一并占用
func (a *PathAllocator) reserve(dir string, names ...string) bool {
	set := a.taken[dir]
	if set == nil {
		set = make(map[string]bool)
		a.taken[dir] = set
	}

	for _, n := range names {
		if set[strings.ToLower(n)] {
			return false
		}
	}
	for _, n := range names {
		set[strings.ToLower(n)] = true
	}
	return true
}

// withSuffix 第n次出现时的名称
func withSuffix(stem, ext string, n int) string {
	if n <= 1 {
		return stem + ext
	}
	return fmt.Sprintf("%s (%d)%s", stem, n, ext)
}
