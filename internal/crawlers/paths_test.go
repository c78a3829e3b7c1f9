package crawlers

import (
	"path/filepath"
	"sync"
	"testing"
)

func TestPathAllocator_AllocateFile(t *testing.T) {
	alloc := NewPathAllocator()
	dir := filepath.Join("downloads", "ref_1")

	tests := []struct {
		name    string
		input   string
		withPDF bool
		want    string
	}{
		{"首次出现", "Blatt.pdf", false, "Blatt.pdf"},
		{"大小写冲突", "blatt.PDF", false, "blatt (2).PDF"},
		{"第三次出现", "Blatt.pdf", false, "Blatt (3).pdf"},
		{"非法字符", "a:b?.txt", false, "a_b_.txt"},
		{"预留PDF", "Folien.pptx", true, "Folien.pptx"},
		{"与预留的PDF冲突", "Folien.pdf", false, "Folien (2).pdf"},
		{"点开头的名称", ".hidden", false, ".hidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := alloc.AllocateFile(dir, tt.input, tt.withPDF)
			if got != filepath.Join(dir, tt.want) {
				t.Errorf("AllocateFile(%q) = %q, want %q", tt.input, got, filepath.Join(dir, tt.want))
			}
		})
	}
}

func TestPathAllocator_DirAndFileShareNamespace(t *testing.T) {
	alloc := NewPathAllocator()

	if got := alloc.AllocateDir("root", "Skript"); got != filepath.Join("root", "Skript") {
		t.Errorf("AllocateDir() = %q", got)
	}
	if got := alloc.AllocateFile("root", "Skript", false); got != filepath.Join("root", "Skript (2)") {
		t.Errorf("文件与文件夹同名时应追加后缀, 得到 %q", got)
	}
	// 不同目录互不影响
	if got := alloc.AllocateDir("other", "Skript"); got != filepath.Join("other", "Skript") {
		t.Errorf("不同目录不应冲突, 得到 %q", got)
	}
	// 文件夹名称中的点不作为扩展名
	alloc.AllocateDir("root", "v1.2")
	if got := alloc.AllocateDir("root", "v1.2"); got != filepath.Join("root", "v1.2 (2)") {
		t.Errorf("AllocateDir() = %q", got)
	}
}

func TestPathAllocator_IsReserved(t *testing.T) {
	alloc := NewPathAllocator()
	dir := filepath.Join("downloads", "ref_1")
	alloc.AllocateFile(dir, "Skript", false)
	alloc.AllocateFile(dir, "Folien.pptx", true)

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"已分配", filepath.Join(dir, "Skript"), true},
		{"不区分大小写", filepath.Join(dir, "SKRIPT"), true},
		{"预留的PDF", filepath.Join(dir, "Folien.pdf"), true},
		{"未分配", filepath.Join(dir, "Skript.pdf"), false},
		{"其他目录", filepath.Join("downloads", "Skript"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := alloc.IsReserved(tt.path); got != tt.want {
				t.Errorf("IsReserved(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}

	var empty *PathAllocator
	if empty.IsReserved(filepath.Join(dir, "Skript")) {
		t.Error("nil分配器不应报告已分配")
	}
}

func TestVisitedSet(t *testing.T) {
	v := NewVisitedSet()

	if !v.MarkVisited("1") {
		t.Error("首次标记应返回true")
	}
	if v.MarkVisited("1") {
		t.Error("重复标记应返回false")
	}
	v.MarkVisited("2")
	if v.Count() != 2 {
		t.Errorf("Count() = %d, want 2", v.Count())
	}

	var wg sync.WaitGroup
	firsts := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			firsts <- v.MarkVisited("shared")
		}()
	}
	wg.Wait()
	close(firsts)

	count := 0
	for first := range firsts {
		if first {
			count++
		}
	}
	if count != 1 {
		t.Errorf("并发标记时只应有一次成功, 得到 %d", count)
	}

	v.Reset()
	if v.Count() != 0 {
		t.Error("Reset后应为空")
	}
}
