package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// nameIndexFile 根目录下记录补全扩展名结果的文件
const nameIndexFile = ".iliasdl-names.json"

// nameIndex 无扩展名任务 -> 实际写入的文件名
// 重复运行时只按记录判断输出是否已存在,不做前缀猜测
type nameIndex struct {
	mu    sync.Mutex
	path  string
	root  string
	names map[string]string
}

// loadNameIndex 读取根目录下的记录,文件不存在时返回空记录
func loadNameIndex(rootDir string) (*nameIndex, error) {
	idx := &nameIndex{
		path:  filepath.Join(rootDir, nameIndexFile),
		root:  rootDir,
		names: make(map[string]string),
	}

	data, err := os.ReadFile(idx.path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return idx, fmt.Errorf("读取文件名记录失败: %w", err)
	}
	if err := json.Unmarshal(data, &idx.names); err != nil {
		idx.names = make(map[string]string)
		return idx, fmt.Errorf("解析文件名记录失败: %w", err)
	}
	return idx, nil
}

// key 相对根目录的斜杠路径
func (n *nameIndex) key(dest string) string {
	rel, err := filepath.Rel(n.root, dest)
	if err != nil {
		return filepath.ToSlash(dest)
	}
	return filepath.ToSlash(rel)
}

// Lookup 返回任务上次实际写入的路径
func (n *nameIndex) Lookup(dest string) (string, bool) {
	if n == nil {
		return "", false
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	name, ok := n.names[n.key(dest)]
	if !ok {
		return "", false
	}
	return filepath.Join(filepath.Dir(dest), name), true
}

// Record 记录任务实际写入的文件并立即落盘
func (n *nameIndex) Record(dest, final string) error {
	if n == nil {
		return nil
	}
	if filepath.Dir(final) != filepath.Dir(dest) {
		return fmt.Errorf("输出不在任务目录中: %s", final)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.names[n.key(dest)] = filepath.Base(final)
	data, err := json.MarshalIndent(n.names, "", "  ")
	if err != nil {
		return err
	}

	tmp := n.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("写入文件名记录失败: %w", err)
	}
	if err := os.Rename(tmp, n.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("写入文件名记录失败: %w", err)
	}
	return nil
}
