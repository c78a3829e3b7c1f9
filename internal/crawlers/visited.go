package crawlers

import (
	"sync"

	"github.com/RecoveryAshes/iliasdl/internal/models"
)

// VisitedSet 已访问ref id集合
// 并发安全,门户可能在多个父文件夹中链接同一个ref id
type VisitedSet struct {
	visited map[string]bool
	mu      sync.RWMutex
}

// NewVisitedSet 创建已访问集合
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{
		visited: make(map[string]bool),
	}
}

// MarkVisited 标记ref id为已访问
// 返回false表示此前已经访问过
func (v *VisitedSet) MarkVisited(refID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.visited[refID] {
		return false
	}
	v.visited[refID] = true
	return true
}

// Count 已访问数量
func (v *VisitedSet) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.visited)
}

// Reset 清空集合,为下一个根节点准备全新状态
func (v *VisitedSet) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visited = make(map[string]bool)
}

// walkItem 遍历栈中的一项
type walkItem struct {
	node      models.ContentNode
	parentDir string // 父文件夹的本地目录
}

// walkStack 显式遍历栈,避免深层目录树的递归
type walkStack struct {
	items []walkItem
}

// push 按页面顺序压入子节点(逆序入栈,保证先出栈的是页面上的第一个)
func (s *walkStack) push(children []models.ContentNode, parentDir string) {
	for i := len(children) - 1; i >= 0; i-- {
		s.items = append(s.items, walkItem{node: children[i], parentDir: parentDir})
	}
}

// pop 弹出栈顶
func (s *walkStack) pop() (walkItem, bool) {
	if len(s.items) == 0 {
		return walkItem{}, false
	}
	item := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return item, true
}

// len 栈中剩余项数
func (s *walkStack) len() int {
	return len(s.items)
}
