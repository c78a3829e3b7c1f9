package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// StorageGuard 下载前的存储检查
type StorageGuard interface {
	// CheckWritable 确认目录可写
	CheckWritable(dir string) error

	// CheckDiskSpace 确认剩余空间高于下限
	CheckDiskSpace(dir string) error
}

// ResourceGuard 基于gopsutil的系统资源检查
// 磁盘剩余空间低于下限时返回ErrDiskFull,整个运行随即中止
type ResourceGuard struct {
	minFreeBytes uint64
	cacheTTL     time.Duration

	// usage 可替换的磁盘查询函数
	usage func(path string) (*disk.UsageStat, error)

	cacheMu       sync.Mutex
	cachedFree    uint64
	lastCacheTime time.Time
	lastCachePath string
}

// DiskStatus 磁盘状态
type DiskStatus struct {
	Path        string
	Total       uint64
	Free        uint64
	UsedPercent float64
}

// NewResourceGuard 创建资源检查器, minFreeMB为0时不检查磁盘空间
func NewResourceGuard(minFreeMB int) *ResourceGuard {
	rg := &ResourceGuard{
		cacheTTL: time.Second,
		usage:    disk.Usage,
	}
	if minFreeMB > 0 {
		rg.minFreeBytes = uint64(minFreeMB) * 1024 * 1024
	}
	return rg
}

// LogSystemInfo 记录内存与CPU信息
func (rg *ResourceGuard) LogSystemInfo() {
	if vm, err := mem.VirtualMemory(); err != nil {
		utils.Debugf("获取系统内存失败: %v", err)
	} else {
		utils.Debugf("系统内存: 总计 %s, 可用 %s", utils.FormatBytes(int64(vm.Total)), utils.FormatBytes(int64(vm.Available)))
	}

	if n, err := cpu.Counts(true); err == nil {
		utils.Debugf("逻辑CPU数: %d", n)
	}
}

// CheckWritable 创建目录并写入探测文件
func (rg *ResourceGuard) CheckWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrDestinationUnwritable, dir, err)
	}

	f, err := os.CreateTemp(dir, ".iliasdl-write-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrDestinationUnwritable, dir, err)
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return nil
}

// CheckDiskSpace 检查剩余磁盘空间
// 结果在cacheTTL内缓存,避免每个任务都查询文件系统
func (rg *ResourceGuard) CheckDiskSpace(dir string) error {
	if rg.minFreeBytes == 0 {
		return nil
	}

	free, err := rg.freeBytes(dir)
	if err != nil {
		utils.Debugf("获取磁盘空间失败 [%s]: %v", dir, err)
		return nil
	}

	if free < rg.minFreeBytes {
		utils.Errorf("❌ 磁盘剩余空间不足: %s (下限 %s)", utils.FormatBytes(int64(free)), utils.FormatBytes(int64(rg.minFreeBytes)))
		return fmt.Errorf("%w: 剩余%s", models.ErrDiskFull, utils.FormatBytes(int64(free)))
	}
	return nil
}

// DiskStatus 返回目录所在磁盘的状态
func (rg *ResourceGuard) DiskStatus(dir string) (DiskStatus, error) {
	usage, err := rg.usage(existingParent(dir))
	if err != nil {
		return DiskStatus{}, err
	}
	return DiskStatus{
		Path:        usage.Path,
		Total:       usage.Total,
		Free:        usage.Free,
		UsedPercent: usage.UsedPercent,
	}, nil
}

func (rg *ResourceGuard) freeBytes(dir string) (uint64, error) {
	rg.cacheMu.Lock()
	defer rg.cacheMu.Unlock()

	if rg.lastCachePath == dir && time.Since(rg.lastCacheTime) < rg.cacheTTL {
		return rg.cachedFree, nil
	}

	usage, err := rg.usage(existingParent(dir))
	if err != nil {
		return 0, err
	}
	if usage == nil {
		return 0, errors.New("磁盘信息为空")
	}

	rg.cachedFree = usage.Free
	rg.lastCacheTime = time.Now()
	rg.lastCachePath = dir
	return usage.Free, nil
}

// existingParent 返回路径中最近的已存在目录
func existingParent(dir string) string {
	for {
		if _, err := os.Stat(dir); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return dir
		}
		dir = parent
	}
}
