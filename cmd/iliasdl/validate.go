package main

import (
	"fmt"
	"sort"

	"github.com/RecoveryAshes/iliasdl/internal/core"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
)

// collectRoots 确定要处理的根节点
// 优先级: --url-file > 位置参数 > 配置文件中的 download.root_reference
func collectRoots(args []string, urlFile, configured string) ([]string, error) {
	if urlFile != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("不能同时指定根节点参数和 --url-file")
		}
		refs, err := utils.ReadURLsFromFile(urlFile)
		if err != nil {
			return nil, fmt.Errorf("读取URL文件失败: %w", err)
		}
		return refs, nil
	}

	if len(args) == 1 {
		return []string{args[0]}, nil
	}
	if configured != "" {
		return []string{configured}, nil
	}
	return nil, nil
}

// runValidateConfig 验证配置和会话文件,不发起任何网络请求
func runValidateConfig(cfg *core.Config) error {
	utils.Info("🔍 验证配置...")

	// 根节点在验证模式下可以缺省
	check := *cfg
	if check.Download.RootReference == "" {
		check.Download.RootReference = "0"
	}
	if err := check.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}
	utils.Infof("下载目录: %s", cfg.Download.DestinationRoot)
	utils.Infof("日志目录: %s", cfg.LogDir())
	utils.Infof("并发数: %d, 重试: %d", cfg.Download.Workers, cfg.Download.Retries)

	utils.Infof("🔍 验证会话文件: %s", cfg.Session.File)
	session, err := core.NewSessionManager(cfg.Session.File, headers)
	if err != nil {
		return fmt.Errorf("创建会话管理器失败: %w", err)
	}
	if err := session.Load(); err != nil {
		return fmt.Errorf("加载会话文件失败: %w", err)
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("会话验证失败: %w", err)
	}
	if len(session.Cookies()) == 0 {
		utils.Warn("⚠️  会话文件中没有cookie, 门户将重定向到登录页")
	}

	// 显示合并后的头部(脱敏)
	safeHeaders := session.GetSafeHeaders()
	names := make([]string, 0, len(safeHeaders))
	for name := range safeHeaders {
		names = append(names, name)
	}
	sort.Strings(names)

	utils.Info("✅ 配置验证通过!")
	utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
	for _, name := range names {
		utils.Infof("  %s: %s", name, safeHeaders[name])
	}
	return nil
}
