// Package crawlers 提供ILIAS内容树的发现功能
//
// # 概述
//
// crawlers包从课程/文件夹的列表页出发,深度优先展开整个内容树,
// 产出一个完整的下载清单(Manifest)。下载调度在清单完整枚举之后才开始,
// 因此路径冲突处理和总数统计都是确定的。
//
// # 核心组件
//
// ## CollyFetcher (列表页获取器)
//
// 基于Colly的同步获取器,与文件下载共用同一个携带会话cookie的http.Client。
// OnHTML回调把页面交给ParseListing解析; 页面是登录页时返回models.ErrSessionRejected。
//
//	fetcher := NewCollyFetcher(client, headerProvider, limiter)
//	children, err := fetcher.FetchListing(ctx, folder)
//
// ## ParseListing (列表页解析)
//
// 基于goquery,读取 a.il_ContainerItemTitle 标题链接:
//   - goto.php?target=file_<id>_download 等链接识别为文件
//   - ilias.php?baseClass=ilrepositorygui&ref_id=<id> 等链接识别为文件夹
//   - .il_ItemProperty 中的 "1,5 MB" 解析为大小, "pdf" 解析为类型提示
//
// ## Walker (遍历器)
//
// 使用显式栈遍历,子节点按页面顺序处理:
//
//	walker := NewWalker(fetcher, config, runLog)
//	manifest, err := walker.Walk(ctx, root)
//
// 过滤规则:
//   - 已知大小超过 max_file_size_mb: 记录 skipped(size),不入队
//   - download_videos=false 时的视频文件: 记录 skipped(type),不入队
//   - 重复的ref id: 视为已访问,仅输出调试日志
//
// ## PathAllocator (路径分配器)
//
// 按遍历顺序为文件夹和文件分配本地路径,同名(不区分大小写)先到先得:
//
//	ref_123/Übungen
//	ref_123/Übungen (2)
//
// 会被转换为PDF的文档同时预留 <stem>.pdf,转换结果不会覆盖兄弟文件。
//
// # 错误处理
//
//   - 根节点列表页失败: Walk返回models.FetchError
//   - 子文件夹列表页失败: 记录 failed(fetch),跳过该子树,兄弟节点继续
//   - 会话失效(登录页/401/403): 系统性错误,终止遍历
//
// # 并发安全
//
//   - VisitedSet: sync.RWMutex
//   - CollyFetcher: sync.Mutex,同一时刻只处理一个列表页
//   - Walker: 单线程,不应在多个goroutine中同时调用Walk
package crawlers
