package core

import (
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/config"
	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
	"golang.org/x/net/publicsuffix"
)

const (
	// DefaultUserAgent 默认User-Agent
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"
)

// SessionManager 管理已认证会话: cookie与HTTP请求头部
// 实现 HeaderProvider 接口,列表页抓取和文件下载共用同一实例
type SessionManager struct {
	// loader 会话文件加载器
	loader *config.SessionLoader

	// defaults 系统默认头部
	defaults http.Header

	// file 会话文件中的头部
	file http.Header

	// cli 命令行头部
	cli http.Header

	// cookies 会话cookie
	cookies []models.Cookie

	validator *utils.HeaderValidator
	redactor  *utils.HeaderRedactor

	mu     sync.Mutex
	loaded bool
	merged http.Header
}

// NewSessionManager 创建会话管理器
// 参数:
//   - sessionFile: 会话文件路径 (为空则使用cookies.json)
//   - cliHeaders: 命令行传递的头部字符串列表
func NewSessionManager(sessionFile string, cliHeaders []string) (*SessionManager, error) {
	sm := newSessionManager()
	if err := sm.parseCLI(cliHeaders); err != nil {
		return nil, err
	}
	sm.loader = config.NewSessionLoader(sessionFile)
	return sm, nil
}

// NewSessionManagerFromConfig 使用已加载的会话配置创建管理器
func NewSessionManagerFromConfig(session *models.SessionConfig, cliHeaders []string) (*SessionManager, error) {
	sm := newSessionManager()
	if err := sm.parseCLI(cliHeaders); err != nil {
		return nil, err
	}
	sm.apply(session)
	sm.loaded = true
	return sm, nil
}

func newSessionManager() *SessionManager {
	return &SessionManager{
		defaults:  getDefaultHeaders(),
		file:      make(http.Header),
		cli:       make(http.Header),
		validator: utils.NewHeaderValidator(),
		redactor:  utils.NewHeaderRedactor(),
	}
}

func (sm *SessionManager) parseCLI(cliHeaders []string) error {
	if len(cliHeaders) == 0 {
		return nil
	}
	parsed, err := models.CliHeaders(cliHeaders).Parse()
	if err != nil {
		return err
	}
	sm.cli = parsed
	return nil
}

// getDefaultHeaders 返回系统默认头部
func getDefaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      []string{DefaultUserAgent},
		"Accept":          []string{"text/html,application/xhtml+xml,*/*;q=0.8"},
		"Accept-Encoding": []string{"gzip, deflate, br"},
	}
}

func (sm *SessionManager) apply(session *models.SessionConfig) {
	sm.file = make(http.Header)
	if session == nil {
		return
	}
	for name, value := range session.Headers {
		sm.file.Set(name, value)
	}
	sm.cookies = append([]models.Cookie(nil), session.Cookies...)
}

// Load 加载会话文件,已加载则跳过
func (sm *SessionManager) Load() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.loadLocked()
}

func (sm *SessionManager) loadLocked() error {
	if sm.loaded {
		return nil
	}

	session, err := sm.loader.Load()
	if err != nil {
		utils.Errorf("加载会话文件失败: %v", err)
		return err
	}
	sm.apply(session)
	sm.loaded = true

	utils.Infof("🍪 已加载%d个会话cookie: %s", len(sm.cookies), sm.redactor.RedactCookies(sm.cookies))
	if len(sm.file) > 0 {
		utils.Debugf("会话文件头部: %s", sm.redactor.RedactToString(sm.file))
	}
	return nil
}

// Validate 验证所有头部和cookie
// 验证顺序: 默认 → 会话文件 → 命令行 → cookie
func (sm *SessionManager) Validate() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.validateLocked()
}

func (sm *SessionManager) validateLocked() error {
	if err := sm.validator.Validate(sm.defaults); err != nil {
		utils.Errorf("默认头部验证失败: %v", err)
		return err
	}
	if err := sm.validator.Validate(sm.file); err != nil {
		utils.Errorf("会话文件头部验证失败: %v", err)
		return err
	}
	if err := sm.validator.Validate(sm.cli); err != nil {
		utils.Errorf("命令行头部验证失败: %v", err)
		return err
	}
	if err := sm.validator.ValidateCookies(sm.cookies); err != nil {
		utils.Errorf("会话cookie验证失败: %v", err)
		return err
	}

	utils.Debugf("所有会话头部与cookie验证通过")
	return nil
}

// GetMergedHeaders 按优先级合并头部 (默认 < 会话文件 < 命令行)
func (sm *SessionManager) GetMergedHeaders() http.Header {
	result := make(http.Header)
	for name, values := range sm.defaults {
		result[name] = values
	}
	for name, values := range sm.file {
		result[name] = values
	}
	for name, values := range sm.cli {
		result[name] = values
	}
	return result
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (sm *SessionManager) GetSafeHeaders() map[string]string {
	return sm.redactor.Redact(sm.GetMergedHeaders())
}

// Cookies 返回会话cookie副本
func (sm *SessionManager) Cookies() []models.Cookie {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return append([]models.Cookie(nil), sm.cookies...)
}

// GetHeaders 实现 HeaderProvider 接口
// 首次调用时加载并验证,之后返回缓存结果的副本
func (sm *SessionManager) GetHeaders() (http.Header, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.merged == nil {
		if err := sm.loadLocked(); err != nil {
			return nil, err
		}
		if err := sm.validateLocked(); err != nil {
			return nil, err
		}
		sm.merged = sm.GetMergedHeaders()
	}
	return sm.merged.Clone(), nil
}

// NewHTTPClient 创建携带会话cookie的HTTP客户端
// 列表页抓取和下载共享该客户端; 不设置整体超时,只限制等待响应头的时间
func (sm *SessionManager) NewHTTPClient(portalURL string, timeout time.Duration) (*http.Client, error) {
	if _, err := sm.GetHeaders(); err != nil {
		return nil, err
	}

	u, err := url.Parse(portalURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("无效的门户地址: %s", portalURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("创建cookie jar失败: %w", err)
	}

	cookies := sm.Cookies()
	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		hc := &http.Cookie{Name: c.Name, Value: c.Value, Path: c.Path}
		if hc.Path == "" {
			hc.Path = "/"
		}
		if c.Domain != "" && !hostMatchesDomain(u.Hostname(), c.Domain) {
			utils.Warnf("⚠️  cookie %s 的域 %s 与门户 %s 不匹配,已忽略", c.Name, c.Domain, u.Hostname())
			continue
		}
		httpCookies = append(httpCookies, hc)
	}
	jar.SetCookies(&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, httpCookies)

	if got := jar.Cookies(&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}); len(got) == 0 && len(httpCookies) > 0 {
		utils.Warnf("⚠️  cookie jar未接受任何会话cookie,请检查门户地址: %s", u.Host)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	transport.DialContext = (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &http.Client{
		Jar:       jar,
		Transport: transport,
	}, nil
}

// hostMatchesDomain 判断host是否属于cookie域
func hostMatchesDomain(host, domain string) bool {
	for len(domain) > 0 && domain[0] == '.' {
		domain = domain[1:]
	}
	if host == domain {
		return true
	}
	return len(host) > len(domain) && host[len(host)-len(domain)-1:] == "."+domain
}
