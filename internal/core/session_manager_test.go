package core

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/models"
)

func testSession(cookies ...models.Cookie) *models.SessionConfig {
	if len(cookies) == 0 {
		cookies = []models.Cookie{{Name: "PHPSESSID", Value: "valid"}}
	}
	return &models.SessionConfig{Cookies: cookies, Headers: map[string]string{}}
}

func TestSessionManager_MergedHeaders(t *testing.T) {
	t.Run("默认头部存在", func(t *testing.T) {
		sm, err := NewSessionManagerFromConfig(testSession(), nil)
		if err != nil {
			t.Fatalf("创建SessionManager失败: %v", err)
		}
		headers, err := sm.GetHeaders()
		if err != nil {
			t.Fatalf("GetHeaders() error = %v", err)
		}
		if headers.Get("User-Agent") != DefaultUserAgent {
			t.Errorf("期望默认User-Agent, 实际='%s'", headers.Get("User-Agent"))
		}
	})

	t.Run("优先级: 默认 < 会话文件 < 命令行", func(t *testing.T) {
		session := testSession()
		session.Headers = map[string]string{
			"User-Agent":      "FileAgent/1.0",
			"Accept-Language": "de-DE",
		}
		sm, err := NewSessionManagerFromConfig(session, []string{"User-Agent: CliAgent/2.0"})
		if err != nil {
			t.Fatalf("创建SessionManager失败: %v", err)
		}
		headers, err := sm.GetHeaders()
		if err != nil {
			t.Fatalf("GetHeaders() error = %v", err)
		}
		if headers.Get("User-Agent") != "CliAgent/2.0" {
			t.Errorf("命令行应覆盖会话文件, 实际='%s'", headers.Get("User-Agent"))
		}
		if headers.Get("Accept-Language") != "de-DE" {
			t.Errorf("会话文件头部丢失")
		}
	})

	t.Run("返回副本", func(t *testing.T) {
		sm, _ := NewSessionManagerFromConfig(testSession(), nil)
		h1, _ := sm.GetHeaders()
		h1.Set("User-Agent", "changed")
		h2, _ := sm.GetHeaders()
		if h2.Get("User-Agent") != DefaultUserAgent {
			t.Error("修改返回值不应影响缓存")
		}
	})
}

func TestSessionManager_Validation(t *testing.T) {
	tests := []struct {
		name    string
		session *models.SessionConfig
		cli     []string
	}{
		{"命令行Host头部", testSession(), []string{"Host: evil.example.com"}},
		{"会话文件Cookie头部", &models.SessionConfig{
			Cookies: []models.Cookie{{Name: "PHPSESSID", Value: "x"}},
			Headers: map[string]string{"Cookie": "PHPSESSID=x"},
		}, nil},
		{"非法cookie名称", testSession(models.Cookie{Name: "bad name", Value: "x"}), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, err := NewSessionManagerFromConfig(tt.session, tt.cli)
			if err != nil {
				t.Fatalf("创建SessionManager失败: %v", err)
			}
			if _, err := sm.GetHeaders(); err == nil {
				t.Error("期望验证失败")
			}
		})
	}
}

func TestNewSessionManager_InvalidCLI(t *testing.T) {
	if _, err := NewSessionManager("", []string{"no-colon"}); err == nil {
		t.Error("格式错误的-H参数应返回错误")
	}
}

func TestSessionManager_LoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	content := `[{"name": "PHPSESSID", "value": "from-file"}]`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("写入失败: %v", err)
	}

	sm, err := NewSessionManager(path, nil)
	if err != nil {
		t.Fatalf("创建SessionManager失败: %v", err)
	}
	if err := sm.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cookies := sm.Cookies()
	if len(cookies) != 1 || cookies[0].Value != "from-file" {
		t.Errorf("cookie加载错误: %+v", cookies)
	}
}

func TestSessionManager_SafeHeaders(t *testing.T) {
	sm, _ := NewSessionManagerFromConfig(testSession(), []string{"Authorization: Bearer secret-token-12345"})
	safe := sm.GetSafeHeaders()
	if strings.Contains(safe["Authorization"], "secret-token") {
		t.Errorf("Authorization未脱敏: %s", safe["Authorization"])
	}
}

func TestSessionManager_NewHTTPClient(t *testing.T) {
	var gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("PHPSESSID"); err == nil {
			gotCookie = c.Value
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	u, _ := url.Parse(server.URL)
	session := testSession(
		models.Cookie{Name: "PHPSESSID", Value: "valid", Domain: u.Hostname()},
		models.Cookie{Name: "other", Value: "x", Domain: "elsewhere.example.org"},
	)
	sm, _ := NewSessionManagerFromConfig(session, nil)

	client, err := sm.NewHTTPClient(server.URL+"/ilias.php", 5*time.Second)
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v", err)
	}
	if client.Timeout != 0 {
		t.Error("客户端不应设置整体超时")
	}

	resp, err := client.Get(server.URL + "/goto.php?target=file_1_download")
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	resp.Body.Close()

	if gotCookie != "valid" {
		t.Errorf("会话cookie未发送, 得到 %q", gotCookie)
	}
	if cookies := client.Jar.Cookies(u); len(cookies) != 1 {
		t.Errorf("不匹配域的cookie应被忽略, jar中有 %d 个", len(cookies))
	}
}

func TestSessionManager_NewHTTPClient_InvalidPortal(t *testing.T) {
	sm, _ := NewSessionManagerFromConfig(testSession(), nil)
	if _, err := sm.NewHTTPClient("not a url", time.Second); err == nil {
		t.Error("无效门户地址应返回错误")
	}
}

func TestSessionManager_LoadError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	sm, _ := NewSessionManager(path, nil)
	_, err := sm.GetHeaders()
	var cfgErr *models.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("缺少会话文件应返回ConfigError, 得到 %v", err)
	}
}

func TestHostMatchesDomain(t *testing.T) {
	tests := []struct {
		host, domain string
		want         bool
	}{
		{"ilias.uni.de", "ilias.uni.de", true},
		{"ilias.uni.de", ".uni.de", true},
		{"ilias.uni.de", "uni.de", true},
		{"evil-uni.de", "uni.de", false},
		{"ilias.uni.de", "other.de", false},
	}
	for _, tt := range tests {
		if got := hostMatchesDomain(tt.host, tt.domain); got != tt.want {
			t.Errorf("hostMatchesDomain(%q, %q) = %v, want %v", tt.host, tt.domain, got, tt.want)
		}
	}
}
