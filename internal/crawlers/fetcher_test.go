package crawlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
)

type staticHeaders http.Header

func (h staticHeaders) GetHeaders() (http.Header, error) {
	return http.Header(h), nil
}

// newPortal 模拟门户: 没有会话cookie时重定向到登录页
func newPortal(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/ilias.php", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("PHPSESSID"); err != nil || c.Value != "valid" {
			http.Redirect(w, r, "/login.php?client_id=uni", http.StatusFound)
			return
		}
		switch r.URL.Query().Get("ref_id") {
		case "1":
			if r.Header.Get("User-Agent") != "iliasdl-test" {
				http.Error(w, "bad agent", http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, listingFixture)
		case "500":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "401":
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		case "2":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, `<html><body>
<div class="il_ContainerListItem"><a class="il_ContainerItemTitle" href="ilias.php?baseClass=ilrepositorygui&amp;ref_id=403">Gesperrt</a></div>
<div class="il_ContainerListItem"><a class="il_ContainerItemTitle" href="ilias.php?baseClass=ilrepositorygui&amp;ref_id=3">Offen</a></div>
</body></html>`)
		case "3":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, `<html><body>
<div class="il_ContainerListItem"><a class="il_ContainerItemTitle" href="goto.php?target=file_31_download">Skript.pdf</a>
<div class="il_ItemProperties"><span class="il_ItemProperty">pdf</span></div></div>
</body></html>`)
		case "403":
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/login.php", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><form name="formlogin"><input type="password" name="password"></form></body></html>`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newSessionClient(t *testing.T, serverURL string, sessionID string) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("创建cookie jar失败: %v", err)
	}
	u, _ := url.Parse(serverURL)
	jar.SetCookies(u, []*http.Cookie{{Name: "PHPSESSID", Value: sessionID, Path: "/"}})
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func listingFolder(serverURL, refID string) models.ContentNode {
	return models.ContentNode{
		RefID:      refID,
		Kind:       models.KindFolder,
		ListingURL: serverURL + "/ilias.php?baseClass=ilrepositorygui&ref_id=" + refID,
	}
}

func TestCollyFetcher_FetchListing(t *testing.T) {
	server := newPortal(t)
	headers := staticHeaders{"User-Agent": []string{"iliasdl-test"}}
	fetcher := NewCollyFetcher(newSessionClient(t, server.URL, "valid"), headers, nil)

	nodes, err := fetcher.FetchListing(context.Background(), listingFolder(server.URL, "1"))
	if err != nil {
		t.Fatalf("FetchListing() error = %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("期望3个节点, 得到 %d", len(nodes))
	}
	if nodes[1].DownloadURL != server.URL+"/goto.php?target=file_201_download&client_id=uni" {
		t.Errorf("下载URL应相对于列表页解析: %s", nodes[1].DownloadURL)
	}
	for _, n := range nodes {
		if n.ParentRefID != "1" {
			t.Errorf("ParentRefID = %q, want 1", n.ParentRefID)
		}
	}

	// 同一列表页可以重复获取
	if _, err := fetcher.FetchListing(context.Background(), listingFolder(server.URL, "1")); err != nil {
		t.Errorf("重复获取失败: %v", err)
	}
}

func TestCollyFetcher_SessionRejected(t *testing.T) {
	server := newPortal(t)
	fetcher := NewCollyFetcher(newSessionClient(t, server.URL, "expired"), nil, nil)

	_, err := fetcher.FetchListing(context.Background(), listingFolder(server.URL, "1"))
	if !errors.Is(err, models.ErrSessionRejected) {
		t.Errorf("重定向到登录页应返回ErrSessionRejected, 得到 %v", err)
	}
}

func TestCollyFetcher_HTTPError(t *testing.T) {
	server := newPortal(t)
	fetcher := NewCollyFetcher(newSessionClient(t, server.URL, "valid"), nil, nil)

	_, err := fetcher.FetchListing(context.Background(), listingFolder(server.URL, "500"))
	if err == nil {
		t.Fatal("HTTP 500应返回错误")
	}
	if errors.Is(err, models.ErrSessionRejected) {
		t.Error("HTTP 500不是会话失效")
	}

	// 错误状态不影响后续请求
	headers := staticHeaders{"User-Agent": []string{"iliasdl-test"}}
	fetcher = NewCollyFetcher(newSessionClient(t, server.URL, "valid"), headers, nil)
	if _, err := fetcher.FetchListing(context.Background(), listingFolder(server.URL, "1")); err != nil {
		t.Errorf("后续请求失败: %v", err)
	}
}

func TestCollyFetcher_CancelledContext(t *testing.T) {
	server := newPortal(t)
	fetcher := NewCollyFetcher(newSessionClient(t, server.URL, "valid"), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fetcher.FetchListing(ctx, listingFolder(server.URL, "1")); !errors.Is(err, context.Canceled) {
		t.Errorf("期望context.Canceled, 得到 %v", err)
	}
}

func TestCollyFetcher_StatusClassification(t *testing.T) {
	server := newPortal(t)
	fetcher := NewCollyFetcher(newSessionClient(t, server.URL, "valid"), nil, nil)

	tests := []struct {
		refID        string
		wantRejected bool
	}{
		{"401", true},
		{"403", false},
		{"500", false},
	}
	for _, tt := range tests {
		t.Run("HTTP "+tt.refID, func(t *testing.T) {
			_, err := fetcher.FetchListing(context.Background(), listingFolder(server.URL, tt.refID))
			if err == nil {
				t.Fatal("期望返回错误")
			}
			if got := errors.Is(err, models.ErrSessionRejected); got != tt.wantRejected {
				t.Errorf("ErrSessionRejected = %v, want %v (err=%v)", got, tt.wantRejected, err)
			}
		})
	}
}

func TestWalk_ForbiddenFolderContinuesWithSiblings(t *testing.T) {
	server := newPortal(t)
	fetcher := NewCollyFetcher(newSessionClient(t, server.URL, "valid"), nil, nil)

	cfg := models.DefaultDownloadConfig()
	cfg.DestinationRoot = t.TempDir()
	sink := utils.NewMemoryRunLog()
	walker := NewWalker(fetcher, cfg, sink)

	root := models.RootReference{RefID: "2", URL: listingFolder(server.URL, "2").ListingURL}
	manifest, err := walker.Walk(context.Background(), root)
	if err != nil {
		t.Fatalf("403文件夹不应中止遍历: %v", err)
	}
	if manifest.Stats.FetchFailed != 1 {
		t.Errorf("FetchFailed = %d, want 1", manifest.Stats.FetchFailed)
	}
	if len(manifest.Tasks) != 1 || filepath.Base(manifest.Tasks[0].Destination) != "Skript.pdf" {
		t.Errorf("兄弟文件夹中的文件应被发现: %v", taskNames(manifest))
	}
	if sink.Count(models.OutcomeFailed, models.ReasonFetch) != 1 {
		t.Error("403文件夹应记录Failed(fetch)")
	}
}
