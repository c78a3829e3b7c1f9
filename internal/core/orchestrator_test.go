package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RecoveryAshes/iliasdl/internal/models"
	"github.com/RecoveryAshes/iliasdl/internal/utils"
)

// fakeDownloader 按ref id返回预设错误,否则写入文件
type fakeDownloader struct {
	delay time.Duration
	errs  map[string]error
	// inferExt 不为空时,无扩展名的任务写入 <dest><inferExt>
	inferExt string

	calls       atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (d *fakeDownloader) Download(ctx context.Context, task models.DownloadTask) (string, int64, error) {
	d.calls.Add(1)
	n := d.inflight.Add(1)
	defer d.inflight.Add(-1)
	for {
		m := d.maxInflight.Load()
		if n <= m || d.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}

	select {
	case <-time.After(d.delay):
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}

	if err := d.errs[task.Node.RefID]; err != nil {
		return "", 0, err
	}
	dest := task.Destination
	if d.inferExt != "" && filepath.Ext(dest) == "" {
		dest += d.inferExt
	}
	data := []byte("content-" + task.Node.RefID)
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", 0, err
	}
	return dest, int64(len(data)), nil
}

// fakeGuard 可控的存储检查
type fakeGuard struct {
	writableErr  error
	diskErrAfter int32
	checks       atomic.Int32
}

func (g *fakeGuard) CheckWritable(dir string) error {
	return g.writableErr
}

func (g *fakeGuard) CheckDiskSpace(dir string) error {
	if g.diskErrAfter > 0 && g.checks.Add(1) > g.diskErrAfter {
		return fmt.Errorf("%w: 剩余1.0 MB", models.ErrDiskFull)
	}
	return nil
}

func makeTasks(dir, baseURL string, n int) []models.DownloadTask {
	tasks := make([]models.DownloadTask, 0, n)
	for i := 1; i <= n; i++ {
		refID := fmt.Sprintf("%d", i)
		dest := filepath.Join(dir, "ref_1", "Ordner", fmt.Sprintf("datei%d.txt", i))
		task := fileTask(refID, baseURL+"/file/"+refID, dest)
		task.Index = i - 1
		tasks = append(tasks, task)
	}
	return tasks
}

func assertComplete(t *testing.T, s *models.RunSummary) {
	t.Helper()
	if s.Completed+s.Skipped+s.Failed != s.Total || len(s.Results) != s.Total {
		t.Errorf("摘要不完整: total=%d completed=%d skipped=%d failed=%d results=%d",
			s.Total, s.Completed, s.Skipped, s.Failed, len(s.Results))
	}
}

func TestOrchestrator_ConcurrencyBound(t *testing.T) {
	dir := t.TempDir()
	cfg := testDownloadConfig()
	cfg.Workers = 3
	dl := &fakeDownloader{delay: 20 * time.Millisecond}
	runLog := utils.NewMemoryRunLog()

	o := NewOrchestrator(cfg, dl, nil, runLog, nil)
	tasks := makeTasks(dir, "http://portal", 12)
	summary, err := o.Run(context.Background(), dir, tasks)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	assertComplete(t, summary)
	if summary.Completed != 12 {
		t.Errorf("Completed = %d, want 12", summary.Completed)
	}
	if max := dl.maxInflight.Load(); max > 3 {
		t.Errorf("并发数超过上限: %d", max)
	}
	for i, r := range summary.Results {
		if r.Task.Index != i {
			t.Errorf("结果应按遍历顺序排列: 位置%d是任务%d", i, r.Task.Index)
		}
	}
	if done, total := o.Progress(); done != 12 || total != 12 {
		t.Errorf("Progress() = (%d, %d)", done, total)
	}

	// 每个任务: started -> completed
	for _, task := range tasks {
		events := eventsFor(runLog, task.Node.RefID)
		if len(events) != 2 || events[0].Outcome != models.OutcomeStarted || events[1].Outcome != models.OutcomeCompleted {
			t.Errorf("任务 %s 的事件顺序错误: %+v", task.Node.RefID, events)
		}
	}
}

func TestOrchestrator_Idempotent(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprintf(w, "inhalt %s", r.URL.Path)
	}))
	defer server.Close()

	dir := t.TempDir()
	cfg := testDownloadConfig()
	tasks := makeTasks(dir, server.URL, 5)
	tr := NewTransferer(server.Client(), nil, nil, cfg)

	first, err := NewOrchestrator(cfg, tr, nil, nil, nil).Run(context.Background(), dir, tasks)
	if err != nil || first.Completed != 5 {
		t.Fatalf("第一次运行: completed=%d err=%v", first.Completed, err)
	}
	before := requests.Load()

	runLog := utils.NewMemoryRunLog()
	second, err := NewOrchestrator(cfg, tr, nil, runLog, nil).Run(context.Background(), dir, tasks)
	if err != nil {
		t.Fatalf("第二次运行失败: %v", err)
	}
	if second.Skipped != 5 || runLog.Count(models.OutcomeSkipped, models.ReasonExists) != 5 {
		t.Errorf("第二次运行应全部跳过: skipped=%d", second.Skipped)
	}
	if requests.Load() != before {
		t.Errorf("第二次运行不应发出请求: %d -> %d", before, requests.Load())
	}

	t.Run("覆盖已存在文件", func(t *testing.T) {
		cfg.OverwriteExisting = true
		third, _ := NewOrchestrator(cfg, NewTransferer(server.Client(), nil, nil, cfg), nil, nil, nil).Run(context.Background(), dir, tasks)
		if third.Completed != 5 {
			t.Errorf("overwrite时应重新下载: completed=%d", third.Completed)
		}
	})
}

func TestOrchestrator_ExistingConvertedPDF(t *testing.T) {
	dir := t.TempDir()
	cfg := testDownloadConfig()
	cfg.ConvertDocuments = true

	dest := filepath.Join(dir, "Blatt.docx")
	task := fileTask("1", "http://portal/file/1", dest)
	if err := os.WriteFile(task.ConvertedPath(), []byte("%PDF"), 0644); err != nil {
		t.Fatal(err)
	}

	dl := &fakeDownloader{}
	summary, _ := NewOrchestrator(cfg, dl, nil, nil, nil).Run(context.Background(), dir, []models.DownloadTask{task})
	if summary.Skipped != 1 || dl.calls.Load() != 0 {
		t.Errorf("已转换的PDF存在时应跳过: skipped=%d calls=%d", summary.Skipped, dl.calls.Load())
	}
}

func TestOrchestrator_ExistingWithInferredExtension(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "Blatt")
	tasks := []models.DownloadTask{fileTask("1", "http://portal/file/1", dest)}

	first := &fakeDownloader{inferExt: ".pdf"}
	summary, err := NewOrchestrator(testDownloadConfig(), first, nil, nil, nil).Run(context.Background(), dir, tasks)
	if err != nil || summary.Completed != 1 {
		t.Fatalf("首次运行应完成下载: completed=%d err=%v", summary.Completed, err)
	}
	if _, err := os.Stat(filepath.Join(dir, nameIndexFile)); err != nil {
		t.Fatalf("应记录补全后的文件名: %v", err)
	}

	second := &fakeDownloader{inferExt: ".pdf"}
	summary, _ = NewOrchestrator(testDownloadConfig(), second, nil, nil, nil).Run(context.Background(), dir, tasks)
	if summary.Skipped != 1 || second.calls.Load() != 0 {
		t.Errorf("重复运行应跳过: skipped=%d calls=%d", summary.Skipped, second.calls.Load())
	}
	if got := summary.Results[0].Detail; got != dest+".pdf" {
		t.Errorf("跳过详情 = %q, want %q", got, dest+".pdf")
	}
}

func TestOrchestrator_SimilarNamesDoNotCountAsExisting(t *testing.T) {
	tests := []struct {
		name     string
		existing string
	}{
		{"带点的兄弟文件", "Skript.v2.pdf"},
		{"未记录的同名扩展", "Skript.pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, tt.existing), []byte("fremd"), 0644); err != nil {
				t.Fatal(err)
			}

			dl := &fakeDownloader{}
			dest := filepath.Join(dir, "Skript")
			summary, err := NewOrchestrator(testDownloadConfig(), dl, nil, nil, nil).Run(context.Background(), dir,
				[]models.DownloadTask{fileTask("1", "http://portal/file/1", dest)})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if summary.Completed != 1 || dl.calls.Load() != 1 {
				t.Errorf("%s 不属于该任务, 应下载: completed=%d skipped=%d", tt.existing, summary.Completed, summary.Skipped)
			}
			data, _ := os.ReadFile(filepath.Join(dir, tt.existing))
			if string(data) != "fremd" {
				t.Errorf("%s 不应被改动", tt.existing)
			}
		})
	}
}

func TestNameIndex_CorruptFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, nameIndexFile), []byte("{kaputt"), 0644); err != nil {
		t.Fatal(err)
	}

	idx, err := loadNameIndex(dir)
	if err == nil {
		t.Error("损坏的记录应返回错误")
	}
	if _, ok := idx.Lookup(filepath.Join(dir, "Blatt")); ok {
		t.Error("损坏的记录不应命中")
	}
	if err := idx.Record(filepath.Join(dir, "Blatt"), filepath.Join(dir, "Blatt.pdf")); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	reloaded, err := loadNameIndex(dir)
	if err != nil {
		t.Fatalf("重新加载失败: %v", err)
	}
	got, ok := reloaded.Lookup(filepath.Join(dir, "Blatt"))
	if !ok || got != filepath.Join(dir, "Blatt.pdf") {
		t.Errorf("Lookup() = %q, %v", got, ok)
	}
}

func TestOrchestrator_TaskFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/file/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/file/2", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/file/3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "500")
		w.Write([]byte("kurz"))
	})
	mux.HandleFunc("/file/4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(3*1024*1024))
		w.Write(make([]byte, 3*1024*1024))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dir := t.TempDir()
	cfg := testDownloadConfig()
	cfg.MaxFileSizeMB = 1
	tasks := makeTasks(dir, server.URL, 4)
	runLog := utils.NewMemoryRunLog()

	o := NewOrchestrator(cfg, NewTransferer(server.Client(), nil, nil, cfg), nil, runLog, nil)
	summary, err := o.Run(context.Background(), dir, tasks)
	if err != nil {
		t.Fatalf("单个任务失败不应中止运行: %v", err)
	}
	assertComplete(t, summary)

	want := []struct {
		state  models.TaskState
		reason models.Reason
	}{
		{models.TaskCompleted, models.ReasonNone},
		{models.TaskFailed, models.ReasonHTTP},
		{models.TaskFailed, models.ReasonTransfer},
		{models.TaskSkipped, models.ReasonSize},
	}
	for i, w := range want {
		r := summary.Results[i]
		if r.State != w.state || r.Reason != w.reason {
			t.Errorf("任务%d = (%s, %s), want (%s, %s): %s", i+1, r.State, r.Reason, w.state, w.reason, r.Detail)
		}
		if r.State != models.TaskCompleted {
			if _, err := os.Stat(r.Task.Destination); !os.IsNotExist(err) {
				t.Errorf("任务%d不应留下文件", i+1)
			}
		}
	}
	if runLog.Count(models.OutcomeFailed, models.ReasonHTTP) != 1 {
		t.Error("运行日志应记录HTTP失败")
	}
	if !summary.HasFailures() {
		t.Error("HasFailures() 应为true")
	}
}

func TestOrchestrator_SessionRejectedAborts(t *testing.T) {
	dir := t.TempDir()
	cfg := testDownloadConfig()
	cfg.Workers = 1
	dl := &fakeDownloader{errs: map[string]error{
		"3": &models.TransferError{URL: "x", StatusCode: 401, Cause: models.ErrSessionRejected},
	}}

	summary, err := NewOrchestrator(cfg, dl, nil, nil, nil).Run(context.Background(), dir, makeTasks(dir, "http://portal", 6))
	if !errors.Is(err, models.ErrSessionRejected) {
		t.Fatalf("期望ErrSessionRejected, 得到 %v", err)
	}
	assertComplete(t, summary)
	if summary.Completed != 2 {
		t.Errorf("Completed = %d, want 2", summary.Completed)
	}
	for _, r := range summary.Results[3:] {
		if r.Reason != models.ReasonCancelled {
			t.Errorf("剩余任务应为cancelled, 得到 %s", r.Reason)
		}
	}
}

func TestOrchestrator_Cancelled(t *testing.T) {
	dir := t.TempDir()
	cfg := testDownloadConfig()
	cfg.Workers = 2
	dl := &fakeDownloader{delay: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(80 * time.Millisecond)
		cancel()
	}()

	summary, err := NewOrchestrator(cfg, dl, nil, nil, nil).Run(ctx, dir, makeTasks(dir, "http://portal", 20))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望context.Canceled, 得到 %v", err)
	}
	assertComplete(t, summary)
	if summary.Completed == 20 {
		t.Error("取消后不应完成全部任务")
	}
	for _, r := range summary.Results {
		if r.State == models.TaskFailed && r.Reason != models.ReasonCancelled {
			t.Errorf("取消导致的失败原因应为cancelled, 得到 %s", r.Reason)
		}
	}
}

func TestOrchestrator_StorageGuard(t *testing.T) {
	t.Run("目录不可写", func(t *testing.T) {
		guard := &fakeGuard{writableErr: fmt.Errorf("%w: /ro", models.ErrDestinationUnwritable)}
		dl := &fakeDownloader{}
		_, err := NewOrchestrator(testDownloadConfig(), dl, nil, nil, guard).Run(context.Background(), t.TempDir(), makeTasks(t.TempDir(), "http://portal", 3))
		if !errors.Is(err, models.ErrDestinationUnwritable) {
			t.Errorf("期望ErrDestinationUnwritable, 得到 %v", err)
		}
		if dl.calls.Load() != 0 {
			t.Error("目录不可写时不应下载")
		}
	})

	t.Run("磁盘已满", func(t *testing.T) {
		dir := t.TempDir()
		cfg := testDownloadConfig()
		cfg.Workers = 1
		guard := &fakeGuard{diskErrAfter: 3}

		summary, err := NewOrchestrator(cfg, &fakeDownloader{}, nil, nil, guard).Run(context.Background(), dir, makeTasks(dir, "http://portal", 5))
		if !errors.Is(err, models.ErrDiskFull) {
			t.Fatalf("期望ErrDiskFull, 得到 %v", err)
		}
		assertComplete(t, summary)
		if summary.Completed != 2 || summary.Results[2].Reason != models.ReasonFilesystem {
			t.Errorf("completed=%d, 第三个任务原因=%s", summary.Completed, summary.Results[2].Reason)
		}
	})
}

func TestOrchestrator_PostProcessEvents(t *testing.T) {
	dir := t.TempDir()
	cfg := testDownloadConfig()
	cfg.ConvertDocuments = true

	dest := filepath.Join(dir, "Blatt.docx")
	tasks := []models.DownloadTask{fileTask("42", "http://portal/file/42", dest)}
	runLog := utils.NewMemoryRunLog()
	pipeline := NewPipeline(cfg, DefaultToolsConfig(), newFakeRunner())

	summary, err := NewOrchestrator(cfg, &fakeDownloader{}, pipeline, runLog, nil).Run(context.Background(), dir, tasks)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !strings.HasSuffix(summary.Results[0].FinalPath, "Blatt.pdf") {
		t.Errorf("FinalPath = %s", summary.Results[0].FinalPath)
	}

	events := eventsFor(runLog, "42")
	outcomes := make([]models.Outcome, 0, len(events))
	for _, ev := range events {
		outcomes = append(outcomes, ev.Outcome)
	}
	want := []models.Outcome{models.OutcomeStarted, models.OutcomeCompleted, models.OutcomeRenamed}
	if fmt.Sprint(outcomes) != fmt.Sprint(want) {
		t.Errorf("事件顺序 = %v, want %v", outcomes, want)
	}
}

// eventsFor 按记录顺序返回某个ref id的事件
func eventsFor(l *utils.RunLog, refID string) []models.Event {
	var out []models.Event
	for _, ev := range l.Events() {
		if ev.RefID == refID {
			out = append(out, ev)
		}
	}
	return out
}
