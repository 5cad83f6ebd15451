package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/comment-crawler/internal/config"
	"github.com/Sternrassler/comment-crawler/internal/testutil"
	"github.com/Sternrassler/comment-crawler/pkg/job"
	"github.com/Sternrassler/comment-crawler/pkg/pagination"
	"github.com/Sternrassler/comment-crawler/pkg/tiktok"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T, mock *testutil.MockAPI, ping func(context.Context) error) *httptest.Server {
	t.Helper()
	logger := zerolog.Nop()

	tcfg := tiktok.DefaultConfig()
	tcfg.Endpoints = tiktok.EndpointsFor(mock.URL())
	tcfg.SignerURL = mock.SignURL()
	tcfg.Client.Timeout = 2 * time.Second
	tcfg.Client.RetryBackoff = 5 * time.Millisecond
	tcfg.Signer.Backoff = 5 * time.Millisecond
	tcfg.Logger = &logger

	mcfg := job.DefaultConfig(job.TikTokFactory(tcfg))
	mcfg.Batch = pagination.BatchConfig{BatchSize: 8, Logger: &logger}
	mcfg.CommentPause = 0
	mcfg.ReplyPause = 0
	mcfg.Logger = &logger

	manager, err := job.NewManager(mcfg)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	srv := &server{jobs: manager, ping: ping, logger: logger}
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body string, out any) int {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func waitForStatus(t *testing.T, base, id string) job.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var j job.Job
		if code := doJSON(t, http.MethodGet, base+"/crawl/status/"+id, "", &j); code != http.StatusOK {
			t.Fatalf("status code = %d", code)
		}
		if j.Status.Terminal() {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish", id)
	return job.Job{}
}

func TestHealthEndpoint(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	tests := []struct {
		name      string
		ping      func(context.Context) error
		wantCode  int
		wantRedis string
	}{
		{"no redis", nil, http.StatusOK, "disabled"},
		{"redis up", func(context.Context) error { return nil }, http.StatusOK, "healthy"},
		{"redis down", func(context.Context) error { return errors.New("connection refused") }, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, mock, tt.ping)

			var body map[string]any
			code := doJSON(t, http.MethodGet, ts.URL+"/health", "", &body)
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if body["redis"] != tt.wantRedis {
				t.Errorf("redis = %v, want %s", body["redis"], tt.wantRedis)
			}
		})
	}
}

func TestCrawlFlow(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.AddComments("7301234567890123456", 6)
	ts := newTestServer(t, mock, nil)

	var started startResponse
	code := doJSON(t, http.MethodPost, ts.URL+"/crawl/start", `{"video_id":"7301234567890123456","page_size":4}`, &started)
	if code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	if started.TaskID == "" || started.Status != job.StatusPending || started.Message != "Crawling task started" {
		t.Errorf("start response = %+v", started)
	}

	j := waitForStatus(t, ts.URL, started.TaskID)
	if j.Status != job.StatusCompleted || j.Progress != 100 {
		t.Fatalf("job = %+v", j)
	}
	// 0+1+2+3+0+1 replies.
	if j.Stats.Comments != 6 || j.Stats.Replies != 7 {
		t.Errorf("stats = %+v", j.Stats)
	}

	var artifact job.Artifact
	if code := doJSON(t, http.MethodGet, ts.URL+j.ResultRef, "", &artifact); code != http.StatusOK {
		t.Fatalf("data status = %d for %s", code, j.ResultRef)
	}
	if artifact.Metadata.TotalComments != 6 || len(artifact.Comments) != 6 {
		t.Errorf("artifact metadata = %+v", artifact.Metadata)
	}

	var list listResponse
	if code := doJSON(t, http.MethodGet, ts.URL+"/crawl/list", "", &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if list.Total != 1 || len(list.Tasks) != 1 || list.Tasks[0].ID != started.TaskID {
		t.Errorf("list = %+v", list)
	}

	var msg messageResponse
	doJSON(t, http.MethodPost, ts.URL+"/crawl/cancel?task_id="+started.TaskID, "", &msg)
	if msg.Message != "Task already completed" {
		t.Errorf("cancel message = %q", msg.Message)
	}

	doJSON(t, http.MethodDelete, ts.URL+"/crawl/cleanup", "", &msg)
	if msg.Message != "Removed 0 old tasks" {
		t.Errorf("cleanup message = %q", msg.Message)
	}
}

func TestStartValidation(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	ts := newTestServer(t, mock, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"video_id":`},
		{"missing video id", `{}`},
		{"bad video id", `{"video_id":"a/b"}`},
		{"page size too large", `{"video_id":"v","page_size":1000}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e errorResponse
			if code := doJSON(t, http.MethodPost, ts.URL+"/crawl/start", tt.body, &e); code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
			if e.Detail == "" {
				t.Error("expected error detail")
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	ts := newTestServer(t, mock, nil)

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/crawl/status/unknown"},
		{http.MethodPost, "/crawl/cancel?task_id=unknown"},
		{http.MethodGet, "/data/tiktok_comments_v_20260101_000000.json"},
		{http.MethodGet, "/data/not-an-artifact"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var e errorResponse
			if code := doJSON(t, tt.method, ts.URL+tt.path, "", &e); code != http.StatusNotFound {
				t.Errorf("status = %d, want 404", code)
			}
		})
	}
}

func TestCancelAll(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.AddComments("slow", 40)
	mock.SetPageDelay(200 * time.Millisecond)
	ts := newTestServer(t, mock, nil)

	var started startResponse
	doJSON(t, http.MethodPost, ts.URL+"/crawl/start", `{"video_id":"slow","page_size":2}`, &started)

	var msg messageResponse
	doJSON(t, http.MethodPost, ts.URL+"/crawl/cancel", "", &msg)
	if msg.Message != "Cancelled 1 tasks" {
		t.Errorf("cancel message = %q", msg.Message)
	}

	j := waitForStatus(t, ts.URL, started.TaskID)
	if j.Status != job.StatusCancelled {
		t.Errorf("status = %s, want cancelled", j.Status)
	}
}

func TestCORSPreflight(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	ts := newTestServer(t, mock, nil)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/crawl/start", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	ts := newTestServer(t, mock, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "# TYPE crawler_jobs_running gauge") {
		t.Error("Expected metrics output to contain crawler_jobs_running")
	}
}

func TestCrawlerConfig(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Fetch.BaseURL = "http://127.0.0.1:1"
	cfg.Fetch.MaxTasks = 7
	cfg.Crawl.PageSize = 30

	c := crawlerConfig(cfg)
	if c.Endpoints.CommentList != "http://127.0.0.1:1/api/comment/list/" {
		t.Errorf("CommentList = %q", c.Endpoints.CommentList)
	}
	if c.PageSize != 30 || c.Client.MaxRetries != cfg.Fetch.MaxRetries {
		t.Errorf("crawler config = %+v", c)
	}
	if c.Client.Tasks == nil || c.Client.Tasks.Max() != 7 {
		t.Errorf("task limiter not shared: %+v", c.Client.Tasks)
	}
	if c.Client.RateLimiter == nil {
		t.Error("rate limiter not set")
	}
}

func TestRunCleanup_StopsOnCancel(t *testing.T) {
	manager, err := job.NewManager(job.DefaultConfig(func(job.Request) (job.Crawler, error) {
		return nil, errors.New("unused")
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer manager.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runCleanup(ctx, manager, 5*time.Millisecond, zerolog.Nop())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runCleanup did not stop")
	}
}
