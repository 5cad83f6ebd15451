package token

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/comment-crawler/internal/testutil"
	"github.com/Sternrassler/comment-crawler/pkg/client"
	"github.com/rs/zerolog"
)

func newTestCache(t *testing.T, mock *testutil.MockAPI) *Cache {
	t.Helper()

	logger := zerolog.Nop()
	cfg := client.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.Timeout = 2 * time.Second
	cfg.RetryBackoff = 5 * time.Millisecond
	cfg.Logger = &logger

	fetch, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	t.Cleanup(func() { fetch.Close() })

	return NewCache(fetch, Config{
		WebURL:       mock.URL() + testutil.PathWeb,
		LoginInfoURL: mock.URL() + testutil.PathLoginInfo,
		QRCodeURL:    mock.URL() + testutil.PathQRCode,
		UserAgent:    "TestAgent/1.0",
		Logger:       &logger,
	})
}

func TestCache_Get(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	cache := newTestCache(t, mock)

	tests := []struct {
		name Name
		want string
	}{
		{name: MsToken, want: testutil.MockMsToken},
		{name: TTWid, want: testutil.MockTTWid},
		{name: OdinTT, want: testutil.MockOdinTT},
	}

	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			got, err := cache.Get(context.Background(), tt.name)
			if err != nil {
				t.Fatalf("Get(%s) error = %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("Get(%s) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestCache_SequentialCallsAcquireOnce(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	cache := newTestCache(t, mock)

	for i := 0; i < 2; i++ {
		if _, err := cache.Get(context.Background(), TTWid); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}
	if got := mock.RequestCount(testutil.PathWeb); got != 1 {
		t.Errorf("ttwid acquisitions = %d, want 1", got)
	}
}

func TestCache_ConcurrentCallsShareAcquisition(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse(testutil.PathQRCode, testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"status_code":0}`,
		Headers:    map[string]string{"Set-Cookie": "odin_tt=shared; Path=/"},
		Delay:      50 * time.Millisecond,
	})
	cache := newTestCache(t, mock)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := cache.Get(context.Background(), OdinTT); err != nil || v != "shared" {
				t.Errorf("Get() = %q, %v", v, err)
			}
		}()
	}
	wg.Wait()

	if got := mock.RequestCount(testutil.PathQRCode); got != 1 {
		t.Errorf("odin_tt acquisitions = %d, want 1", got)
	}
}

func TestCache_CancelledCallerDoesNotFailOthers(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()

	reached := make(chan struct{}, 1)
	gate := make(chan struct{})
	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	defer release()
	mock.SetHandler(testutil.PathQRCode, func(w http.ResponseWriter, r *http.Request) {
		reached <- struct{}{}
		<-gate
		http.SetCookie(w, &http.Cookie{Name: "odin_tt", Value: "shared", Path: "/"})
		w.Write([]byte(`{"status_code":0}`))
	})
	cache := newTestCache(t, mock)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.Get(first, OdinTT)
		firstErr <- err
	}()

	<-reached
	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, client.ErrContextCancelled) {
			t.Errorf("cancelled Get() error = %v, want ErrContextCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting for the acquisition")
	}

	second := make(chan string, 1)
	go func() {
		v, err := cache.Get(context.Background(), OdinTT)
		if err != nil {
			t.Errorf("second Get() error = %v", err)
		}
		second <- v
	}()
	release()

	if v := <-second; v != "shared" {
		t.Errorf("second Get() = %q, want shared", v)
	}
	if got := mock.RequestCount(testutil.PathQRCode); got != 1 {
		t.Errorf("odin_tt acquisitions = %d, want 1", got)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want the acquired token cached", cache.Len())
	}
}

func TestCache_UnknownName(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	cache := newTestCache(t, mock)

	if _, err := cache.Get(context.Background(), Name("sessionid")); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Get(sessionid) error = %v, want ErrInvalidArgument", err)
	}
}

func TestCache_MsTokenFallback(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse(testutil.PathLoginInfo, testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"data":{}}`,
	})
	cache := newTestCache(t, mock)

	got, err := cache.Get(context.Background(), MsToken)
	if err != nil {
		t.Fatalf("Get(msToken) error = %v", err)
	}
	if len(got) != PlaceholderLength {
		t.Errorf("placeholder length = %d, want %d", len(got), PlaceholderLength)
	}

	again, _ := cache.Get(context.Background(), MsToken)
	if again != got {
		t.Error("placeholder should be cached for the session")
	}
}

func TestCache_HardFailures(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	mock.SetResponse(testutil.PathWeb, testutil.MockResponse{StatusCode: http.StatusOK})
	mock.SetResponse(testutil.PathQRCode, testutil.MockResponse{StatusCode: http.StatusNotFound, Body: "gone"})
	cache := newTestCache(t, mock)

	for _, name := range []Name{TTWid, OdinTT} {
		_, err := cache.Get(context.Background(), name)
		if !errors.Is(err, ErrTokenUnavailable) {
			t.Errorf("Get(%s) error = %v, want ErrTokenUnavailable", name, err)
		}
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d, failures must not be cached", cache.Len())
	}
}

func TestCache_ResetAndCookieHeader(t *testing.T) {
	mock := testutil.NewMockAPI()
	defer mock.Close()
	cache := newTestCache(t, mock)

	header, err := cache.CookieHeader(context.Background())
	if err != nil {
		t.Fatalf("CookieHeader() error = %v", err)
	}
	want := "msToken=" + testutil.MockMsToken + "; odin_tt=" + testutil.MockOdinTT + "; ttwid=" + testutil.MockTTWid + ";"
	if header != want {
		t.Errorf("CookieHeader() = %q, want %q", header, want)
	}
	if cache.Len() != 3 {
		t.Errorf("Len() = %d, want 3", cache.Len())
	}

	cache.Reset()
	if cache.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", cache.Len())
	}
	if _, err := cache.Get(context.Background(), TTWid); err != nil {
		t.Fatalf("Get() after Reset error = %v", err)
	}
	if got := mock.RequestCount(testutil.PathWeb); got != 2 {
		t.Errorf("ttwid acquisitions = %d, want 2 after Reset", got)
	}
}

func TestPlaceholder(t *testing.T) {
	a, err := Placeholder()
	if err != nil {
		t.Fatalf("Placeholder() error = %v", err)
	}
	b, _ := Placeholder()
	if a == b {
		t.Error("placeholders should differ")
	}
	if strings.Trim(a, placeholderAlphabet) != "" {
		t.Errorf("placeholder %q has characters outside the alphabet", a)
	}
}
