package signer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/comment-crawler/pkg/client"
	"github.com/rs/zerolog"
)

func newTestSigner(t Transform) *Signer {
	logger := zerolog.Nop()
	return New(t, Config{MaxAttempts: 3, Backoff: 5 * time.Millisecond, Logger: &logger})
}

// hashTransform signs deterministically from its input.
var hashTransform = TransformFunc(func(_ context.Context, in Input) (Output, error) {
	sum := sha256.Sum256([]byte(in.URL + "|" + in.UserAgent + "|" + in.Data))
	return Output{Signature: hex.EncodeToString(sum[:8])}, nil
})

func TestParams_Encode(t *testing.T) {
	p := NewParams().
		Set("aweme_id", "123").
		Set("cursor", "0").
		Set("browser_version", "5.0 (Windows)").
		Set("count", "20")
	p.Set("cursor", "40")

	want := "aweme_id=123&cursor=40&browser_version=5.0+%28Windows%29&count=20"
	if got := p.Encode(); got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
	if p.Len() != 4 {
		t.Errorf("Len() = %d, want 4", p.Len())
	}

	clone := p.Clone()
	clone.Set("extra", "1")
	if p.Len() != 4 {
		t.Error("Clone() shares state with the original")
	}
}

func TestSigner_Deterministic(t *testing.T) {
	s := newTestSigner(hashTransform)
	params := NewParams().Set("aweme_id", "7").Set("cursor", "0")

	first, err := s.Sign(context.Background(), "https://api.example/list/", params, "UA/1")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	second, err := s.Sign(context.Background(), "https://api.example/list/", params, "UA/1")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if first != second {
		t.Errorf("Sign() not deterministic: %q vs %q", first, second)
	}
}

func TestSigner_Separator(t *testing.T) {
	fixed := TransformFunc(func(context.Context, Input) (Output, error) {
		return Output{Signature: "SIG"}, nil
	})
	s := newTestSigner(fixed)
	params := NewParams().Set("a", "1")

	tests := []struct {
		name string
		base string
		want string
	}{
		{name: "no query", base: "https://h/p", want: "https://h/p?a=1&X-Bogus=SIG"},
		{name: "existing query", base: "https://h/p?x=y", want: "https://h/p?x=y&a=1&X-Bogus=SIG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Sign(context.Background(), tt.base, params, "UA")
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Sign() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSigner_RewrittenParams(t *testing.T) {
	rewrite := TransformFunc(func(context.Context, Input) (Output, error) {
		return Output{Signature: "SIG", Params: "b=2&a=1"}, nil
	})
	s := newTestSigner(rewrite)

	got, err := s.Sign(context.Background(), "https://h/p", NewParams().Set("a", "1").Set("b", "2"), "UA")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if want := "https://h/p?b=2&a=1&X-Bogus=SIG"; got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}
}

func TestSigner_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	flaky := TransformFunc(func(context.Context, Input) (Output, error) {
		switch calls.Add(1) {
		case 1:
			return Output{}, errors.New("transport down")
		case 2:
			return Output{StatusCode: 5}, nil
		default:
			return Output{Signature: "OK"}, nil
		}
	})

	s := newTestSigner(flaky)
	got, err := s.Sign(context.Background(), "https://h/p", NewParams().Set("a", "1"), "UA")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if got != "https://h/p?a=1&X-Bogus=OK" {
		t.Errorf("Sign() = %q", got)
	}
	if calls.Load() != 3 {
		t.Errorf("transform calls = %d, want 3", calls.Load())
	}
}

func TestSigner_Exhausted(t *testing.T) {
	var calls atomic.Int32
	empty := TransformFunc(func(context.Context, Input) (Output, error) {
		calls.Add(1)
		return Output{}, nil
	})

	s := newTestSigner(empty)
	_, err := s.Sign(context.Background(), "https://h/p", NewParams(), "UA")

	if !errors.Is(err, ErrSigning) {
		t.Fatalf("Sign() error = %v, want ErrSigning", err)
	}
	var signErr *SigningError
	if !errors.As(err, &signErr) || signErr.Attempts != 3 {
		t.Errorf("Sign() error = %v, want *SigningError with 3 attempts", err)
	}
	if calls.Load() != 3 {
		t.Errorf("transform calls = %d, want 3", calls.Load())
	}
}

func TestHTTPTransform(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status_code":0,"X-Bogus":"DFSz","params":""}`))
	}))
	defer server.Close()

	logger := zerolog.Nop()
	cfg := client.DefaultConfig()
	cfg.Logger = &logger
	fetch, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	defer fetch.Close()

	s := newTestSigner(&HTTPTransform{Fetch: fetch, URL: server.URL})
	got, err := s.Sign(context.Background(), "https://h/api/comment/list/", NewParams().Set("aweme_id", "1"), "UA")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if want := "https://h/api/comment/list/?aweme_id=1&X-Bogus=DFSz"; got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}
}
