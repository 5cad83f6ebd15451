package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantMin time.Duration
		wantMax time.Duration
	}{
		{name: "empty", value: "", wantMin: 0, wantMax: 0},
		{name: "seconds", value: "7", wantMin: 7 * time.Second, wantMax: 7 * time.Second},
		{name: "garbage", value: "soon", wantMin: 0, wantMax: 0},
		{
			name:    "http date",
			value:   time.Now().Add(20 * time.Second).UTC().Format(http.TimeFormat),
			wantMin: 18 * time.Second,
			wantMax: 21 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseRetryAfter(tt.value)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("parseRetryAfter(%q) = %v, want between %v and %v", tt.value, got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestTracker_RecordRateLimited(t *testing.T) {
	tracker := NewTracker(0, zerolog.Nop())

	headers := http.Header{}
	headers.Set("Retry-After", "30")
	cooldown := tracker.RecordRateLimited(headers)
	if cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", cooldown)
	}

	state := tracker.GetState()
	if state.RateLimitHits != 1 {
		t.Errorf("RateLimitHits = %d, want 1", state.RateLimitHits)
	}
	if !state.InCooldown() {
		t.Error("tracker should be in cooldown after a 429")
	}

	// A shorter Retry-After never shortens an active cooldown
	headers.Set("Retry-After", "1")
	tracker.RecordRateLimited(headers)
	if remaining := tracker.GetState().TimeUntilReset(); remaining < 25*time.Second {
		t.Errorf("cooldown shortened to %v", remaining)
	}
}

func TestTracker_RecordRateLimited_DefaultsAndCap(t *testing.T) {
	tracker := NewTracker(0, zerolog.Nop())

	if got := tracker.RecordRateLimited(http.Header{}); got != DefaultCooldown {
		t.Errorf("cooldown without header = %v, want %v", got, DefaultCooldown)
	}

	headers := http.Header{}
	headers.Set("Retry-After", "86400")
	if got := tracker.RecordRateLimited(headers); got != MaxCooldown {
		t.Errorf("cooldown = %v, want cap %v", got, MaxCooldown)
	}
}

func TestTracker_WaitDuringCooldownHonorsContext(t *testing.T) {
	tracker := NewTracker(0, zerolog.Nop())
	headers := http.Header{}
	headers.Set("Retry-After", "60")
	tracker.RecordRateLimited(headers)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := tracker.Wait(ctx)
	if err == nil {
		t.Fatal("Wait() should fail when the context expires during cooldown")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Wait() took %v, should return on context expiry", elapsed)
	}
}

func TestTracker_WaitWithoutCooldown(t *testing.T) {
	tracker := NewTracker(100, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := tracker.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if got := tracker.GetState().RequestsPerSecond; got != 100 {
		t.Errorf("RequestsPerSecond = %v, want 100", got)
	}
}

func TestTracker_NilIsNoop(t *testing.T) {
	var tracker *Tracker
	if err := tracker.Wait(context.Background()); err != nil {
		t.Errorf("nil tracker Wait() = %v, want nil", err)
	}
	if got := tracker.RecordRateLimited(http.Header{}); got != 0 {
		t.Errorf("nil tracker RecordRateLimited() = %v, want 0", got)
	}
}
