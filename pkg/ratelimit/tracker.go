package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_rate_limit_hits_total",
		Help: "Total number of 429 responses recorded",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_rate_limit_cooldown_waits_total",
		Help: "Total number of requests held back by a 429 cooldown",
	})

	rateLimitCooldownSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_rate_limit_cooldown_seconds",
		Help: "Length of the most recent 429 cooldown in seconds",
	})
)

// Tracker gates requests. It enforces an optional steady request rate and a
// cooldown after the remote side reports rate limiting.
type Tracker struct {
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu    sync.Mutex
	state State
}

// NewTracker creates a tracker. requestsPerSecond <= 0 disables pacing;
// the 429 cooldown is always active.
func NewTracker(requestsPerSecond float64, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		logger: logger,
		state:  State{RequestsPerSecond: requestsPerSecond},
	}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return t
}

// GetState returns a copy of the current state.
func (t *Tracker) GetState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Wait blocks until a request may be sent: first any active cooldown, then
// the pacing limiter.
func (t *Tracker) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}

	if wait := t.GetState().TimeUntilReset(); wait > 0 {
		rateLimitWaitsTotal.Inc()
		t.logger.Warn().Dur("wait_duration", wait).Msg("Rate limit cooldown active - delaying request")

		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if t.limiter != nil {
		return t.limiter.Wait(ctx)
	}
	return nil
}

// RecordRateLimited registers a 429 response. The cooldown comes from the
// Retry-After header (seconds or HTTP date), else DefaultCooldown.
func (t *Tracker) RecordRateLimited(headers http.Header) time.Duration {
	if t == nil {
		return 0
	}
	cooldown := parseRetryAfter(headers.Get("Retry-After"))
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if cooldown > MaxCooldown {
		cooldown = MaxCooldown
	}

	now := time.Now()
	t.mu.Lock()
	until := now.Add(cooldown)
	if until.After(t.state.CooldownUntil) {
		t.state.CooldownUntil = until
	}
	t.state.RateLimitHits++
	t.state.LastHit = now
	hits := t.state.RateLimitHits
	t.mu.Unlock()

	rateLimitHitsTotal.Inc()
	rateLimitCooldownSeconds.Set(cooldown.Seconds())
	t.logger.Warn().
		Dur("cooldown", cooldown).
		Int("rate_limit_hits", hits).
		Msg("Remote API rate limit hit - cooling down")

	return cooldown
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		return time.Until(at)
	}
	return 0
}
