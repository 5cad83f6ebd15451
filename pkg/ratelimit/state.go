// Package ratelimit paces outgoing requests and backs off after the remote
// API answers 429 Too Many Requests.
package ratelimit

import (
	"time"
)

// DefaultCooldown is applied after a 429 response without a usable Retry-After header.
const DefaultCooldown = 5 * time.Second

// MaxCooldown caps the wait requested by a Retry-After header.
const MaxCooldown = 2 * time.Minute

// State is a snapshot of the tracker.
type State struct {
	// RequestsPerSecond is the configured pacing rate. Zero means unpaced.
	RequestsPerSecond float64 `json:"requests_per_second"`

	// CooldownUntil is when requests may resume after the last 429.
	CooldownUntil time.Time `json:"cooldown_until"`

	// RateLimitHits counts 429 responses seen by the tracker.
	RateLimitHits int `json:"rate_limit_hits"`

	// LastHit is when the last 429 was recorded.
	LastHit time.Time `json:"last_hit"`
}

// InCooldown reports whether requests are currently held back.
func (s State) InCooldown() bool {
	return time.Now().Before(s.CooldownUntil)
}

// TimeUntilReset returns the remaining cooldown, or 0 if none.
func (s State) TimeUntilReset() time.Duration {
	d := time.Until(s.CooldownUntil)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if no 429 was recorded within maxAge.
func (s State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastHit) > maxAge
}
