// Package signer appends the anti-bot signature the remote API requires on
// every request. The signature algorithm itself is a black box behind the
// Transform interface.
package signer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/comment-crawler/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrSigning is matched by every signing failure.
var ErrSigning = errors.New("signing failed")

var signaturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "crawler_signatures_total",
	Help: "Total signing calls by result",
}, []string{"result"})

// SigningError is returned once all signing attempts failed.
type SigningError struct {
	Attempts int
	Last     error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrSigning, e.Attempts, e.Last)
}

// Is reports whether target is ErrSigning.
func (e *SigningError) Is(target error) bool {
	return target == ErrSigning
}

func (e *SigningError) Unwrap() error {
	return e.Last
}

// Config tunes the retry behaviour.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration
	Logger      *zerolog.Logger
}

// DefaultConfig returns 3 attempts with a fixed 1s backoff.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, Backoff: time.Second}
}

// Signer signs request URLs. It keeps no per-request state.
type Signer struct {
	transform Transform
	policy    client.RetryPolicy
	logger    zerolog.Logger
}

// New creates a signer around transform.
func New(transform Transform, cfg Config) *Signer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	logger := log.With().Str("component", "signer").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Signer{
		transform: transform,
		policy: client.RetryPolicy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     cfg.Backoff,
			Retryable: func(err error) bool {
				return !errors.Is(err, client.ErrContextCancelled) &&
					!errors.Is(err, context.Canceled) &&
					!errors.Is(err, context.DeadlineExceeded)
			},
		},
		logger: logger,
	}
}

// Sign returns baseURL with the parameters and signature appended:
// base + ("&" or "?") + query + "&X-Bogus=" + signature. The query is the
// transform's rewritten parameter string when it returns one, else the
// canonical encoding of params.
func (s *Signer) Sign(ctx context.Context, baseURL string, params *Params, userAgent string) (string, error) {
	if params == nil {
		params = NewParams()
	}
	canonical := params.Encode()
	in := Input{URL: baseURL, UserAgent: userAgent, Data: canonical}

	var out Output
	err := s.policy.Do(ctx, s.logger, func(attempt int) error {
		res, err := s.transform.Transform(ctx, in)
		if err != nil {
			return err
		}
		if res.StatusCode != 0 {
			return fmt.Errorf("signing service status_code %d", res.StatusCode)
		}
		if res.Signature == "" {
			return errors.New("empty signature")
		}
		out = res
		return nil
	})
	if err != nil {
		signaturesTotal.WithLabelValues("failure").Inc()
		var exhausted *client.RetryExhaustedError
		if errors.As(err, &exhausted) {
			s.logger.Error().Err(exhausted.Last).Int("attempts", exhausted.Attempts).Msg("Request signing failed")
			return "", &SigningError{Attempts: exhausted.Attempts, Last: exhausted.Last}
		}
		s.logger.Error().Err(err).Msg("Request signing aborted")
		return "", &SigningError{Attempts: 1, Last: err}
	}
	signaturesTotal.WithLabelValues("success").Inc()

	query := canonical
	if out.Params != "" {
		query = out.Params
	}
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	if query == "" {
		return baseURL + sep + "X-Bogus=" + out.Signature, nil
	}
	return baseURL + sep + query + "&X-Bogus=" + out.Signature, nil
}
