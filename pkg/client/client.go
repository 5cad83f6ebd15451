// Package client provides the fetch core of the crawler: GET, POST and HEAD
// with a fixed-backoff retry policy, deterministic error classification,
// response body decoding, request pacing and a bound on in-flight tasks.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/comment-crawler/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for fetch operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_requests_total",
		Help: "Total outgoing requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crawler_request_duration_seconds",
		Help:    "Outgoing request duration in seconds by method",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_errors_total",
		Help: "Total failed request attempts by error class",
	}, []string{"class"})
)

// Config holds the client configuration. It is copied by New; later changes
// to the caller's value have no effect.
type Config struct {
	// MaxRetries is the number of attempts per call, including the first.
	// Permanent failures (401, 404, other 4xx) stop after one attempt.
	MaxRetries int

	// Timeout bounds each individual attempt.
	Timeout time.Duration

	// RetryBackoff is the fixed wait between failed attempts.
	// Zero means Timeout.
	RetryBackoff time.Duration

	// MaxConnections bounds open sockets per host.
	MaxConnections int

	// MaxTasks bounds concurrent calls when Tasks is nil.
	MaxTasks int

	// Headers are sent with every request. Per-call headers override them.
	Headers http.Header

	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64

	// Tasks shares one task bound between clients.
	Tasks *TaskLimiter

	// RateLimiter shares one pacing and 429 cooldown state between clients.
	RateLimiter *ratelimit.Tracker

	// HTTPClient replaces the default transport (tests).
	HTTPClient *http.Client

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default fetch configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		Timeout:        10 * time.Second,
		MaxConnections: 50,
		MaxTasks:       50,
		Headers:        http.Header{},
	}
}

// Client performs resilient HTTP requests. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *ratelimit.Tracker
	tasks      *TaskLimiter
	policy     RetryPolicy
	headers    http.Header
	timeout    time.Duration
	logger     zerolog.Logger
	closed     atomic.Bool
}

// New creates a client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("%w: max_retries must be >= 1 (got %d)", ErrInvalidArgument, cfg.MaxRetries)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive (got %v)", ErrInvalidArgument, cfg.Timeout)
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultConfig().MaxConnections
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = DefaultConfig().MaxTasks
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = cfg.Timeout
	}

	logger := log.With().Str("component", "fetch-core").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = ratelimit.NewTracker(cfg.RequestsPerSecond, logger)
	}

	tasks := cfg.Tasks
	if tasks == nil {
		tasks = NewTaskLimiter(cfg.MaxTasks)
	}

	policy := DefaultRetryPolicy()
	policy.MaxAttempts = cfg.MaxRetries
	policy.Backoff = backoff

	return &Client{
		httpClient: buildHTTPClient(cfg),
		limiter:    limiter,
		tasks:      tasks,
		policy:     policy,
		headers:    cfg.Headers.Clone(),
		timeout:    cfg.Timeout,
		logger:     logger,
	}, nil
}

func buildHTTPClient(cfg Config) *http.Client {
	var hc http.Client
	if cfg.HTTPClient != nil {
		hc = *cfg.HTTPClient
	} else {
		hc.Transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxConnsPerHost:     cfg.MaxConnections,
			MaxIdleConns:        cfg.MaxConnections,
			MaxIdleConnsPerHost: cfg.MaxConnections,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true,
		}
	}
	if hc.CheckRedirect == nil {
		// Redirects are outcomes, not hops: a 302 is handed to the caller.
		hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return &hc
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, rawURL string, headers http.Header) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, headers)
}

// Post performs a POST request with the given body.
func (c *Client) Post(ctx context.Context, rawURL string, body []byte, headers http.Header) (*Response, error) {
	if body == nil {
		body = []byte{}
	}
	return c.do(ctx, http.MethodPost, rawURL, body, headers)
}

// Head performs a HEAD request. HEAD responses are never checked for an
// empty body.
func (c *Client) Head(ctx context.Context, rawURL string, headers http.Header) (*Response, error) {
	return c.do(ctx, http.MethodHead, rawURL, nil, headers)
}

// Policy returns the retry policy applied to every call.
func (c *Client) Policy() RetryPolicy {
	return c.policy
}

// RateLimitState returns the pacing and cooldown state.
func (c *Client) RateLimitState() ratelimit.State {
	return c.limiter.GetState()
}

// Close releases idle connections. It is idempotent; calls made after
// Close fail with ErrClosed.
func (c *Client) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.httpClient.CloseIdleConnections()
		c.logger.Debug().Msg("Fetch client closed")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, headers http.Header) (*Response, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, fmt.Errorf("%w: url %q: %v", ErrInvalidArgument, rawURL, err)
	}

	release, err := c.tasks.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var out *Response
	err = c.policy.Do(ctx, c.logger.With().Str("method", method).Str("url", logURL(rawURL)).Logger(), func(attempt int) error {
		resp, err := c.attempt(ctx, method, rawURL, body, headers, attempt)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// attempt performs exactly one request and classifies its outcome.
func (c *Client) attempt(ctx context.Context, method, rawURL string, body []byte, headers http.Header, attempt int) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrInvalidArgument, err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.connectionError(ctx, method, rawURL, attempt, err)
	}
	defer resp.Body.Close()

	data, err := readBody(resp)
	if err != nil {
		return nil, c.connectionError(ctx, method, rawURL, attempt, err)
	}

	status := resp.StatusCode
	requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()

	if serr := statusError(status, logURL(rawURL)); serr != nil {
		class := classifyStatus(status)
		errorsTotal.WithLabelValues(string(class)).Inc()
		if status == http.StatusTooManyRequests {
			c.limiter.RecordRateLimited(resp.Header)
		}
		c.logger.Error().
			Str("method", method).
			Str("url", logURL(rawURL)).
			Int("status", status).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Msg("HTTP request failed")
		return nil, serr
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	out := &Response{
		StatusCode: status,
		Body:       data,
		Header:     resp.Header,
		URL:        finalURL,
	}

	if method != http.MethodHead && status < 300 && out.blank() {
		errorsTotal.WithLabelValues(string(ErrorClassEmpty)).Inc()
		c.logger.Warn().
			Str("method", method).
			Str("url", logURL(rawURL)).
			Int("attempt", attempt).
			Int("max_attempts", c.policy.MaxAttempts).
			Msg("Empty response body")
		return nil, fmt.Errorf("%w: %s %s", ErrEmptyResponse, method, logURL(rawURL))
	}

	return out, nil
}

func (c *Client) connectionError(ctx context.Context, method, rawURL string, attempt int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctxErr)
	}
	requestsTotal.WithLabelValues(method, "connection_error").Inc()
	errorsTotal.WithLabelValues(string(ErrorClassConnection)).Inc()

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	c.logger.Warn().
		Err(err).
		Str("method", method).
		Str("url", logURL(rawURL)).
		Int("attempt", attempt).
		Msg("Connection error")
	return fmt.Errorf("%w: %s %s: %v", ErrConnection, method, logURL(rawURL), err)
}

// logURL strips the query string, which carries tokens and signatures.
func logURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
