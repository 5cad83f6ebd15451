package token

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/comment-crawler/pkg/client"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Name identifies a token kind.
type Name string

const (
	MsToken Name = "msToken"
	TTWid   Name = "ttwid"
	OdinTT  Name = "odin_tt"
)

// DefaultAcquireTimeout bounds one shared token acquisition.
const DefaultAcquireTimeout = 30 * time.Second

// PlaceholderLength is the length of a generated msToken.
const PlaceholderLength = 126

const placeholderAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+-"

var (
	// ErrTokenUnavailable is returned when a token without fallback cannot be acquired.
	ErrTokenUnavailable = errors.New("token unavailable")

	// ErrInvalidArgument is returned for unknown token names.
	ErrInvalidArgument = client.ErrInvalidArgument
)

var tokenAcquisitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "crawler_token_acquisitions_total",
	Help: "Total token acquisitions by token name and result",
}, []string{"name", "result"})

// Fetcher is the subset of the fetch core the cache needs.
type Fetcher interface {
	Get(ctx context.Context, url string, headers http.Header) (*client.Response, error)
	Post(ctx context.Context, url string, body []byte, headers http.Header) (*client.Response, error)
	Head(ctx context.Context, url string, headers http.Header) (*client.Response, error)
}

// Config holds the acquisition endpoints.
type Config struct {
	WebURL       string
	LoginInfoURL string
	QRCodeURL    string

	// UserAgent is sent with every acquisition request.
	UserAgent string

	// AcquireTimeout bounds one acquisition. Zero means DefaultAcquireTimeout.
	AcquireTimeout time.Duration

	Logger *zerolog.Logger
}

// DefaultConfig returns the production endpoints.
func DefaultConfig() Config {
	return Config{
		WebURL:       "https://www.tiktok.com/",
		LoginInfoURL: "https://www.tiktok.com/passport/web/login/login_info/",
		QRCodeURL:    "https://www.tiktok.com/aweme/v1/web/login/qrcode/",
	}
}

// Cache holds the tokens of one crawl session. It is safe for concurrent use.
type Cache struct {
	fetch  Fetcher
	cfg    Config
	logger zerolog.Logger
	group  singleflight.Group

	mu         sync.RWMutex
	tokens     map[Name]string
	generation uint64
}

// NewCache creates an empty cache.
func NewCache(fetch Fetcher, cfg Config) *Cache {
	logger := log.With().Str("component", "token-cache").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	return &Cache{
		fetch:  fetch,
		cfg:    cfg,
		logger: logger,
		tokens: make(map[Name]string),
	}
}

// Get returns the token, acquiring it on first use. The acquisition is
// shared by all concurrent callers for the same name and is not tied to
// any one caller's context: a caller whose ctx ends stops waiting, the
// others still receive the token.
func (c *Cache) Get(ctx context.Context, name Name) (string, error) {
	switch name {
	case MsToken, TTWid, OdinTT:
	default:
		return "", fmt.Errorf("%w: unknown token name %q", ErrInvalidArgument, name)
	}

	c.mu.RLock()
	value, ok := c.tokens[name]
	gen := c.generation
	c.mu.RUnlock()
	if ok {
		return value, nil
	}

	ch := c.group.DoChan(string(name), func() (any, error) {
		c.mu.RLock()
		value, ok := c.tokens[name]
		c.mu.RUnlock()
		if ok {
			return value, nil
		}

		acquireCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.AcquireTimeout)
		defer cancel()
		value, err := c.acquire(acquireCtx, name)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		// A Reset during acquisition invalidates the value.
		if c.generation == gen {
			c.tokens[name] = value
		}
		c.mu.Unlock()
		return value, nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for %s: %v", client.ErrContextCancelled, name, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Reset clears all cached tokens.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.tokens = make(map[Name]string)
	c.generation++
	c.mu.Unlock()
	c.logger.Debug().Msg("Token cache reset")
}

// Len returns the number of cached tokens.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tokens)
}

// CookieHeader renders all three tokens as a Cookie header value.
func (c *Cache) CookieHeader(ctx context.Context) (string, error) {
	msToken, err := c.Get(ctx, MsToken)
	if err != nil {
		return "", err
	}
	ttwid, err := c.Get(ctx, TTWid)
	if err != nil {
		return "", err
	}
	odinTT, err := c.Get(ctx, OdinTT)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("msToken=%s; odin_tt=%s; ttwid=%s;", msToken, odinTT, ttwid), nil
}

func (c *Cache) acquire(ctx context.Context, name Name) (string, error) {
	headers := http.Header{}
	if c.cfg.UserAgent != "" {
		headers.Set("User-Agent", c.cfg.UserAgent)
	}

	var (
		value string
		err   error
	)
	switch name {
	case MsToken:
		value, err = c.acquireMsToken(ctx, headers)
	case TTWid:
		value, err = c.acquireCookie(ctx, c.fetch.Head, c.cfg.WebURL, "ttwid", headers)
	case OdinTT:
		value, err = c.acquireCookie(ctx, c.fetch.Get, c.cfg.QRCodeURL, "odin_tt", headers)
	}

	if err == nil && value != "" {
		tokenAcquisitionsTotal.WithLabelValues(string(name), "success").Inc()
		c.logger.Debug().Str("token", string(name)).Msg("Token acquired")
		return value, nil
	}
	if err == nil {
		err = errors.New("value absent in response")
	}

	if name == MsToken {
		tokenAcquisitionsTotal.WithLabelValues(string(name), "fallback").Inc()
		c.logger.Warn().
			Err(err).
			Str("token", string(name)).
			Msg("Token acquisition failed - using generated placeholder, requests may be rejected")
		return Placeholder()
	}

	tokenAcquisitionsTotal.WithLabelValues(string(name), "failure").Inc()
	c.logger.Error().Err(err).Str("token", string(name)).Msg("Token acquisition failed")
	return "", fmt.Errorf("%w: %s: %v", ErrTokenUnavailable, name, err)
}

func (c *Cache) acquireMsToken(ctx context.Context, headers http.Header) (string, error) {
	headers.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.fetch.Post(ctx, c.cfg.LoginInfoURL, []byte{}, headers)
	if err != nil {
		return "", err
	}
	var payload struct {
		Data struct {
			MsToken string `json:"msToken"`
		} `json:"data"`
	}
	if err := resp.JSON(&payload); err != nil {
		return "", err
	}
	return payload.Data.MsToken, nil
}

type fetchFunc func(ctx context.Context, url string, headers http.Header) (*client.Response, error)

func (c *Cache) acquireCookie(ctx context.Context, fetch fetchFunc, url, cookie string, headers http.Header) (string, error) {
	resp, err := fetch(ctx, url, headers)
	if err != nil {
		return "", err
	}
	return resp.Cookie(cookie), nil
}

// Placeholder generates a random msToken-shaped value.
func Placeholder() (string, error) {
	buf := make([]byte, PlaceholderLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate placeholder: %w", err)
	}
	var sb strings.Builder
	sb.Grow(PlaceholderLength)
	for _, b := range buf {
		sb.WriteByte(placeholderAlphabet[int(b)%len(placeholderAlphabet)])
	}
	return sb.String(), nil
}
