package tiktok

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/comment-crawler/pkg/client"
	"github.com/Sternrassler/comment-crawler/pkg/pagination"
	"github.com/Sternrassler/comment-crawler/pkg/signer"
	"github.com/Sternrassler/comment-crawler/pkg/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Courtesy pauses between pages.
const (
	CommentPause = 300 * time.Millisecond
	ReplyPause   = 200 * time.Millisecond
)

// ErrAPIStatus is returned when the API answers with a non-zero status_code.
// It matches client.ErrResponse.
var ErrAPIStatus = fmt.Errorf("api reported failure: %w", client.ErrResponse)

// Config holds the crawler configuration.
type Config struct {
	// Client configures the fetch core. Headers are merged over DefaultHeaders.
	Client client.Config

	Endpoints Endpoints

	// SignerURL is the remote signing service. Ignored when Transform is set.
	SignerURL string

	// Transform replaces the remote signing service.
	Transform signer.Transform

	Signer signer.Config

	// UserAgent defaults to a random desktop browser.
	UserAgent string

	Region   string
	PageSize int

	Logger *zerolog.Logger
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Client:    client.DefaultConfig(),
		Endpoints: DefaultEndpoints(),
		SignerURL: signer.DefaultServiceURL,
		Signer:    signer.DefaultConfig(),
		Region:    DefaultRegion,
		PageSize:  DefaultPageSize,
	}
}

// Crawler fetches comment and reply pages for one crawl session. It owns
// its fetch client and token cache; Close releases them.
type Crawler struct {
	fetch     *client.Client
	tokens    *token.Cache
	signer    *signer.Signer
	endpoints Endpoints
	userAgent string
	pageSize  int
	session   session
	logger    zerolog.Logger
}

// New creates a crawler with a fresh session.
func New(cfg Config) (*Crawler, error) {
	logger := log.With().Str("component", "tiktok-crawler").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = RandomUserAgent()
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Endpoints == (Endpoints{}) {
		cfg.Endpoints = DefaultEndpoints()
	}

	headers := DefaultHeaders(cfg.UserAgent)
	for k, vs := range cfg.Client.Headers {
		headers[k] = append([]string(nil), vs...)
	}
	clientCfg := cfg.Client
	clientCfg.Headers = headers
	if clientCfg.Logger == nil {
		clientCfg.Logger = cfg.Logger
	}

	fetch, err := client.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create fetch client: %w", err)
	}

	tokens := token.NewCache(fetch, token.Config{
		WebURL:       cfg.Endpoints.Web,
		LoginInfoURL: cfg.Endpoints.LoginInfo,
		QRCodeURL:    cfg.Endpoints.QRCode,
		UserAgent:    cfg.UserAgent,
		Logger:       cfg.Logger,
	})

	transform := cfg.Transform
	if transform == nil {
		if cfg.SignerURL == "" {
			cfg.SignerURL = signer.DefaultServiceURL
		}
		transform = &signer.HTTPTransform{Fetch: fetch, URL: cfg.SignerURL}
	}
	signerCfg := cfg.Signer
	if signerCfg.Logger == nil {
		signerCfg.Logger = cfg.Logger
	}

	return &Crawler{
		fetch:     fetch,
		tokens:    tokens,
		signer:    signer.New(transform, signerCfg),
		endpoints: cfg.Endpoints,
		userAgent: cfg.UserAgent,
		pageSize:  cfg.PageSize,
		session: session{
			deviceID:  NewDeviceID(),
			webIDTime: webIDLastTime(time.Now().Unix()),
			region:    cfg.Region,
		},
		logger: logger,
	}, nil
}

// FetchCommentPage fetches one page of top-level comments of a video.
func (c *Crawler) FetchCommentPage(ctx context.Context, videoID, cursor string, count int) (*Page, error) {
	if videoID == "" {
		return nil, fmt.Errorf("%w: empty video id", client.ErrInvalidArgument)
	}
	return c.fetchPage(ctx, c.endpoints.CommentList, func(s session) *signer.Params {
		return commentParams(s, videoID, cursor, count)
	})
}

// FetchReplyPage fetches one page of replies to a comment.
func (c *Crawler) FetchReplyPage(ctx context.Context, videoID, commentID, cursor string, count int) (*Page, error) {
	if commentID == "" {
		return nil, fmt.Errorf("%w: empty comment id", client.ErrInvalidArgument)
	}
	return c.fetchPage(ctx, c.endpoints.CommentReply, func(s session) *signer.Params {
		return replyParams(s, videoID, commentID, cursor, count)
	})
}

// Comments returns a page fetcher over the comments of a video.
func (c *Crawler) Comments(videoID string) pagination.PageFetcher[Comment] {
	return func(ctx context.Context, cursor string) (pagination.Page[Comment], error) {
		page, err := c.FetchCommentPage(ctx, videoID, cursor, c.pageSize)
		if err != nil {
			return pagination.Page[Comment]{}, err
		}
		return toPage(page), nil
	}
}

// Replies returns a page fetcher over the replies to one comment.
func (c *Crawler) Replies(videoID, commentID string) pagination.PageFetcher[Comment] {
	return func(ctx context.Context, cursor string) (pagination.Page[Comment], error) {
		page, err := c.FetchReplyPage(ctx, videoID, commentID, cursor, c.pageSize)
		if err != nil {
			return pagination.Page[Comment]{}, err
		}
		return toPage(page), nil
	}
}

// Reset drops all session tokens.
func (c *Crawler) Reset() {
	c.tokens.Reset()
}

// Tokens exposes the session's token cache.
func (c *Crawler) Tokens() *token.Cache {
	return c.tokens
}

// Close releases the fetch client. It is idempotent.
func (c *Crawler) Close() error {
	return c.fetch.Close()
}

func (c *Crawler) fetchPage(ctx context.Context, endpoint string, build func(session) *signer.Params) (*Page, error) {
	cookie, err := c.tokens.CookieHeader(ctx)
	if err != nil {
		return nil, err
	}
	msToken, err := c.tokens.Get(ctx, token.MsToken)
	if err != nil {
		return nil, err
	}
	s := c.session
	s.msToken = msToken

	signed, err := c.signer.Sign(ctx, endpoint, build(s), c.userAgent)
	if err != nil {
		return nil, err
	}

	resp, err := c.fetch.Get(ctx, signed, http.Header{"Cookie": {cookie}})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http status %d", ErrAPIStatus, resp.StatusCode)
	}

	var page Page
	if err := resp.JSON(&page); err != nil {
		return nil, err
	}
	if page.StatusCode != 0 {
		c.logger.Error().
			Int("status_code", page.StatusCode).
			Str("status_msg", page.StatusMsg).
			Msg("API response is not a success")
		return nil, fmt.Errorf("%w: status_code %d %s", ErrAPIStatus, page.StatusCode, page.StatusMsg)
	}
	return &page, nil
}

func toPage(p *Page) pagination.Page[Comment] {
	return pagination.Page[Comment]{
		Items:   p.Comments,
		Cursor:  string(p.Cursor),
		HasMore: bool(p.HasMore),
	}
}
