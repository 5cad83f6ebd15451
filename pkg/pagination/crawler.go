package pagination

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/comment-crawler/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StartCursor is the cursor of the first page.
const StartCursor = "0"

// ErrCursorStalled is set on a result when the remote side reported more
// pages but returned the cursor it was just sent.
var ErrCursorStalled = errors.New("cursor did not advance")

// Page is one page of items.
type Page[T any] struct {
	Items   []T
	Cursor  string
	HasMore bool
}

// PageFetcher fetches the page at cursor.
type PageFetcher[T any] func(ctx context.Context, cursor string) (Page[T], error)

// Options tune a crawl.
type Options struct {
	// Pause is the courtesy delay between successful pages.
	Pause time.Duration

	// Continue is checked before every page request. Returning false stops
	// the crawl with Cancelled set.
	Continue func() bool

	// OnPage is called after every successful page with the running totals.
	OnPage func(pages, items int)

	// MaxPages stops the crawl after that many pages. Zero means no limit.
	MaxPages int

	Logger *zerolog.Logger
}

// Result is the outcome of a crawl. Items holds everything gathered, also
// when Err is set.
type Result[T any] struct {
	Items     []T
	Pages     int
	Cursor    string
	Err       error
	Cancelled bool
}

// Crawl follows the cursor until the remote side reports no more pages.
func Crawl[T any](ctx context.Context, fetch PageFetcher[T], opts Options) Result[T] {
	logger := log.With().Str("component", "pagination").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	res := Result[T]{Cursor: StartCursor}
	for {
		if opts.Continue != nil && !opts.Continue() {
			res.Cancelled = true
			logger.Info().Int("pages", res.Pages).Int("items", len(res.Items)).Msg("Crawl stopped by cancellation")
			return res
		}
		if err := ctx.Err(); err != nil {
			res.Err = err
			res.Cancelled = true
			return res
		}

		sent := res.Cursor
		page, err := fetch(ctx, sent)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("cursor", res.Cursor).
				Int("pages", res.Pages).
				Int("items", len(res.Items)).
				Msg("Page fetch failed - returning partial results")
			res.Err = err
			return res
		}

		res.Items = append(res.Items, page.Items...)
		res.Pages++
		res.Cursor = page.Cursor
		if opts.OnPage != nil {
			opts.OnPage(res.Pages, len(res.Items))
		}

		if !page.HasMore {
			logger.Debug().Int("pages", res.Pages).Int("items", len(res.Items)).Msg("Crawl complete")
			return res
		}
		if page.Cursor == sent {
			logger.Warn().
				Str("cursor", sent).
				Int("pages", res.Pages).
				Int("items", len(res.Items)).
				Msg("Cursor did not advance - returning partial results")
			res.Err = ErrCursorStalled
			return res
		}
		if opts.MaxPages > 0 && res.Pages >= opts.MaxPages {
			logger.Debug().Int("pages", res.Pages).Msg("Crawl reached page limit")
			return res
		}

		if err := client.Pause(ctx, opts.Pause); err != nil {
			res.Err = err
			res.Cancelled = true
			return res
		}
	}
}
