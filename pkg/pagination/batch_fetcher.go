package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/comment-crawler/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// BatchConfig holds batch fetcher configuration.
type BatchConfig struct {
	// BatchSize is the number of items fetched concurrently.
	BatchSize int

	// Pause is the delay between two batches.
	Pause time.Duration

	Logger *zerolog.Logger
}

// DefaultBatchConfig returns batches of 8 with a 0.5s pause.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchSize: 8,
		Pause:     500 * time.Millisecond,
	}
}

// BatchOptions hook a single FetchAll call into its caller.
type BatchOptions struct {
	// Continue is checked before every batch.
	Continue func() bool

	// OnBatch is called after every batch.
	OnBatch func(p BatchProgress)
}

// BatchProgress reports the state after a batch.
type BatchProgress struct {
	Processed int
	Total     int
	Failed    int

	// Sum is the sum of all counts recorded so far.
	Sum int
}

// BatchResult is the outcome of FetchAll.
type BatchResult struct {
	// Counts maps every processed item key to its result; failed items map to 0.
	Counts    map[string]int
	Processed int
	Failed    int
	Batches   int
	Cancelled bool
}

// Total sums all counts.
func (r BatchResult) Total() int {
	total := 0
	for _, n := range r.Counts {
		total += n
	}
	return total
}

// BatchFetcher runs one fetch per item, a batch at a time.
type BatchFetcher[P any] struct {
	config BatchConfig
	logger zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher.
func NewBatchFetcher[P any](config BatchConfig) *BatchFetcher[P] {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchConfig().BatchSize
	}
	logger := log.With().Str("component", "batch-fetcher").Logger()
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &BatchFetcher[P]{config: config, logger: logger}
}

// FetchAll calls fetch for every item with a non-empty key. Items of a batch
// run concurrently and a failing item never cancels its siblings. When
// Continue returns false no further batch starts; results recorded so far
// are kept.
func (bf *BatchFetcher[P]) FetchAll(
	ctx context.Context,
	items []P,
	key func(P) string,
	fetch func(ctx context.Context, item P) (int, error),
	opts BatchOptions,
) BatchResult {
	start := time.Now()
	total := len(items)
	res := BatchResult{Counts: make(map[string]int, total)}

	bf.logger.Info().
		Int("items", total).
		Int("batch_size", bf.config.BatchSize).
		Msg("Starting batched fetch")

	for offset := 0; offset < total; offset += bf.config.BatchSize {
		if offset > 0 {
			if err := client.Pause(ctx, bf.config.Pause); err != nil {
				res.Cancelled = true
				break
			}
		}
		if opts.Continue != nil && !opts.Continue() {
			res.Cancelled = true
			bf.logger.Info().Int("processed", res.Processed).Int("total", total).Msg("Batched fetch stopped by cancellation")
			break
		}
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}

		end := offset + bf.config.BatchSize
		if end > total {
			end = total
		}
		failed := bf.runBatch(ctx, items[offset:end], key, fetch, res.Counts)
		res.Failed += failed
		res.Processed = end
		res.Batches++

		if opts.OnBatch != nil {
			opts.OnBatch(BatchProgress{
				Processed: res.Processed,
				Total:     total,
				Failed:    res.Failed,
				Sum:       res.Total(),
			})
		}
	}

	bf.logger.Info().
		Int("processed", res.Processed).
		Int("failed", res.Failed).
		Int("batches", res.Batches).
		Dur("duration", time.Since(start)).
		Msg("Batched fetch complete")

	return res
}

// runBatch fetches one batch and returns the number of failed items.
func (bf *BatchFetcher[P]) runBatch(
	ctx context.Context,
	batch []P,
	key func(P) string,
	fetch func(ctx context.Context, item P) (int, error),
	counts map[string]int,
) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)

	for _, item := range batch {
		k := key(item)
		if k == "" {
			continue
		}

		wg.Add(1)
		go func(item P, k string) {
			defer wg.Done()

			n, err := safeFetch(ctx, item, fetch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				counts[k] = 0
				bf.logger.Warn().Err(err).Str("key", k).Msg("Item fetch failed")
				return
			}
			counts[k] = n
		}(item, k)
	}

	wg.Wait()
	return failed
}

// safeFetch converts a panic inside fetch into an error.
func safeFetch[P any](ctx context.Context, item P, fetch func(context.Context, P) (int, error)) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fetch(ctx, item)
}
