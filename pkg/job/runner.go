package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/comment-crawler/pkg/pagination"
	"github.com/Sternrassler/comment-crawler/pkg/signer"
	"github.com/Sternrassler/comment-crawler/pkg/tiktok"
	"github.com/Sternrassler/comment-crawler/pkg/token"
	"github.com/rs/zerolog"
)

// Progress checkpoints of a run.
const (
	progressStarted     = 10
	progressCommentsMax = 50
	progressReplies     = 60
	progressRepliesSpan = 25
	progressFormatting  = 90
)

// runner executes one job. Only its goroutine calls its methods.
type runner struct {
	m       *Manager
	e       *entry
	crawler Crawler
	req     Request
	logger  zerolog.Logger
	start   time.Time
}

func (m *Manager) run(e *entry) {
	defer m.wg.Done()

	job := e.snapshot()
	defer m.release(job.ID)

	r := &runner{
		m:      m,
		e:      e,
		req:    job.Request,
		logger: m.logger.With().Str("job_id", job.ID).Str("video_id", job.VideoID).Logger(),
		start:  time.Now(),
	}
	defer r.finish()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Interface("panic", p).Msg("Crawl panicked")
			r.fail(fmt.Errorf("internal error: %v", p))
		}
	}()

	_, next := m.update(e, func(j *Job) {
		j.Status = StatusRunning
		j.Progress = progressStarted
		j.Message = "Fetching comments..."
	})
	if next.Status != StatusRunning {
		r.logger.Info().Str("status", string(next.Status)).Msg("Job finished before it started")
		return
	}

	jobsRunning.Inc()
	defer jobsRunning.Dec()

	crawler, err := m.cfg.NewCrawler(r.req)
	if err != nil {
		r.fail(fmt.Errorf("create crawler: %w", err))
		return
	}
	defer func() {
		if err := crawler.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close crawler")
		}
	}()
	r.crawler = crawler

	r.execute(m.ctx)
}

func (r *runner) execute(ctx context.Context) {
	videoID := r.req.VideoID
	r.logger.Info().Bool("include_replies", r.req.Replies()).Msg("Crawl started")

	res := pagination.Crawl(ctx, r.crawler.Comments(videoID), pagination.Options{
		Pause:    r.m.cfg.CommentPause,
		MaxPages: r.m.cfg.MaxPages,
		Continue: r.proceed,
		Logger:   &r.logger,
		OnPage: func(pages, items int) {
			r.progress(min(float64(progressStarted+2*pages), progressCommentsMax),
				fmt.Sprintf("Fetched %d comments...", items),
				func(s *Stats) {
					s.Comments = items
					s.Pages = pages
				})
		},
	})
	if r.stopped(ctx) {
		r.keepPartial(ctx, res.Items, nil)
		return
	}
	if res.Err != nil && res.Pages == 0 && sessionFailure(res.Err) {
		r.fail(fmt.Errorf("fetch first comment page: %w", res.Err))
		return
	}

	comments := res.Items
	r.progress(progressCommentsMax, fmt.Sprintf("Found %d comments", len(comments)), func(s *Stats) {
		s.Comments = len(comments)
		s.Pages = res.Pages
	})

	counts := map[string]int{}
	if r.req.Replies() && len(comments) > 0 {
		r.progress(progressReplies, "Fetching replies...", nil)
		counts = r.replies(ctx, comments)
		if r.stopped(ctx) {
			r.keepPartial(ctx, comments, counts)
			return
		}
	}

	r.progress(progressFormatting, "Formatting data...", nil)
	name, artifact, err := r.writeArtifact(ctx, comments, counts)
	if err != nil {
		r.fail(fmt.Errorf("store artifact: %w", err))
		return
	}

	_, next := r.m.update(r.e, func(j *Job) {
		j.Status = StatusCompleted
		j.Message = "Crawling completed successfully!"
		j.ResultRef = ArtifactRef(name)
		j.Stats.Comments = artifact.Metadata.TotalComments
		j.Stats.Replies = artifact.Metadata.TotalReplies
		j.Stats.Duration = r.elapsed()
	})
	r.logger.Info().
		Str("status", string(next.Status)).
		Int("comments", artifact.Metadata.TotalComments).
		Int("replies", artifact.Metadata.TotalReplies).
		Float64("duration_seconds", next.Stats.Duration).
		Msg("Crawl completed")
}

// replies crawls the replies of every comment in batches and returns the
// reply count per comment id.
func (r *runner) replies(ctx context.Context, comments []tiktok.Comment) map[string]int {
	videoID := r.req.VideoID
	bf := pagination.NewBatchFetcher[tiktok.Comment](r.m.cfg.Batch)

	res := bf.FetchAll(ctx, comments,
		func(c tiktok.Comment) string { return string(c.CID) },
		func(ctx context.Context, c tiktok.Comment) (int, error) {
			rr := pagination.Crawl(ctx, r.crawler.Replies(videoID, string(c.CID)), pagination.Options{
				Pause:    r.m.cfg.ReplyPause,
				MaxPages: r.m.cfg.MaxPages,
				Continue: r.proceed,
				Logger:   &r.logger,
			})
			if rr.Err != nil && len(rr.Items) == 0 {
				return 0, rr.Err
			}
			return len(rr.Items), nil
		},
		pagination.BatchOptions{
			Continue: r.proceed,
			OnBatch: func(p pagination.BatchProgress) {
				frac := 1.0
				if p.Total > 0 {
					frac = float64(p.Processed) / float64(p.Total)
				}
				r.progress(progressReplies+progressRepliesSpan*frac,
					fmt.Sprintf("Processed %d/%d comments", p.Processed, p.Total),
					func(s *Stats) { s.Replies = p.Sum })
			},
		})

	if res.Failed > 0 {
		r.logger.Warn().Int("failed", res.Failed).Int("processed", res.Processed).Msg("Some reply crawls failed")
	}
	return res.Counts
}

// writeArtifact formats and stores a result. The store call outlives a
// shutdown of ctx.
func (r *runner) writeArtifact(ctx context.Context, comments []tiktok.Comment, counts map[string]int) (string, Artifact, error) {
	now := r.m.now()
	artifact := Format(r.req.VideoID, comments, counts, now)
	name := ArtifactName(r.req.VideoID, now)

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	if err := r.m.artifacts.Put(storeCtx, name, artifact); err != nil {
		return "", Artifact{}, err
	}
	return name, artifact, nil
}

// keepPartial stores what a cancelled run gathered before it stopped and
// links it from the job. Progress stays where the run left it.
func (r *runner) keepPartial(ctx context.Context, comments []tiktok.Comment, counts map[string]int) {
	if len(comments) == 0 {
		return
	}
	name, artifact, err := r.writeArtifact(ctx, comments, counts)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to store partial result")
		return
	}
	r.m.update(r.e, func(j *Job) {
		j.ResultRef = ArtifactRef(name)
		j.Stats.Comments = artifact.Metadata.TotalComments
		j.Stats.Replies = artifact.Metadata.TotalReplies
	})
	r.logger.Info().
		Int("comments", artifact.Metadata.TotalComments).
		Int("replies", artifact.Metadata.TotalReplies).
		Msg("Partial result stored")
}

func (r *runner) proceed() bool {
	return !r.e.cancelled.Load()
}

// stopped reports whether the run must end. A shutdown cancels the job;
// a user cancel has already moved it, so only the duration is recorded.
func (r *runner) stopped(ctx context.Context) bool {
	if ctx.Err() != nil && !r.e.cancelled.Load() {
		r.e.cancelled.Store(true)
		r.m.update(r.e, func(j *Job) {
			j.Status = StatusCancelled
			j.Message = "Cancelled by shutdown"
			j.Stats.Duration = r.elapsed()
		})
		r.logger.Warn().Msg("Crawl interrupted by shutdown")
		return true
	}
	if r.e.cancelled.Load() {
		r.m.update(r.e, func(j *Job) { j.Stats.Duration = r.elapsed() })
		r.logger.Info().Msg("Crawl stopped after cancellation")
		return true
	}
	return false
}

func (r *runner) progress(p float64, message string, stats func(*Stats)) {
	r.m.update(r.e, func(j *Job) {
		j.Progress = p
		j.Message = message
		if stats != nil {
			stats(&j.Stats)
		}
	})
}

func (r *runner) fail(err error) {
	r.m.update(r.e, func(j *Job) {
		j.Status = StatusFailed
		j.Error = err.Error()
		j.Message = "Crawling failed: " + err.Error()
		j.Stats.Duration = r.elapsed()
	})
	r.logger.Error().Err(err).Msg("Crawl failed")
}

// finish records metrics for the final state.
func (r *runner) finish() {
	job := r.e.snapshot()
	if !job.Status.Terminal() {
		// Unreachable unless the runner returned without settling the job.
		r.fail(errors.New("crawl ended unexpectedly"))
		job = r.e.snapshot()
	}
	jobsTotal.WithLabelValues(string(job.Status)).Inc()
	jobDuration.Observe(time.Since(r.start).Seconds())
}

func (r *runner) elapsed() float64 {
	return time.Since(r.start).Seconds()
}

// sessionFailure reports whether err means no request could be made at all.
func sessionFailure(err error) bool {
	return errors.Is(err, token.ErrTokenUnavailable) || errors.Is(err, signer.ErrSigning)
}
