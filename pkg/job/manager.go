package job

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/comment-crawler/pkg/pagination"
	"github.com/Sternrassler/comment-crawler/pkg/tiktok"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for jobs.
var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_jobs_total",
		Help: "Total finished jobs by terminal status",
	}, []string{"status"})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_jobs_running",
		Help: "Number of jobs currently running",
	})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawler_job_duration_seconds",
		Help:    "Job run time in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
)

// DefaultRetention is how long finished jobs are kept before Cleanup removes them.
const DefaultRetention = time.Hour

const storeTimeout = 5 * time.Second

// Crawler is one crawl session as seen by a job.
type Crawler interface {
	Comments(videoID string) pagination.PageFetcher[tiktok.Comment]
	Replies(videoID, commentID string) pagination.PageFetcher[tiktok.Comment]
	Close() error
}

// CrawlerFactory creates a fresh crawl session for every job.
type CrawlerFactory func(req Request) (Crawler, error)

// TikTokFactory returns a factory building tiktok crawlers from cfg. Shared
// limits in cfg.Client (Tasks, RateLimiter) apply across all jobs.
func TikTokFactory(cfg tiktok.Config) CrawlerFactory {
	return func(req Request) (Crawler, error) {
		c := cfg
		if req.PageSize > 0 {
			c.PageSize = req.PageSize
		}
		crawler, err := tiktok.New(c)
		if err != nil {
			return nil, err
		}
		return crawler, nil
	}
}

// Config holds the manager configuration.
type Config struct {
	// NewCrawler is required.
	NewCrawler CrawlerFactory

	// Store defaults to a MemoryStore.
	Store Store

	// Artifacts defaults to a MemoryArtifactStore.
	Artifacts ArtifactStore

	Batch        pagination.BatchConfig
	CommentPause time.Duration
	ReplyPause   time.Duration

	// MaxPages caps every comment and reply crawl. Zero means no cap.
	MaxPages int

	// Retention is the minimum age of a finished job removed by Cleanup.
	Retention time.Duration

	Logger *zerolog.Logger
	Now    func() time.Time
}

// DefaultConfig returns the default pacing and retention.
func DefaultConfig(factory CrawlerFactory) Config {
	return Config{
		NewCrawler:   factory,
		Batch:        pagination.DefaultBatchConfig(),
		CommentPause: tiktok.CommentPause,
		ReplyPause:   tiktok.ReplyPause,
		Retention:    DefaultRetention,
	}
}

// entry is the live record of a submitted job. The runner goroutine is
// the only writer of job contents besides Cancel; both go through
// Manager.update, which serialises on mu.
type entry struct {
	mu        sync.Mutex
	job       Job
	cancelled atomic.Bool
}

func (e *entry) snapshot() Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job
}

// Manager owns all jobs of the process.
type Manager struct {
	cfg       Config
	store     Store
	artifacts ArtifactStore
	logger    zerolog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool
}

// NewManager creates a manager with an empty job table.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.NewCrawler == nil {
		return nil, fmt.Errorf("crawler factory is required")
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Artifacts == nil {
		cfg.Artifacts = NewMemoryArtifactStore()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := log.With().Str("component", "job-manager").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	if cfg.Batch.Logger == nil {
		cfg.Batch.Logger = &logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		store:     cfg.Store,
		artifacts: cfg.Artifacts,
		logger:    logger,
		now:       cfg.Now,
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[string]*entry),
	}, nil
}

// Submit registers a job and starts it in the background. It returns the
// job id immediately.
func (m *Manager) Submit(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	now := m.now()
	job := Job{
		ID:        uuid.NewString(),
		VideoID:   req.VideoID,
		Status:    StatusPending,
		Message:   "Initializing crawler...",
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	if err := m.store.Save(ctx, job); err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("save job: %w", err)
	}
	e := &entry{job: job}
	m.entries[job.ID] = e
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info().
		Str("job_id", job.ID).
		Str("video_id", req.VideoID).
		Bool("include_replies", req.Replies()).
		Msg("Crawl job submitted")

	go m.run(e)
	return job.ID, nil
}

// Get returns the current snapshot of a job.
func (m *Manager) Get(ctx context.Context, id string) (Job, error) {
	if e := m.lookup(id); e != nil {
		return e.snapshot(), nil
	}
	return m.store.Get(ctx, id)
}

// List returns all known jobs, oldest first.
func (m *Manager) List(ctx context.Context) ([]Job, error) {
	jobs, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	live := make(map[string]*entry, len(m.entries))
	for id, e := range m.entries {
		live[id] = e
	}
	m.mu.RUnlock()

	for i, j := range jobs {
		if e, ok := live[j.ID]; ok {
			jobs[i] = e.snapshot()
			delete(live, j.ID)
		}
	}
	for _, e := range live {
		jobs = append(jobs, e.snapshot())
	}
	sortJobs(jobs)
	return jobs, nil
}

// Cancel requests cancellation of a pending or running job. A running crawl
// stops at its next page or batch boundary. Cancelling a finished job
// returns its snapshot and ErrTerminal.
func (m *Manager) Cancel(ctx context.Context, id string) (Job, error) {
	if e := m.lookup(id); e != nil {
		return m.cancelEntry(e, "Cancelled by user")
	}

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if job.Status.Terminal() {
		return job, ErrTerminal
	}

	return m.settleStored(ctx, job)
}

// settleStored cancels a job that is not run by this process, e.g. one
// left in a shared store by another instance.
func (m *Manager) settleStored(ctx context.Context, job Job) (Job, error) {
	candidate := job
	candidate.Status = StatusCancelled
	candidate.Message = "Cancelled by user"
	next := reconcile(job, candidate)
	next.UpdatedAt = m.now()
	if err := m.store.Save(ctx, next); err != nil {
		return job, fmt.Errorf("save job: %w", err)
	}
	return next, nil
}

// CancelAll cancels every pending or running job, live or only present in
// the store, and returns how many were cancelled.
func (m *Manager) CancelAll(ctx context.Context) int {
	m.mu.RLock()
	live := make(map[string]*entry, len(m.entries))
	for id, e := range m.entries {
		live[id] = e
	}
	m.mu.RUnlock()

	cancelled := 0
	for _, e := range live {
		if _, err := m.cancelEntry(e, "Cancelled by user"); err == nil {
			cancelled++
		}
	}

	stored, err := m.store.List(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to list stored jobs for cancellation")
	}
	for _, j := range stored {
		if _, ok := live[j.ID]; ok || j.Status.Terminal() || m.lookup(j.ID) != nil {
			continue
		}
		if _, err := m.settleStored(ctx, j); err != nil {
			m.logger.Warn().Err(err).Str("job_id", j.ID).Msg("Failed to cancel stored job")
			continue
		}
		cancelled++
	}

	m.logger.Info().Int("cancelled", cancelled).Msg("Cancelled all active jobs")
	return cancelled
}

// Cleanup removes finished jobs created more than Retention ago and
// returns how many were removed.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	jobs, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-m.cfg.Retention)
	removed := 0
	for _, j := range jobs {
		if !j.Status.Terminal() || !j.CreatedAt.Before(cutoff) || m.lookup(j.ID) != nil {
			continue
		}
		if err := m.store.Delete(ctx, j.ID); err != nil {
			return removed, fmt.Errorf("delete job %s: %w", j.ID, err)
		}
		removed++
	}

	if removed > 0 {
		m.logger.Info().Int("removed", removed).Msg("Removed old jobs")
	}
	return removed, nil
}

// Artifact returns a stored result artifact by name.
func (m *Manager) Artifact(ctx context.Context, name string) (Artifact, error) {
	name, err := ParseArtifactName(name)
	if err != nil {
		return Artifact{}, err
	}
	return m.artifacts.Get(ctx, name)
}

// Close stops accepting jobs, cancels running crawls and waits for them.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.logger.Info().Msg("Job manager closed")
	return nil
}

func (m *Manager) lookup(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[id]
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

func (m *Manager) cancelEntry(e *entry, message string) (Job, error) {
	e.cancelled.Store(true)
	prev, next := m.update(e, func(j *Job) {
		j.Status = StatusCancelled
		j.Message = message
	})
	if prev.Status.Terminal() {
		return next, ErrTerminal
	}
	m.logger.Info().Str("job_id", next.ID).Str("previous_status", string(prev.Status)).Msg("Job cancelled")
	return next, nil
}

// update applies fn to a copy of the job, reconciles it against the
// lifecycle rules and saves the result.
func (m *Manager) update(e *entry, fn func(*Job)) (prev, next Job) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev = e.job
	candidate := prev
	fn(&candidate)
	next = reconcile(prev, candidate)
	next.UpdatedAt = m.now()
	e.job = next

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.Save(ctx, next); err != nil {
		m.logger.Warn().Err(err).Str("job_id", next.ID).Msg("Failed to save job")
	}
	return prev, next
}
