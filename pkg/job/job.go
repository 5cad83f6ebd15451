// Package job runs crawls in the background and tracks their lifecycle.
//
// A job moves Pending → Running → {Completed | Failed | Cancelled}. The
// terminal states are absorbing. Progress never decreases and reaches 100
// only when the job completes. Cancellation is cooperative: the running
// crawl observes it at the next page or batch boundary.
package job

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return !s.Terminal()
	}
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusCancelled || next == StatusFailed
	case StatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// MaxPageSize bounds Request.PageSize.
const MaxPageSize = 100

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidRequest is returned by Submit for unusable requests.
	ErrInvalidRequest = errors.New("invalid crawl request")

	// ErrTerminal is returned when cancelling a finished job.
	ErrTerminal = errors.New("job already finished")

	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("job manager closed")
)

// Request describes one crawl.
type Request struct {
	VideoID string `json:"video_id"`

	// VideoURL is informational only.
	VideoURL string `json:"video_url,omitempty"`

	// IncludeReplies defaults to true when absent.
	IncludeReplies *bool `json:"include_replies,omitempty"`

	// PageSize defaults to 20.
	PageSize int `json:"page_size,omitempty"`
}

// Replies reports whether replies should be fetched.
func (r Request) Replies() bool {
	return r.IncludeReplies == nil || *r.IncludeReplies
}

// Validate checks the request.
func (r Request) Validate() error {
	if strings.TrimSpace(r.VideoID) == "" {
		return fmt.Errorf("%w: video_id is required", ErrInvalidRequest)
	}
	if !videoIDPattern.MatchString(r.VideoID) {
		return fmt.Errorf("%w: video_id %q contains invalid characters", ErrInvalidRequest, r.VideoID)
	}
	if r.PageSize < 0 || r.PageSize > MaxPageSize {
		return fmt.Errorf("%w: page_size must be between 1 and %d (got %d)", ErrInvalidRequest, MaxPageSize, r.PageSize)
	}
	return nil
}

// Stats are the running counters of a job.
type Stats struct {
	Comments int `json:"comments"`
	Replies  int `json:"replies"`
	Pages    int `json:"pages"`

	// Duration is the run time in seconds.
	Duration float64 `json:"duration"`
}

// Job is a snapshot of one crawl.
type Job struct {
	ID        string    `json:"task_id"`
	VideoID   string    `json:"video_id"`
	Status    Status    `json:"status"`
	Progress  float64   `json:"progress"`
	Message   string    `json:"message"`
	Stats     Stats     `json:"stats"`
	ResultRef string    `json:"download_url,omitempty"`
	Error     string    `json:"error,omitempty"`
	Request   Request   `json:"request"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// progressCeiling is the highest progress of a job that has not completed.
const progressCeiling = 99

// reconcile merges an update into the previous snapshot. A terminal job
// only accepts stats and a result reference, and only when it was
// cancelled. Illegal transitions are dropped and progress is kept
// non-decreasing.
func reconcile(prev, next Job) Job {
	if prev.Status.Terminal() {
		out := prev
		if prev.Status == StatusCancelled {
			out.Stats = next.Stats
			if next.ResultRef != "" {
				out.ResultRef = next.ResultRef
			}
		}
		return out
	}

	if next.Status != prev.Status && !prev.Status.CanTransition(next.Status) {
		next.Status = prev.Status
	}
	if next.Progress < prev.Progress {
		next.Progress = prev.Progress
	}
	if next.Status == StatusCompleted {
		next.Progress = 100
	} else if next.Progress > progressCeiling {
		next.Progress = progressCeiling
	}
	next.ID = prev.ID
	next.CreatedAt = prev.CreatedAt
	next.Request = prev.Request
	return next
}
