package client

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// TaskLimiter bounds the number of logical operations in flight. A single
// limiter may be shared by several clients to make the bound process-wide.
type TaskLimiter struct {
	sem *semaphore.Weighted
	max int64
}

// NewTaskLimiter creates a limiter admitting at most n concurrent tasks.
// n <= 0 is treated as 1.
func NewTaskLimiter(n int) *TaskLimiter {
	if n <= 0 {
		n = 1
	}
	return &TaskLimiter{sem: semaphore.NewWeighted(int64(n)), max: int64(n)}
}

// Acquire blocks until a slot is free or ctx is done. The returned func
// releases the slot and must be called exactly once.
func (l *TaskLimiter) Acquire(ctx context.Context) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
	}
	return func() { l.sem.Release(1) }, nil
}

// Max returns the configured bound.
func (l *TaskLimiter) Max() int {
	if l == nil {
		return 0
	}
	return int(l.max)
}
