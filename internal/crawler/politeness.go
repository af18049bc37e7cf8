package crawler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// SeenSet is a concurrency-safe set of URLs. A URL is admitted at most once.
type SeenSet struct {
	seen sync.Map
	size atomic.Int64
}

// NewSeenSet returns an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (s *SeenSet) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := s.seen.LoadOrStore(url, struct{}{})
	if !loaded {
		s.size.Add(1)
	}
	return !loaded
}

// Contains reports whether url has been marked.
func (s *SeenSet) Contains(url string) bool {
	_, ok := s.seen.Load(url)
	return ok
}

// Len returns the number of marked URLs.
func (s *SeenSet) Len() int {
	return int(s.size.Load())
}

// Pauser waits between operations. Implementations must return early when
// ctx is done and report ctx's error.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// TimerPauser pauses on a real timer.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
