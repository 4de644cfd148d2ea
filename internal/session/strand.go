package session

import (
	"context"
	"sync"
	"time"
)

// Strand is the single logical execution context that owns all session
// state. Callers enter it with Do or Go; code running on the strand gives it
// up only at explicit suspension points (Sleep and Await), which is where
// membership and message callbacks may interleave.
type Strand struct {
	mu sync.Mutex
}

// Do runs fn on the strand. It must not be called from code already on it.
func (s *Strand) Do(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// Go starts a coroutine that runs fn on the strand.
func (s *Strand) Go(fn func()) {
	go s.Do(fn)
}

// Sleep yields the strand for d. Must be called on the strand; returns
// ctx.Err() when ctx ends first. The strand is held again on return.
func (s *Strand) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Unlock()
	defer s.mu.Lock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await runs a blocking call (network round-trip, scene load) off the
// strand. Must be called on the strand.
func (s *Strand) Await(fn func()) {
	s.mu.Unlock()
	defer s.mu.Lock()
	fn()
}
