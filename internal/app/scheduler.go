package app

import (
	"context"
	"sync"
	"time"
)

// EndScheduler tracks, per lobby id, the single deferred end action scheduled
// at start time. The map is the only shared mutable state and every access
// serializes through one mutex; the deferred actions themselves run outside
// the lock.
type EndScheduler struct {
	mu      sync.Mutex
	pending map[string]*time.Timer
}

func NewEndScheduler() *EndScheduler {
	return &EndScheduler{pending: make(map[string]*time.Timer)}
}

// Schedule registers a timer that runs action after delay, then deregisters
// its entry unconditionally. The returned channel closes once the entry is
// gone, after the action has run. It reports false, without scheduling, when
// an end action for the lobby is already pending.
func (s *EndScheduler) Schedule(lobbyID string, delay time.Duration, action func()) (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[lobbyID]; ok {
		return nil, false
	}
	done := make(chan struct{})
	s.pending[lobbyID] = time.AfterFunc(delay, func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			delete(s.pending, lobbyID)
			s.mu.Unlock()
		}()
		action()
	})
	return done, true
}

// Quiescent reports whether no lobby has a pending end action.
func (s *EndScheduler) Quiescent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) == 0
}

// WaitIdle blocks until the registry is quiescent or ctx is done. Shutdown
// sequencing uses it to wait out in-flight sessions before releasing storage
// and network resources.
func (s *EndScheduler) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.Quiescent() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
