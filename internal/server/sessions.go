package server

import (
	"context"
	"sync"
)

type sessionEntry struct {
	cancel context.CancelFunc
	gen    uint64
}

// sessionRegistry tracks the in-flight search of each browser session so a
// newly submitted query cancels the previous one. Last submitted wins.
type sessionRegistry struct {
	mu     sync.Mutex
	gen    uint64
	active map[string]sessionEntry
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		active: make(map[string]sessionEntry),
	}
}

// begin cancels any in-flight search for the session and registers a new one.
// The returned done func must be called when the search finishes; it only
// deregisters the entry this call registered, never a successor's.
func (s *sessionRegistry) begin(ctx context.Context, sessionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	if sessionID == "" {
		return ctx, cancel
	}

	s.mu.Lock()
	if prev, ok := s.active[sessionID]; ok {
		prev.cancel()
	}
	s.gen++
	gen := s.gen
	s.active[sessionID] = sessionEntry{cancel: cancel, gen: gen}
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		if current, ok := s.active[sessionID]; ok && current.gen == gen {
			delete(s.active, sessionID)
		}
		s.mu.Unlock()
		cancel()
	}
}
