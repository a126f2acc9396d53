package upstream

import (
	"slices"
	"sync"
)

// subscriptions tracks which symbols were sent to the current session.
// It is cleared whenever a new session starts.
type subscriptions struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newSubscriptions() *subscriptions {
	return &subscriptions{active: make(map[string]struct{})}
}

// MarkActive returns true if symbol was not active yet.
func (s *subscriptions) MarkActive(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[symbol]; ok {
		return false
	}
	s.active[symbol] = struct{}{}
	return true
}

// MarkInactive returns true if symbol was active.
func (s *subscriptions) MarkInactive(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[symbol]; !ok {
		return false
	}
	delete(s.active, symbol)
	return true
}

// ClearActive clears all active symbols.
func (s *subscriptions) ClearActive() {
	s.mu.Lock()
	clear(s.active)
	s.mu.Unlock()
}

// Active returns the active symbols, sorted.
func (s *subscriptions) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.active))
	for symbol := range s.active {
		out = append(out, symbol)
	}
	slices.Sort(out)
	return out
}
