package quota

import (
	"context"
	"sync"
)

// MemoryStore keeps the window in process memory. It is only correct for a
// single instance and is used for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	date    string
	global  int
	clients map[string]int
}

// NewMemoryStore returns an empty in-process window.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clients: make(map[string]int)}
}

// CheckAndConsume mirrors the Redis script under a mutex.
func (s *MemoryStore) CheckAndConsume(_ context.Context, clientID, windowDate string, limits Limits) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if windowDate != s.date {
		s.date = windowDate
		s.global = 0
		s.clients = make(map[string]int)
	}

	if s.global >= limits.GlobalDaily {
		return Decision{Reason: ReasonGlobal}, nil
	}
	if s.clients[clientID] >= limits.PerClientDaily {
		return Decision{Reason: ReasonClient}, nil
	}

	s.global++
	s.clients[clientID]++
	return Decision{Allowed: true}, nil
}

// Release gives one slot back if windowDate is still current.
func (s *MemoryStore) Release(_ context.Context, clientID, windowDate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if windowDate != s.date {
		return nil
	}
	if s.clients[clientID] > 0 {
		s.clients[clientID]--
	}
	if s.global > 0 {
		s.global--
	}
	return nil
}

// Counts reports the current window's counters.
func (s *MemoryStore) Counts(clientID string) (date string, global, client int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.date, s.global, s.clients[clientID]
}
