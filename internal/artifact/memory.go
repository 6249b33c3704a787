package artifact

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemoryStore keeps artifacts in process memory. The head is a counter.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	head    int64

	hookMu      sync.Mutex
	beforeWrite func(entries []Entry) error
}

// NewMemoryStore returns an empty store at version "0".
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// BeforeWrite installs a hook run at the start of every WriteMany, outside
// the store lock. A non-nil error aborts the write with nothing applied.
func (s *MemoryStore) BeforeWrite(fn func(entries []Entry) error) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.beforeWrite = fn
}

// Bump advances the head without writing, as a foreign commit would.
func (s *MemoryStore) Bump() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.head++
}

// Keys returns how many keys are stored.
func (s *MemoryStore) Keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Has reports whether key is stored.
func (s *MemoryStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

func (s *MemoryStore) Read(_ context.Context, key string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[key]
	if !ok {
		return Object{}, ErrNotFound
	}
	return Object{Data: bytes.Clone(data), Version: strconv.FormatInt(s.head, 10)}, nil
}

func (s *MemoryStore) WriteMany(_ context.Context, entries []Entry, _ string, baseVersion string) (string, error) {
	s.hookMu.Lock()
	hook := s.beforeWrite
	s.hookMu.Unlock()
	if hook != nil {
		if err := hook(entries); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := strconv.FormatInt(s.head, 10)
	if baseVersion != "" && baseVersion != current {
		return "", fmt.Errorf("%w: base %s, head %s", ErrConflict, baseVersion, current)
	}
	for _, e := range entries {
		s.objects[e.Key] = bytes.Clone(e.Data)
	}
	s.head++
	return strconv.FormatInt(s.head, 10), nil
}

func (s *MemoryStore) Head(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return strconv.FormatInt(s.head, 10), nil
}
