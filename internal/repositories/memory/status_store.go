package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lauragobrightly/ship-ship/internal/repositories"
)

type statusEntry struct {
	status    bool
	expiresAt time.Time
}

// StatusStore keeps pre-order flags in process memory. Expired entries are dropped lazily on read
// and swept on Count.
type StatusStore struct {
	mu      sync.RWMutex
	entries map[string]statusEntry
	now     func() time.Time
}

var _ repositories.StatusStore = (*StatusStore)(nil)

// NewStatusStore constructs an empty store. A nil clock defaults to time.Now.
func NewStatusStore(clock func() time.Time) *StatusStore {
	if clock == nil {
		clock = time.Now
	}
	return &StatusStore{entries: make(map[string]statusEntry), now: clock}
}

func (s *StatusStore) Get(_ context.Context, variantID string) (bool, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[variantID]
	s.mu.RUnlock()
	if !ok {
		return false, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		if current, still := s.entries[variantID]; still && current == entry {
			delete(s.entries, variantID)
		}
		s.mu.Unlock()
		return false, false, nil
	}
	return entry.status, true, nil
}

func (s *StatusStore) Set(_ context.Context, variantID string, status bool, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	s.entries[variantID] = statusEntry{status: status, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *StatusStore) Delete(_ context.Context, variantIDs ...string) error {
	s.mu.Lock()
	for _, id := range variantIDs {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	return nil
}

func (s *StatusStore) Count(context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, id)
		}
	}
	return len(s.entries), nil
}

func (s *StatusStore) Ping(context.Context) error { return nil }

func (s *StatusStore) Backend() string { return "memory" }
