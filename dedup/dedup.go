// Package dedup guarantees at-most-once handling of webhook event IDs.
package dedup

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultRetention is how long an event ID is remembered.
const DefaultRetention = 24 * time.Hour

// ErrDuplicate is returned when an event ID has already been accepted.
var ErrDuplicate = errors.New("duplicate event")

// Store records event IDs. Accept must be an atomic check-and-insert.
// Forget drops an accepted ID so a redelivery is accepted again.
type Store interface {
	Accept(ctx context.Context, eventID string) error
	Forget(ctx context.Context, eventID string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu        sync.Mutex
	seen      map[string]time.Time // event ID -> accepted at
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore creates a store that forgets IDs after retention.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryStore{
		seen:      make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

// WithClock replaces the store's time source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Accept records eventID, or returns ErrDuplicate without touching the
// existing entry.
func (s *MemoryStore) Accept(_ context.Context, eventID string) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if at, ok := s.seen[eventID]; ok && now.Sub(at) < s.retention {
		return ErrDuplicate
	}
	s.seen[eventID] = now
	return nil
}

// Forget removes eventID. Unknown IDs are ignored.
func (s *MemoryStore) Forget(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.seen, eventID)
	return nil
}

// Sweep evicts IDs older than the retention window and returns how many
// were removed.
func (s *MemoryStore) Sweep() int {
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, at := range s.seen {
		if at.Before(cutoff) {
			delete(s.seen, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of remembered IDs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
