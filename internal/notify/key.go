package notify

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Key identifies one notification: a contest slug and a threshold in minutes.
type Key struct {
	Slug      string
	Threshold int
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Slug, k.Threshold)
}

// FiredSet records which keys have already been delivered.
type FiredSet interface {
	Seen(ctx context.Context, key Key) (bool, error)
	// Mark records key as fired until expiresAt.
	Mark(ctx context.Context, key Key, expiresAt time.Time) error
	// Evict drops entries that expired before now and returns how many went.
	Evict(ctx context.Context, now time.Time) (int, error)
}

// MemoryFiredSet is a process-lifetime FiredSet. Entries are dropped once
// their contest has started.
type MemoryFiredSet struct {
	mu      sync.Mutex
	entries map[Key]time.Time
}

// NewMemoryFiredSet creates an empty in-memory fired set.
func NewMemoryFiredSet() *MemoryFiredSet {
	return &MemoryFiredSet{entries: make(map[Key]time.Time)}
}

func (s *MemoryFiredSet) Seen(_ context.Context, key Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok, nil
}

func (s *MemoryFiredSet) Mark(_ context.Context, key Key, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = expiresAt
	return nil
}

func (s *MemoryFiredSet) Evict(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, exp := range s.entries {
		if now.After(exp) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of live entries.
func (s *MemoryFiredSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
