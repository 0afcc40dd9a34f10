package cache

import (
	"context"
	"sync"
	"time"

	"github.com/SAP-F-2025/results-sync/internal/events"
)

var _ events.FlagStore = (*MemoryFlagStore)(nil)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryFlagStore is a process-local FlagStore. Entries expire after ttl
// when ttl is positive.
type MemoryFlagStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryFlagStore(ttl time.Duration) *MemoryFlagStore {
	return &MemoryFlagStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryFlagStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: value}
	if s.ttl > 0 {
		entry.expiresAt = s.now().Add(s.ttl)
	}
	s.entries[key] = entry
	return nil
}

func (s *MemoryFlagStore) Take(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	delete(s.entries, key)

	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryFlagStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// PurgeExpired removes expired entries and returns how many were removed.
func (s *MemoryFlagStore) PurgeExpired(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var purged int64
	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			purged++
		}
	}
	return purged, nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryFlagStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryFlagStore) Ping(context.Context) error {
	return nil
}
