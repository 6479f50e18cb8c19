// Package memory provides an in-memory implementation of storage.Store,
// used in tests and as the degraded fallback when no database path is
// configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/cultivate-labs/chainwatch/internal/domain"
	"github.com/cultivate-labs/chainwatch/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu     sync.RWMutex
	cursor int64
	dedup  map[string]storage.DedupEntry
	cache  map[string]storage.CacheEntry
	events map[string]domain.Event
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		dedup:  make(map[string]storage.DedupEntry),
		cache:  make(map[string]storage.CacheEntry),
		events: make(map[string]domain.Event),
	}
}

func (s *Store) LoadCursor(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor, nil
}

func (s *Store) SaveCursor(ctx context.Context, v int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = v
	return nil
}

func (s *Store) LoadDedup(ctx context.Context) ([]storage.DedupEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]storage.DedupEntry, 0, len(s.dedup))
	for _, e := range s.dedup {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].NotifiedAt.Equal(entries[j].NotifiedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].NotifiedAt.Before(entries[j].NotifiedAt)
	})
	return entries, nil
}

func (s *Store) SaveDedupEntry(ctx context.Context, e storage.DedupEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.dedup[e.ID]; !exists {
		s.dedup[e.ID] = e
	}
	return nil
}

func (s *Store) DeleteDedupEntries(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.dedup, id)
	}
	return nil
}

func (s *Store) LoadCacheEntry(ctx context.Context, key string) (*storage.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.cache[key]
	if !exists {
		return nil, nil
	}
	return &e, nil
}

func (s *Store) SaveCacheEntry(ctx context.Context, e storage.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[e.Key] = e
	return nil
}

func (s *Store) DeleteCacheEntry(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
	return nil
}

func (s *Store) ClearCache(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]storage.CacheEntry)
	return nil
}

func (s *Store) SaveEvent(ctx context.Context, ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.ID] = ev
	return nil
}

func (s *Store) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]domain.Event, 0, len(s.events))
	for _, ev := range s.events {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].Version > events[j].Version
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *Store) Close() error { return nil }
