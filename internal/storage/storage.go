// Package storage defines the persistence interfaces for the monitor's
// durable state: the progress cursor, the dedup id set, the key/value
// cache snapshot, and the recent-event feed. Each piece is independently
// persisted and independently recoverable.
package storage

import (
	"context"
	"time"

	"github.com/cultivate-labs/chainwatch/internal/domain"
)

// DedupEntry records a notified event id and when it was marked.
type DedupEntry struct {
	ID         string
	NotifiedAt time.Time
}

// CacheEntry is the persisted form of one cache key. Value holds the
// JSON-encoded payload. TTL of zero means the entry never expires.
type CacheEntry struct {
	Key      string
	Value    []byte
	StoredAt time.Time
	TTL      time.Duration
}

// CursorStore persists the progress cursor.
type CursorStore interface {
	// LoadCursor returns the last persisted cursor value, 0 if never set.
	LoadCursor(ctx context.Context) (int64, error)

	// SaveCursor durably records v before returning.
	SaveCursor(ctx context.Context, v int64) error
}

// DedupStore persists the bounded set of already-notified event ids.
type DedupStore interface {
	// LoadDedup returns all persisted entries ordered oldest first.
	LoadDedup(ctx context.Context) ([]DedupEntry, error)

	SaveDedupEntry(ctx context.Context, e DedupEntry) error

	// DeleteDedupEntries removes evicted ids.
	DeleteDedupEntries(ctx context.Context, ids []string) error
}

// CacheStore persists cache entries so a cold-started process can
// rehydrate its cache state.
type CacheStore interface {
	// LoadCacheEntry returns nil with no error when the key is absent.
	LoadCacheEntry(ctx context.Context, key string) (*CacheEntry, error)

	SaveCacheEntry(ctx context.Context, e CacheEntry) error

	DeleteCacheEntry(ctx context.Context, key string) error

	ClearCache(ctx context.Context) error
}

// EventStore keeps a bounded feed of classified events for dashboard
// reads across restarts.
type EventStore interface {
	SaveEvent(ctx context.Context, ev domain.Event) error

	// RecentEvents returns up to limit events, newest first.
	RecentEvents(ctx context.Context, limit int) ([]domain.Event, error)
}

// Store aggregates every persistence concern behind one handle.
type Store interface {
	CursorStore
	DedupStore
	CacheStore
	EventStore

	Close() error
}
