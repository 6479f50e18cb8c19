// Package dedup maintains the bounded set of already-notified event ids.
// Two concurrent marks for the same id must never produce two
// notifications, so every mutating operation is serialized behind one
// mutex.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cultivate-labs/chainwatch/internal/storage"
)

const DefaultCapacity = 1000

// Ledger is a durable, capacity-bounded set of notified event ids with
// oldest-first eviction. When the steady event rate stays below capacity
// per two poll intervals, an id marked within the last two cycles is
// never evicted before it is checked.
type Ledger struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]time.Time
	order    []string // insertion order, oldest first
	store    storage.DedupStore
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a ledger rehydrated from the store. Corrupt or absent
// persisted state degrades to an empty set.
func New(ctx context.Context, store storage.DedupStore, capacity int, logger *slog.Logger) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Ledger{
		capacity: capacity,
		entries:  make(map[string]time.Time),
		store:    store,
		logger:   logger,
		now:      time.Now,
	}

	persisted, err := store.LoadDedup(ctx)
	if err != nil {
		logger.Warn("failed to load dedup ledger, starting empty",
			slog.String("error", err.Error()))
		return l
	}
	for _, e := range persisted {
		if _, exists := l.entries[e.ID]; exists {
			continue
		}
		l.entries[e.ID] = e.NotifiedAt
		l.order = append(l.order, e.ID)
	}
	l.evictLocked(ctx)
	return l
}

// Seen reports whether id has already been notified.
func (l *Ledger) Seen(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.entries[id]
	return ok
}

// Mark records id as notified. It is idempotent: marking a known id is a
// no-op. Inserting past capacity evicts the oldest entries, always
// retaining the most recently marked ones.
func (l *Ledger) Mark(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[id]; exists {
		return nil
	}

	notifiedAt := l.now()
	if err := l.store.SaveDedupEntry(ctx, storage.DedupEntry{ID: id, NotifiedAt: notifiedAt}); err != nil {
		return fmt.Errorf("persist dedup entry %s: %w", id, err)
	}

	l.entries[id] = notifiedAt
	l.order = append(l.order, id)
	l.evictLocked(ctx)
	return nil
}

// Len returns the current number of tracked ids.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

func (l *Ledger) evictLocked(ctx context.Context) {
	if len(l.order) <= l.capacity {
		return
	}

	excess := len(l.order) - l.capacity
	evicted := l.order[:excess]
	l.order = l.order[excess:]
	for _, id := range evicted {
		delete(l.entries, id)
	}

	if err := l.store.DeleteDedupEntries(ctx, evicted); err != nil {
		// The in-memory set is already consistent; stale rows are
		// re-trimmed on the next rehydrate.
		l.logger.Warn("failed to delete evicted dedup entries",
			slog.Int("count", len(evicted)),
			slog.String("error", err.Error()))
	}
}
