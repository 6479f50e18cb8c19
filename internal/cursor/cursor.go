// Package cursor tracks the highest fully-processed ledger version. The
// value is persisted synchronously before any advance is acknowledged, so
// a crash immediately after Set never reports progress that was not
// durable.
package cursor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cultivate-labs/chainwatch/internal/domain"
	"github.com/cultivate-labs/chainwatch/internal/storage"
)

// Cursor is a durable, monotonically non-decreasing pointer into the
// ledger event stream. Only the poll loop writes it.
type Cursor struct {
	mu      sync.RWMutex
	current int64
	store   storage.CursorStore
	logger  *slog.Logger
}

// New creates a cursor rehydrated from the store. A failed load degrades
// to starting from zero rather than failing the process.
func New(ctx context.Context, store storage.CursorStore, logger *slog.Logger) *Cursor {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cursor{store: store, logger: logger}

	v, err := store.LoadCursor(ctx)
	if err != nil {
		logger.Warn("failed to load progress cursor, starting from zero",
			slog.String("error", err.Error()))
		return c
	}
	c.current = v
	return c
}

// Get returns the last fully-processed ledger version, 0 if never set.
func (c *Cursor) Get() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Set advances the cursor to v. It returns domain.ErrInvalidProgress if v
// is below the current value, and persists before updating the in-memory
// value so success implies durability. Setting the current value again is
// a no-op.
func (c *Cursor) Set(ctx context.Context, v int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v < c.current {
		return fmt.Errorf("set cursor to %d (current %d): %w", v, c.current, domain.ErrInvalidProgress)
	}
	if v == c.current {
		return nil
	}

	if err := c.store.SaveCursor(ctx, v); err != nil {
		return fmt.Errorf("persist cursor %d: %w", v, err)
	}

	c.current = v
	return nil
}
