// Package cache provides the TTL key/value layer backing fallback reads
// and cross-restart state. Values live in a bounded in-memory LRU and are
// written through to stable storage, so a cold-started process rehydrates
// on first read. TTLs are evaluated at read time, never actively swept.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cultivate-labs/chainwatch/internal/domain"
	"github.com/cultivate-labs/chainwatch/internal/storage"
)

const DefaultMaxEntries = 256

type entry struct {
	value    any
	storedAt time.Time
	ttl      time.Duration // 0 means no expiry
}

// Cache is a write-through TTL cache. It is constructed once by the
// application root and shared by reference; concurrent writers for the
// same key are last-writer-wins.
type Cache struct {
	mu     sync.Mutex // serializes write-through so readers never see a half-applied set
	mem    *expirable.LRU[string, entry]
	store  storage.CacheStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates a cache over the given persistent store. maxEntries bounds
// only the in-memory layer; older keys remain readable through storage.
func New(store storage.CacheStore, maxEntries int, logger *slog.Logger) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		mem:    expirable.NewLRU[string, entry](maxEntries, nil, 0),
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Set stores value under key with an optional TTL (0 = never expires).
// The in-memory layer is updated first, then the same snapshot is
// persisted. A persistence failure degrades that set to memory-only: it
// is logged and swallowed, per the cache's availability-over-durability
// contract. Only an unserializable value is an error.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value for %q: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	storedAt := c.now()
	c.mem.Add(key, entry{value: value, storedAt: storedAt, ttl: ttl})

	if err := c.store.SaveCacheEntry(ctx, storage.CacheEntry{
		Key:      key,
		Value:    encoded,
		StoredAt: storedAt,
		TTL:      ttl,
	}); err != nil {
		ioErr := &domain.CacheIOError{Op: "write", Key: key, Err: err}
		c.logger.Warn("cache persistence failed, entry is memory-only",
			slog.String("key", key),
			slog.String("error", ioErr.Error()))
	}
	return nil
}

// Get returns the cached value for key. Expired or missing keys report
// ok=false. Reads prefer the memory layer and fall back to stable
// storage on miss; values rehydrated from storage come back as decoded
// JSON (maps, slices, numbers as float64).
func (c *Cache) Get(ctx context.Context, key string) (any, bool) {
	if e, ok := c.mem.Get(key); ok {
		if c.expired(e.storedAt, e.ttl) {
			return nil, false
		}
		return e.value, true
	}

	persisted, err := c.store.LoadCacheEntry(ctx, key)
	if err != nil {
		ioErr := &domain.CacheIOError{Op: "read", Key: key, Err: err}
		c.logger.Warn("cache storage read failed",
			slog.String("key", key),
			slog.String("error", ioErr.Error()))
		return nil, false
	}
	if persisted == nil || c.expired(persisted.StoredAt, persisted.TTL) {
		return nil, false
	}

	var value any
	if err := json.Unmarshal(persisted.Value, &value); err != nil {
		c.logger.Warn("corrupt cache entry ignored", slog.String("key", key))
		return nil, false
	}

	c.mem.Add(key, entry{value: value, storedAt: persisted.StoredAt, ttl: persisted.TTL})
	return value, true
}

// Clear removes a single key from both layers.
func (c *Cache) Clear(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mem.Remove(key)
	if err := c.store.DeleteCacheEntry(ctx, key); err != nil {
		return &domain.CacheIOError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// ClearAll empties the cache entirely.
func (c *Cache) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mem.Purge()
	if err := c.store.ClearCache(ctx); err != nil {
		return &domain.CacheIOError{Op: "clear", Err: err}
	}
	return nil
}

func (c *Cache) expired(storedAt time.Time, ttl time.Duration) bool {
	return ttl > 0 && c.now().Sub(storedAt) > ttl
}
