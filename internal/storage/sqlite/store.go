// Package sqlite provides the SQLite-backed implementation of the
// storage interfaces. A single database file holds cursor, dedup, cache
// and event state in separate tables so each piece degrades
// independently.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cultivate-labs/chainwatch/internal/domain"
	"github.com/cultivate-labs/chainwatch/internal/storage"
)

const maxStoredEvents = 500

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and initializes the
// schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS cursor (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dedup (
			id TEXT PRIMARY KEY,
			notified_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			stored_at TIMESTAMP NOT NULL,
			ttl_seconds INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			importance REAL NOT NULL,
			version INTEGER NOT NULL,
			type TEXT NOT NULL,
			subject TEXT,
			amount INTEGER NOT NULL DEFAULT 0,
			payload TEXT,
			narrative TEXT,
			transaction_url TEXT,
			account_url TEXT,
			observed_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dedup_notified ON dedup(notified_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_version ON events(version)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) LoadCursor(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM cursor WHERE id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load cursor: %w", err)
	}
	return v, nil
}

func (s *Store) SaveCursor(ctx context.Context, v int64) error {
	query := `INSERT INTO cursor (id, version, updated_at) VALUES (1, ?, ?)
	          ON CONFLICT(id) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, v, time.Now()); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

func (s *Store) LoadDedup(ctx context.Context) ([]storage.DedupEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, notified_at FROM dedup ORDER BY notified_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load dedup entries: %w", err)
	}
	defer rows.Close()

	var entries []storage.DedupEntry
	for rows.Next() {
		var e storage.DedupEntry
		if err := rows.Scan(&e.ID, &e.NotifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dedup entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) SaveDedupEntry(ctx context.Context, e storage.DedupEntry) error {
	query := `INSERT INTO dedup (id, notified_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, e.ID, e.NotifiedAt); err != nil {
		return fmt.Errorf("failed to save dedup entry: %w", err)
	}
	return nil
}

func (s *Store) DeleteDedupEntries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(`DELETE FROM dedup WHERE id IN (%s)`, placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete dedup entries: %w", err)
	}
	return nil
}

func (s *Store) LoadCacheEntry(ctx context.Context, key string) (*storage.CacheEntry, error) {
	query := `SELECT key, value, stored_at, ttl_seconds FROM cache WHERE key = ?`

	var e storage.CacheEntry
	var value string
	var ttlSeconds int64

	err := s.db.QueryRowContext(ctx, query, key).Scan(&e.Key, &value, &e.StoredAt, &ttlSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cache entry: %w", err)
	}

	e.Value = []byte(value)
	e.TTL = time.Duration(ttlSeconds) * time.Second
	return &e, nil
}

func (s *Store) SaveCacheEntry(ctx context.Context, e storage.CacheEntry) error {
	query := `INSERT INTO cache (key, value, stored_at, ttl_seconds) VALUES (?, ?, ?, ?)
	          ON CONFLICT(key) DO UPDATE SET value = excluded.value,
	          stored_at = excluded.stored_at, ttl_seconds = excluded.ttl_seconds`

	_, err := s.db.ExecContext(ctx, query,
		e.Key, string(e.Value), e.StoredAt, int64(e.TTL/time.Second))
	if err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	return nil
}

func (s *Store) DeleteCacheEntry(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *Store) ClearCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

func (s *Store) SaveEvent(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `INSERT INTO events (id, category, importance, version, type, subject, amount,
	          payload, narrative, transaction_url, account_url, observed_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	          ON CONFLICT(id) DO NOTHING`

	_, err = s.db.ExecContext(ctx, query,
		ev.ID, string(ev.Category), ev.Importance, ev.Version, ev.Type, ev.Subject,
		int64(ev.Amount), string(payload), ev.Narrative, ev.TransactionURL, ev.AccountURL,
		ev.ObservedAt)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	// Keep the feed bounded.
	prune := `DELETE FROM events WHERE id NOT IN
	          (SELECT id FROM events ORDER BY version DESC, observed_at DESC LIMIT ?)`
	if _, err := s.db.ExecContext(ctx, prune, maxStoredEvents); err != nil {
		return fmt.Errorf("failed to prune events: %w", err)
	}
	return nil
}

func (s *Store) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	query := `SELECT id, category, importance, version, type, subject, amount,
	          payload, narrative, transaction_url, account_url, observed_at
	          FROM events ORDER BY version DESC, observed_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var category, payload string
		var amount int64

		err := rows.Scan(&ev.ID, &category, &ev.Importance, &ev.Version, &ev.Type,
			&ev.Subject, &amount, &payload, &ev.Narrative, &ev.TransactionURL,
			&ev.AccountURL, &ev.ObservedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		ev.Category = domain.Category(category)
		ev.Amount = uint64(amount)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
				// A corrupt payload should not hide the event itself.
				ev.Payload = nil
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
