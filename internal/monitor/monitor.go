// Package monitor assembles the event pipeline and manages its
// lifecycle: one background polling task, one background dispatch
// worker, and the control surface the HTTP layer exposes.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cultivate-labs/chainwatch/internal/cache"
	"github.com/cultivate-labs/chainwatch/internal/classify"
	"github.com/cultivate-labs/chainwatch/internal/config"
	"github.com/cultivate-labs/chainwatch/internal/cursor"
	"github.com/cultivate-labs/chainwatch/internal/dedup"
	"github.com/cultivate-labs/chainwatch/internal/domain"
	"github.com/cultivate-labs/chainwatch/internal/enrich"
	"github.com/cultivate-labs/chainwatch/internal/ledger"
	"github.com/cultivate-labs/chainwatch/internal/notify"
	"github.com/cultivate-labs/chainwatch/internal/storage"
	"github.com/cultivate-labs/chainwatch/internal/storage/memory"
	"github.com/cultivate-labs/chainwatch/internal/storage/sqlite"
)

const validatedAccountsCacheKey = "validated_accounts"

// AccountValidator is implemented by sources that can check account
// existence (the real fullnode client does; test fakes need not).
type AccountValidator interface {
	ValidateAccounts(ctx context.Context, accounts []string) ([]string, error)
}

// Option configures the Monitor, mainly to substitute fakes in tests.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithStore overrides the persistent store.
func WithStore(store storage.Store) Option {
	return func(m *Monitor) { m.store = store }
}

// WithSource overrides the ledger source.
func WithSource(source Source) Option {
	return func(m *Monitor) { m.source = source }
}

// WithChannel overrides the notification channel.
func WithChannel(ch notify.Channel) Option {
	return func(m *Monitor) { m.channel = ch }
}

// WithCompleter overrides the enrichment completion client.
func WithCompleter(c enrich.Completer) Option {
	return func(m *Monitor) { m.completer = c }
}

// WithOnDispatch installs a callback for every dispatched event (the
// websocket stream hooks in here).
func WithOnDispatch(fn func(domain.Event)) Option {
	return func(m *Monitor) { m.onDispatch = fn }
}

// Monitor owns the pipeline components and their background tasks.
type Monitor struct {
	cfg    *config.Config
	logger *slog.Logger

	store      storage.Store
	cache      *cache.Cache
	cursor     *cursor.Cursor
	dedup      *dedup.Ledger
	classifier *classify.Classifier
	source     Source
	completer  enrich.Completer
	channel    notify.Channel
	dispatcher *notify.Dispatcher
	poller     *Poller
	onDispatch func(domain.Event)

	mu          sync.Mutex
	running     bool
	pollCancel  context.CancelFunc
	pollDone    chan struct{}
	baseCtx     context.Context
	baseCancel  context.CancelFunc
	dispatchEnd <-chan struct{}
	startedAt   time.Time
}

// New builds a monitor from configuration. Options substitute
// individual collaborators; anything not overridden is constructed from
// cfg.
func New(cfg *config.Config, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.store == nil {
		if cfg.Storage.Path != "" {
			store, err := sqlite.New(cfg.Storage.Path)
			if err != nil {
				return nil, fmt.Errorf("open storage: %w", err)
			}
			m.store = store
		} else {
			m.logger.Warn("no storage path configured, state will not survive restarts")
			m.store = memory.New()
		}
	}

	ctx := context.Background()
	m.cache = cache.New(m.store, cfg.Cache.MaxEntries, m.logger)
	m.cursor = cursor.New(ctx, m.store, m.logger)
	m.dedup = dedup.New(ctx, m.store, cfg.Dedup.Capacity, m.logger)

	m.classifier = classify.New(classify.Policy{
		Threshold:         cfg.Classifier.Threshold,
		AmountCutoff:      cfg.Classifier.AmountCutoff,
		AmountBoost:       cfg.Classifier.AmountBoost,
		WatchBoost:        cfg.Classifier.WatchBoost,
		WatchedAccounts:   cfg.Classifier.Watch.Accounts,
		WatchedTokens:     cfg.Classifier.Watch.Tokens,
		WatchedCollection: cfg.Classifier.Watch.Collections,
	}, classify.WithExplorerURL(cfg.Ledger.ExplorerURL))

	if m.source == nil {
		var clientOpts []ledger.ClientOption
		if cfg.Ledger.BatchSize > 0 {
			clientOpts = append(clientOpts, ledger.WithBatchSize(cfg.Ledger.BatchSize))
		}
		m.source = ledger.NewClient(cfg.Ledger.NodeURL, cfg.Ledger.Handles, clientOpts...)
	}

	if m.completer == nil && cfg.Enrichment.APIKey != "" {
		m.completer = enrich.NewClient(cfg.Enrichment.APIKey,
			enrich.WithBaseURL(cfg.Enrichment.BaseURL),
			enrich.WithModel(cfg.Enrichment.Model))
	}
	generator := enrich.NewGenerator(m.completer, cfg.Enrichment.Temperature, cfg.Enrichment.Timeout, m.logger)

	if m.channel == nil && cfg.Discord.WebhookURL != "" {
		var whOpts []notify.WebhookOption
		if cfg.Discord.Username != "" {
			whOpts = append(whOpts, notify.WithUsername(cfg.Discord.Username))
		}
		m.channel = notify.NewWebhook(cfg.Discord.WebhookURL, whOpts...)
	}
	if m.channel == nil {
		m.logger.Warn("no notification channel configured, deliveries will be logged and discarded")
		m.channel = logChannel{logger: m.logger}
	}

	m.dispatcher = notify.NewDispatcher(m.channel, m.dedup, cfg.Discord.Interval, m.logger)

	m.poller = NewPoller(
		m.source, m.classifier, generator, m.dispatcher,
		m.cursor, m.dedup, m.store,
		cfg.Polling.Interval, cfg.Polling.BackoffBase, cfg.Polling.BackoffMax,
		m.logger,
	)
	if m.onDispatch != nil {
		m.poller.SetOnDispatch(m.onDispatch)
	}

	return m, nil
}

// Start launches the dispatch worker and the poll loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.baseCtx != nil {
		return fmt.Errorf("monitor already started")
	}

	m.baseCtx, m.baseCancel = context.WithCancel(ctx)
	m.startedAt = time.Now()

	go m.dispatcher.Run(m.baseCtx)
	m.dispatchEnd = m.dispatcher.Done()

	go m.validateAccounts(m.baseCtx)
	go m.pingSource(m.baseCtx)
	m.startPollingLocked()

	m.logger.Info("monitor started",
		slog.Duration("polling_interval", m.poller.Interval()),
		slog.Int("event_handles", len(m.cfg.Ledger.Handles)))
	return nil
}

// StartPolling resumes the poll loop after StopPolling. No-op when
// already polling.
func (m *Monitor) StartPolling() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startPollingLocked()
}

func (m *Monitor) startPollingLocked() {
	if m.running || m.baseCtx == nil {
		return
	}

	pollCtx, cancel := context.WithCancel(m.baseCtx)
	done := make(chan struct{})
	m.pollCancel = cancel
	m.pollDone = done
	m.running = true

	go func() {
		defer close(done)
		m.poller.Run(pollCtx)
	}()
}

// StopPolling halts the poll loop; the dispatch worker keeps draining
// already-queued jobs.
func (m *Monitor) StopPolling() {
	m.mu.Lock()
	cancel, done := m.pollCancel, m.pollDone
	m.running = false
	m.pollCancel = nil
	m.pollDone = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Shutdown stops everything, waiting for in-flight work up to ctx's
// deadline.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.StopPolling()

	m.mu.Lock()
	cancel := m.baseCancel
	dispatchEnd := m.dispatchEnd
	store := m.store
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if dispatchEnd != nil {
		select {
		case <-dispatchEnd:
		case <-ctx.Done():
			return fmt.Errorf("dispatch worker did not stop: %w", ctx.Err())
		}
	}

	if store != nil {
		if err := store.Close(); err != nil {
			return fmt.Errorf("close storage: %w", err)
		}
	}
	return nil
}

// IsRunning reports whether the poll loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Status describes the running state and per-component health.
type Status struct {
	IsRunning  bool              `json:"is_running"`
	State      string            `json:"state"`
	Components map[string]string `json:"components"`
}

// Status reports component health; a degraded ledger source shows up as
// unreachable rather than silently healthy.
func (m *Monitor) Status() Status {
	components := map[string]string{
		"ledger_source": "ok",
		"enrichment":    "configured",
		"notifications": "configured",
		"storage":       "sqlite",
	}
	if !m.poller.SourceHealthy() {
		components["ledger_source"] = "unreachable"
	}
	if m.completer == nil {
		components["enrichment"] = "disabled (fallback narratives)"
	}
	if _, isLog := m.channel.(logChannel); isLog {
		components["notifications"] = "disabled (log only)"
	}
	if m.cfg.Storage.Path == "" {
		components["storage"] = "memory (non-durable)"
	}

	return Status{
		IsRunning:  m.IsRunning(),
		State:      m.poller.State(),
		Components: components,
	}
}

// Metrics is the pipeline's completed-work snapshot.
type Metrics struct {
	EventsProcessed   uint64  `json:"events_processed"`
	SignificantEvents uint64  `json:"significant_events"`
	LastVersion       int64   `json:"last_version"`
	QueueDepth        int     `json:"queue_depth"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// Metrics returns the counters. They only move on fully-completed
// classify+dispatch cycles, never on fetch alone.
func (m *Monitor) Metrics() Metrics {
	processed, significant := m.poller.Counters()

	m.mu.Lock()
	startedAt := m.startedAt
	m.mu.Unlock()

	var uptime float64
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt).Seconds()
	}

	return Metrics{
		EventsProcessed:   processed,
		SignificantEvents: significant,
		LastVersion:       m.cursor.Get(),
		QueueDepth:        m.dispatcher.Len(),
		UptimeSeconds:     uptime,
	}
}

// SetPollingInterval changes the poll cadence; values below the
// configured minimum are rejected.
func (m *Monitor) SetPollingInterval(d time.Duration) error {
	return m.poller.SetInterval(d, config.MinPollingInterval)
}

// PollingInterval returns the current cadence.
func (m *Monitor) PollingInterval() time.Duration {
	return m.poller.Interval()
}

// RecentEvents returns up to limit classified events, newest first.
func (m *Monitor) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return m.store.RecentEvents(ctx, limit)
}

// Cache exposes the shared cache layer for dashboard reads.
func (m *Monitor) Cache() *cache.Cache {
	return m.cache
}

// ApplyConfig picks up hot-reloadable settings from a freshly loaded
// config: the poll cadence and nothing else. Structural settings
// (storage path, handles) require a restart.
func (m *Monitor) ApplyConfig(cfg *config.Config) {
	if err := m.poller.SetInterval(cfg.Polling.Interval, config.MinPollingInterval); err != nil {
		m.logger.Warn("ignoring reloaded polling interval", slog.String("error", err.Error()))
	}
}

// pingSource logs the node's current position so an unreachable or
// badly lagging source is visible right at startup.
func (m *Monitor) pingSource(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	version, err := m.source.LatestVersion(pingCtx)
	if err != nil {
		m.logger.Warn("ledger source unreachable at startup", slog.String("error", err.Error()))
		return
	}
	m.logger.Info("ledger source reachable",
		slog.Int64("latest_version", version),
		slog.Int64("cursor", m.cursor.Get()))
}

func (m *Monitor) validateAccounts(ctx context.Context) {
	validator, ok := m.source.(AccountValidator)
	if !ok || len(m.cfg.Ledger.Accounts) == 0 {
		return
	}

	if cached, ok := m.cache.Get(ctx, validatedAccountsCacheKey); ok {
		m.logger.Debug("using cached account validation", slog.Any("accounts", cached))
		return
	}

	valid, err := validator.ValidateAccounts(ctx, m.cfg.Ledger.Accounts)
	if err != nil {
		m.logger.Warn("account validation failed", slog.String("error", err.Error()))
		return
	}
	m.logger.Info("accounts validated",
		slog.Int("valid", len(valid)),
		slog.Int("configured", len(m.cfg.Ledger.Accounts)))

	if err := m.cache.Set(ctx, validatedAccountsCacheKey, valid, time.Hour); err != nil {
		m.logger.Warn("failed to cache validated accounts", slog.String("error", err.Error()))
	}
}

// logChannel is the stand-in channel used when no webhook is
// configured.
type logChannel struct {
	logger *slog.Logger
}

func (l logChannel) Deliver(ctx context.Context, content string) error {
	l.logger.Info("notification (no channel configured)", slog.String("content", content))
	return nil
}
