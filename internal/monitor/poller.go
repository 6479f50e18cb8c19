package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/cultivate-labs/chainwatch/internal/classify"
	"github.com/cultivate-labs/chainwatch/internal/cursor"
	"github.com/cultivate-labs/chainwatch/internal/dedup"
	"github.com/cultivate-labs/chainwatch/internal/domain"
	"github.com/cultivate-labs/chainwatch/internal/ledger"
	"github.com/cultivate-labs/chainwatch/internal/notify"
	"github.com/cultivate-labs/chainwatch/internal/storage"
	"github.com/cultivate-labs/chainwatch/internal/telemetry"
)

// Source is the black-box ledger event feed.
type Source interface {
	LatestVersion(ctx context.Context) (int64, error)
	EventsSince(ctx context.Context, since int64) ([]ledger.Event, error)
}

// Narrator attaches a natural-language explanation to an event.
type Narrator interface {
	Narrative(ctx context.Context, ev domain.Event) string
}

// Enqueuer is the dispatcher surface the poller needs.
type Enqueuer interface {
	Enqueue(job notify.Job)
}

type state int32

const (
	stateIdle state = iota
	stateFetching
	stateClassifying
	stateDispatching
	stateBackoff
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateFetching:
		return "fetching"
	case stateClassifying:
		return "classifying"
	case stateDispatching:
		return "dispatching"
	case stateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Poller drives the pipeline: fetch new events past the cursor,
// classify, enrich, dispatch, advance. Cycles never overlap
// (single-flight), and the poller is the only writer of the cursor and
// the dedup ledger.
type Poller struct {
	source     Source
	classifier *classify.Classifier
	narrator   Narrator
	dispatcher Enqueuer
	cursor     *cursor.Cursor
	dedup      *dedup.Ledger
	events     storage.EventStore
	logger     *slog.Logger

	interval    atomic.Int64 // nanoseconds
	backoffBase time.Duration
	backoffMax  time.Duration

	state           atomic.Int32
	sourceHealthy   atomic.Bool
	consecutiveErrs atomic.Int64

	eventsProcessed   atomic.Uint64
	significantEvents atomic.Uint64

	onDispatch func(domain.Event)

	// Guards cursor+dedup writes against a racing Shutdown: a cycle in
	// flight finishes its dispatch stage before Run returns.
	cycleMu sync.Mutex
}

// NewPoller wires the pipeline stages together.
func NewPoller(
	source Source,
	classifier *classify.Classifier,
	narrator Narrator,
	dispatcher Enqueuer,
	cur *cursor.Cursor,
	seen *dedup.Ledger,
	events storage.EventStore,
	interval, backoffBase, backoffMax time.Duration,
	logger *slog.Logger,
) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		source:      source,
		classifier:  classifier,
		narrator:    narrator,
		dispatcher:  dispatcher,
		cursor:      cur,
		dedup:       seen,
		events:      events,
		backoffBase: backoffBase,
		backoffMax:  backoffMax,
		logger:      logger,
	}
	p.interval.Store(int64(interval))
	p.sourceHealthy.Store(true)
	return p
}

// SetOnDispatch installs a callback invoked for every event whose
// notification job was enqueued. Must be set before Run.
func (p *Poller) SetOnDispatch(fn func(domain.Event)) {
	p.onDispatch = fn
}

// Interval returns the current poll cadence.
func (p *Poller) Interval() time.Duration {
	return time.Duration(p.interval.Load())
}

// SetInterval changes the poll cadence, taking effect after the current
// sleep. Values below min are rejected.
func (p *Poller) SetInterval(d, min time.Duration) error {
	if d < min {
		return fmt.Errorf("polling interval %s below minimum %s", d, min)
	}
	p.interval.Store(int64(d))
	return nil
}

// State returns the current loop state name.
func (p *Poller) State() string {
	return state(p.state.Load()).String()
}

// SourceHealthy reports whether the last fetch from the ledger source
// succeeded.
func (p *Poller) SourceHealthy() bool {
	return p.sourceHealthy.Load()
}

// Counters returns the completed-work totals.
func (p *Poller) Counters() (processed, significant uint64) {
	return p.eventsProcessed.Load(), p.significantEvents.Load()
}

// Run executes poll cycles until ctx is cancelled. Any failure inside a
// cycle converts to a backoff wait; the loop itself never dies.
func (p *Poller) Run(ctx context.Context) {
	for {
		p.state.Store(int32(stateIdle))
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.Interval()):
		}

		start := time.Now()
		err := p.cycle(ctx)
		status := "ok"
		if err != nil {
			status = "error"
		}
		pollCyclesTotal.WithLabelValues(status).Inc()
		pollCycleDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.state.Store(int32(stateBackoff))
			delay := p.backoffDelay()
			p.logger.Warn("poll cycle failed, backing off",
				slog.String("error", err.Error()),
				slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

// cycle runs one fetch-classify-dispatch pass. It returns nil both for
// "work done" and "nothing new"; only source or persistence failures
// are errors.
func (p *Poller) cycle(ctx context.Context) error {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	// A stop arriving mid-cycle must not abort the in-flight fetch or
	// cursor write; the source's own client timeout bounds the calls,
	// and Run checks cancellation between cycles.
	ctx = context.WithoutCancel(ctx)

	ctx, span := telemetry.Tracer().Start(ctx, "poll.cycle")
	defer span.End()

	p.state.Store(int32(stateFetching))
	since := p.cursor.Get()
	span.SetAttributes(attribute.Int64("ledger.cursor", since))

	fetchCtx, fetchSpan := telemetry.Tracer().Start(ctx, "poll.fetch")
	raws, err := p.source.EventsSince(fetchCtx, since)
	if err != nil {
		fetchSpan.RecordError(err)
		fetchSpan.SetStatus(codes.Error, "fetch failed")
		fetchSpan.End()
		span.SetStatus(codes.Error, "fetch failed")
		p.sourceHealthy.Store(false)
		p.consecutiveErrs.Add(1)
		return fmt.Errorf("fetch events since %d: %w", since, err)
	}
	fetchSpan.SetAttributes(attribute.Int("ledger.events", len(raws)))
	fetchSpan.End()
	p.sourceHealthy.Store(true)
	p.consecutiveErrs.Store(0)

	if len(raws) == 0 {
		p.logger.Debug("no new events", slog.Int64("cursor", since))
		return nil
	}

	p.state.Store(int32(stateClassifying))
	classifyCtx, classifySpan := telemetry.Tracer().Start(ctx, "poll.classify")

	maxVersion := since
	var pending []domain.Event
	for _, raw := range raws {
		ev := p.classifier.Classify(raw)
		if ev.Version > maxVersion {
			maxVersion = ev.Version
		}

		if !p.classifier.Significant(ev) {
			p.logger.Debug("event below significance threshold",
				slog.String("id", ev.ID),
				slog.Float64("importance", ev.Importance))
			continue
		}
		if p.dedup.Seen(ev.ID) {
			p.logger.Debug("duplicate event skipped", slog.String("id", ev.ID))
			continue
		}

		// Enrichment failure substitutes a fallback inside Narrative;
		// the event is never dropped here.
		ev.Narrative = p.narrator.Narrative(classifyCtx, ev)
		pending = append(pending, ev)
	}
	classifySpan.SetAttributes(attribute.Int("events.significant", len(pending)))
	classifySpan.End()

	p.state.Store(int32(stateDispatching))
	ctx, dispatchSpan := telemetry.Tracer().Start(ctx, "poll.dispatch")
	defer dispatchSpan.End()

	for _, ev := range pending {
		if err := p.events.SaveEvent(ctx, ev); err != nil {
			p.logger.Warn("failed to persist event for dashboard",
				slog.String("id", ev.ID),
				slog.String("error", err.Error()))
		}
		p.dispatcher.Enqueue(notify.Job{
			Content: FormatNotification(ev),
			EventID: ev.ID,
		})
		if p.onDispatch != nil {
			p.onDispatch(ev)
		}
		p.significantEvents.Add(1)
		significantEventsTotal.Inc()
	}

	// The cursor advances only after every job is durably enqueued,
	// and even when enrichment degraded to fallbacks.
	if err := p.cursor.Set(ctx, maxVersion); err != nil {
		if errors.Is(err, domain.ErrInvalidProgress) {
			p.logger.Error("refusing to move cursor backward",
				slog.Int64("attempted", maxVersion),
				slog.Int64("current", p.cursor.Get()))
			return nil
		}
		return fmt.Errorf("advance cursor to %d: %w", maxVersion, err)
	}

	p.eventsProcessed.Add(uint64(len(raws)))
	eventsProcessedTotal.Add(float64(len(raws)))

	p.logger.Info("poll cycle complete",
		slog.Int("events", len(raws)),
		slog.Int("significant", len(pending)),
		slog.Int64("cursor", maxVersion))
	return nil
}

func (p *Poller) backoffDelay() time.Duration {
	n := p.consecutiveErrs.Load()
	if n < 1 {
		n = 1
	}
	delay := time.Duration(n) * p.backoffBase
	if delay > p.backoffMax {
		delay = p.backoffMax
	}
	return delay
}

// FormatNotification renders the delivery message for one event.
func FormatNotification(ev domain.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (importance %.2f)\n", strings.ToUpper(string(ev.Category)), ev.Importance)
	if ev.Narrative != "" {
		b.WriteString(ev.Narrative)
		b.WriteString("\n")
	}
	if ev.TransactionURL != "" {
		fmt.Fprintf(&b, "Transaction: %s", ev.TransactionURL)
	}
	return strings.TrimSpace(b.String())
}
