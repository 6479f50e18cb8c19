package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cultivate-labs/chainwatch/internal/config"
	"github.com/cultivate-labs/chainwatch/internal/domain"
	"github.com/cultivate-labs/chainwatch/internal/ledger"
)

type fakeChannel struct {
	mu        sync.Mutex
	delivered []string
}

func (f *fakeChannel) Deliver(ctx context.Context, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, content)
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

func testConfig() *config.Config {
	return &config.Config{
		Polling: config.PollingConfig{
			Interval:    20 * time.Millisecond,
			BackoffBase: 10 * time.Millisecond,
			BackoffMax:  50 * time.Millisecond,
		},
		Classifier: config.ClassifierConfig{
			Threshold:    0.6,
			AmountCutoff: 10000,
			AmountBoost:  0.2,
			WatchBoost:   0.15,
		},
		Dedup:   config.DedupConfig{Capacity: 1000},
		Cache:   config.CacheConfig{MaxEntries: 64},
		Discord: config.DiscordConfig{Interval: 5 * time.Millisecond},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestMonitor_EndToEnd(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{events: []ledger.Event{mintEvent(101, "0xabc")}}
	channel := &fakeChannel{}

	var streamed []domain.Event
	var streamMu sync.Mutex

	m, err := New(testConfig(),
		WithSource(source),
		WithChannel(channel),
		WithOnDispatch(func(ev domain.Event) {
			streamMu.Lock()
			streamed = append(streamed, ev)
			streamMu.Unlock()
		}),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Shutdown(context.Background())

	waitFor(t, 2*time.Second, func() bool { return channel.count() == 1 })

	metrics := m.Metrics()
	if metrics.LastVersion != 101 {
		t.Errorf("last_version = %d, want 101", metrics.LastVersion)
	}
	if metrics.EventsProcessed == 0 {
		t.Error("events_processed should have advanced")
	}
	if metrics.SignificantEvents != 1 {
		t.Errorf("significant_events = %d, want 1", metrics.SignificantEvents)
	}

	streamMu.Lock()
	streamCount := len(streamed)
	streamMu.Unlock()
	if streamCount != 1 {
		t.Errorf("onDispatch fired %d times, want 1", streamCount)
	}

	// Subsequent cycles see the same ledger content; nothing is
	// re-delivered.
	time.Sleep(100 * time.Millisecond)
	if got := channel.count(); got != 1 {
		t.Errorf("deliveries = %d, want exactly 1", got)
	}

	events, err := m.RecentEvents(ctx, 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 1 || events[0].Version != 101 {
		t.Errorf("recent events = %+v, want the single v101 event", events)
	}
}

func TestMonitor_StartStopPolling(t *testing.T) {
	source := &fakeSource{}
	m, err := New(testConfig(), WithSource(source), WithChannel(&fakeChannel{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Shutdown(context.Background())

	if !m.IsRunning() {
		t.Fatal("should be running after Start")
	}

	m.StopPolling()
	if m.IsRunning() {
		t.Fatal("should not be running after StopPolling")
	}

	source.mu.Lock()
	callsAtStop := source.calls
	source.mu.Unlock()
	time.Sleep(100 * time.Millisecond)
	source.mu.Lock()
	callsAfter := source.calls
	source.mu.Unlock()
	if callsAfter != callsAtStop {
		t.Errorf("source polled %d more times after stop", callsAfter-callsAtStop)
	}

	m.StartPolling()
	if !m.IsRunning() {
		t.Fatal("should be running again after StartPolling")
	}
	waitFor(t, time.Second, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return source.calls > callsAfter
	})
}

func TestMonitor_StartTwiceFails(t *testing.T) {
	m, err := New(testConfig(), WithSource(&fakeSource{}), WithChannel(&fakeChannel{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Shutdown(context.Background())

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestMonitor_SetPollingInterval(t *testing.T) {
	m, err := New(testConfig(), WithSource(&fakeSource{}), WithChannel(&fakeChannel{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.SetPollingInterval(5 * time.Second); err == nil {
		t.Fatal("interval below minimum should be rejected")
	}
	if err := m.SetPollingInterval(30 * time.Second); err != nil {
		t.Fatalf("SetPollingInterval: %v", err)
	}
	if got := m.PollingInterval(); got != 30*time.Second {
		t.Errorf("interval = %s, want 30s", got)
	}
}

func TestMonitor_StatusReportsDegradedComponents(t *testing.T) {
	// No channel, no completer, no storage path.
	m, err := New(testConfig(), WithSource(&fakeSource{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	status := m.Status()
	if status.IsRunning {
		t.Error("should not be running before Start")
	}
	if status.Components["enrichment"] == "configured" {
		t.Error("enrichment should report disabled without an API key")
	}
	if status.Components["notifications"] == "configured" {
		t.Error("notifications should report disabled without a webhook")
	}
	if status.Components["storage"] == "sqlite" {
		t.Error("storage should report the memory store")
	}
}

func TestMonitor_StatusReportsUnreachableSource(t *testing.T) {
	source := &fakeSource{err: domain.ErrSourceUnavailable}
	m, err := New(testConfig(), WithSource(source), WithChannel(&fakeChannel{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Shutdown(context.Background())

	waitFor(t, time.Second, func() bool {
		return m.Status().Components["ledger_source"] == "unreachable"
	})
}

type slowValidatingSource struct {
	fakeSource
	release chan struct{}
}

func (s *slowValidatingSource) ValidateAccounts(ctx context.Context, accounts []string) ([]string, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return accounts, nil
}

func TestMonitor_StartNotBlockedByAccountValidation(t *testing.T) {
	source := &slowValidatingSource{release: make(chan struct{})}
	defer close(source.release)

	cfg := testConfig()
	cfg.Ledger.Accounts = []string{"0xabc"}
	m, err := New(cfg, WithSource(source), WithChannel(&fakeChannel{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	started := make(chan error, 1)
	go func() { started <- m.Start(context.Background()) }()

	select {
	case err := <-started:
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start blocked on account validation")
	}
	defer m.Shutdown(context.Background())

	// Status and IsRunning must answer while validation is still
	// in flight.
	if !m.IsRunning() {
		t.Error("should be running while validation is pending")
	}
	if got := m.Status(); got.Components["ledger_source"] == "" {
		t.Error("Status should report components while validation is pending")
	}
}

func TestMonitor_ShutdownDrainsDispatcher(t *testing.T) {
	source := &fakeSource{events: []ledger.Event{mintEvent(101, "0xabc")}}
	channel := &fakeChannel{}
	m, err := New(testConfig(), WithSource(source), WithChannel(channel))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return channel.count() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
