package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cultivate-labs/chainwatch/internal/domain"
	"github.com/cultivate-labs/chainwatch/internal/monitor"
)

type fakeController struct {
	running  bool
	interval time.Duration
	events   []domain.Event
	eventErr error
}

func (f *fakeController) Status() monitor.Status {
	return monitor.Status{
		IsRunning:  f.running,
		State:      "idle",
		Components: map[string]string{"ledger_source": "ok"},
	}
}

func (f *fakeController) Metrics() monitor.Metrics {
	return monitor.Metrics{EventsProcessed: 7, SignificantEvents: 3, LastVersion: 101}
}

func (f *fakeController) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if f.eventErr != nil {
		return nil, f.eventErr
	}
	if limit < len(f.events) {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func (f *fakeController) StartPolling() { f.running = true }
func (f *fakeController) StopPolling()  { f.running = false }

func (f *fakeController) SetPollingInterval(d time.Duration) error {
	if d < 10*time.Second {
		return fmt.Errorf("polling interval %s below minimum 10s", d)
	}
	f.interval = d
	return nil
}

func (f *fakeController) PollingInterval() time.Duration { return f.interval }

func newTestServer(ctrl *fakeController) *Server {
	return New(0, ctrl, nil, nil)
}

func doRequest(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeController{}), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Request-ID"); got == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestRequestID_InboundHeaderPropagated(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	var seen string
	h := RequestIDMiddleware(logger)(LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		RequestLogger(r.Context()).Info("handling")
	})))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != "upstream-42" {
		t.Errorf("GetRequestID = %q, want upstream-42", seen)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "upstream-42" {
		t.Errorf("X-Request-ID = %q, want upstream-42", got)
	}
	// Both the handler's line and the access log carry the ID.
	if got := strings.Count(buf.String(), "upstream-42"); got < 2 {
		t.Errorf("request id appears %d times in log output, want 2:\n%s", got, buf.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeController{running: true}), http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var status monitor.Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !status.IsRunning {
		t.Error("is_running should be true")
	}
	if status.Components["ledger_source"] != "ok" {
		t.Errorf("components = %v", status.Components)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeController{}), http.MethodGet, "/api/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var metrics monitor.Metrics
	if err := json.NewDecoder(rec.Body).Decode(&metrics); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if metrics.LastVersion != 101 {
		t.Errorf("last_version = %d, want 101", metrics.LastVersion)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeController{}), http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "chainwatch_") {
		t.Error("expected chainwatch_ metrics in exposition output")
	}
}

func TestEventsEndpoint(t *testing.T) {
	ctrl := &fakeController{events: []domain.Event{
		{ID: "a", Version: 102}, {ID: "b", Version: 101},
	}}
	rec := doRequest(t, newTestServer(ctrl), http.MethodGet, "/api/events", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Events []domain.Event `json:"events"`
		Count  int            `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || len(resp.Events) != 2 {
		t.Fatalf("count = %d, events = %d, want 2", resp.Count, len(resp.Events))
	}
	if resp.Events[0].Version != 102 {
		t.Error("events should be newest first")
	}
}

func TestEventsEndpoint_Limit(t *testing.T) {
	ctrl := &fakeController{events: []domain.Event{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	rec := doRequest(t, newTestServer(ctrl), http.MethodGet, "/api/events?limit=2", nil)

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2", resp.Count)
	}
}

func TestEventsEndpoint_BadLimit(t *testing.T) {
	for _, limit := range []string{"abc", "-1", "0"} {
		rec := doRequest(t, newTestServer(&fakeController{}), http.MethodGet, "/api/events?limit="+limit, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, rec.Code)
		}
	}
}

func TestEventsEndpoint_EmptyIsJSONArray(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeController{}), http.MethodGet, "/api/events", nil)
	if !strings.Contains(rec.Body.String(), `"events":[]`) {
		t.Errorf("empty result should encode as [], got %s", rec.Body.String())
	}
}

func TestControlStartStop(t *testing.T) {
	ctrl := &fakeController{running: true}
	s := newTestServer(ctrl)

	rec := doRequest(t, s, http.MethodPost, "/api/control/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", rec.Code)
	}
	if ctrl.running {
		t.Error("controller should be stopped")
	}

	rec = doRequest(t, s, http.MethodPost, "/api/control/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want 200", rec.Code)
	}
	if !ctrl.running {
		t.Error("controller should be running")
	}
}

func TestSetPollingInterval(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestServer(ctrl)

	rec := doRequest(t, s, http.MethodPut, "/api/config/polling-interval", []byte(`{"seconds": 30}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if ctrl.interval != 30*time.Second {
		t.Errorf("interval = %s, want 30s", ctrl.interval)
	}
}

func TestSetPollingInterval_BelowMinimum(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeController{}), http.MethodPut, "/api/config/polling-interval", []byte(`{"seconds": 5}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "minimum") {
		t.Errorf("error body should mention the minimum: %s", rec.Body.String())
	}
}

func TestSetPollingInterval_MalformedBody(t *testing.T) {
	rec := doRequest(t, newTestServer(&fakeController{}), http.MethodPut, "/api/config/polling-interval", []byte(`{`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
