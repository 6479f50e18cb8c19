package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cultivate-labs/chainwatch/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Metrics())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 25
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := s.controller.RecentEvents(r.Context(), limit)
	if err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.controller.StartPolling()
	writeJSON(w, http.StatusOK, map[string]any{"is_running": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.controller.StopPolling()
	writeJSON(w, http.StatusOK, map[string]any{"is_running": false})
}

type pollingIntervalRequest struct {
	Seconds float64 `json:"seconds"`
}

func (s *Server) handleSetPollingInterval(w http.ResponseWriter, r *http.Request) {
	var req pollingIntervalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d := time.Duration(req.Seconds * float64(time.Second))
	if err := s.controller.SetPollingInterval(d); err != nil {
		AddError(r.Context(), err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	RequestLogger(r.Context()).Info("polling interval changed",
		slog.Duration("interval", d))

	writeJSON(w, http.StatusOK, map[string]any{
		"polling_interval_seconds": s.controller.PollingInterval().Seconds(),
	})
}
