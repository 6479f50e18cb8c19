package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	pollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "chainwatch_poll_cycles_total", Help: "Poll cycles by outcome"},
		[]string{"status"},
	)
	pollCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "chainwatch_poll_cycle_duration_seconds", Help: "Poll cycle latency", Buckets: prometheus.DefBuckets},
		[]string{"status"},
	)
	eventsProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "chainwatch_events_processed_total", Help: "Ledger events fully classified and dispatched"},
	)
	significantEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "chainwatch_significant_events_total", Help: "Events passing the significance gate"},
	)
)

func init() {
	prometheus.MustRegister(pollCyclesTotal, pollCycleDuration, eventsProcessedTotal, significantEventsTotal)
}
