package notify

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "chainwatch_notifications_delivered_total", Help: "Successfully delivered notifications"},
	)
	retriedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "chainwatch_notifications_retried_total", Help: "Notification jobs requeued after a failed delivery"},
	)
	droppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "chainwatch_notifications_dropped_total", Help: "Notification jobs dropped after exhausting the single retry"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "chainwatch_notification_queue_depth", Help: "Jobs waiting in the dispatch queue"},
	)
)

func init() {
	prometheus.MustRegister(deliveredTotal, retriedTotal, droppedTotal, queueDepth)
}
