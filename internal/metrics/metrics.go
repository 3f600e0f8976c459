// Package metrics holds the process-wide Prometheus instruments. The bridge
// daemon serves them on /metrics; library consumers that never call Handler
// still record into the default registry at negligible cost.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sahaay_frames_decoded_total",
		Help: "Protocol frames decoded from agent event streams",
	})

	MalformedPayloads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sahaay_malformed_payloads_total",
		Help: "Frames dropped because their JSON payload failed to parse",
	})

	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sahaay_events_dispatched_total",
		Help: "Stream events dispatched, by event type",
	}, []string{"event"})

	Sends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sahaay_sends_total",
		Help: "Chat send attempts, by outcome (completed/rejected/transport_error/cancelled)",
	}, []string{"outcome"})

	SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sahaay_send_duration_seconds",
		Help:    "Wall-clock duration of a full send/stream cycle",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	StatusUpdatesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sahaay_status_updates_applied_total",
		Help: "Paced status updates applied to the indicator surface",
	})
)

// Handler exposes the default registry for the daemon's /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
