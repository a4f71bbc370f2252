// Package metrics exposes Prometheus instrumentation for the
// broadcast core. Registration happens at package init on the default
// registry; the /metrics endpoint serves it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ListenerSessions is the number of connected listener sessions.
	ListenerSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "radio_listener_sessions",
		Help: "Current number of connected listener sessions",
	})

	// ActiveConsumers is the number of live consumers.
	ActiveConsumers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "radio_active_consumers",
		Help: "Current number of live consumers bound to the producer",
	})

	// ProducerUp is 1 while a live producer exists.
	ProducerUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "radio_producer_up",
		Help: "Whether a live producer currently exists (0 or 1)",
	})

	// IngestPackets counts RTP packets received on the ingest.
	IngestPackets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_ingest_packets_total",
		Help: "Total RTP packets received on the ingest endpoint",
	})

	// IngestBytes counts RTP payload bytes received on the ingest.
	IngestBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_ingest_bytes_total",
		Help: "Total bytes received on the ingest endpoint",
	})

	// IngestRecreations counts ingest endpoint provisions after the
	// initial one.
	IngestRecreations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radio_ingest_recreations_total",
		Help: "Total ingest endpoint recreations after failures",
	})

	// Broadcasts counts producer availability fan-outs by event.
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "radio_broadcasts_total",
		Help: "Total producer availability broadcasts by event type",
	}, []string{"event"})
)
