// Package metrics exposes Prometheus instrumentation for the broadcast
// pipeline: connection churn, fan-out volume, gate decisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set bundles every collector the service registers. A nil *Set is valid and
// turns all recording into no-ops, which keeps test wiring small.
type Set struct {
	registry *prometheus.Registry

	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	FailedConnections prometheus.Counter
	BroadcastsTotal   prometheus.Counter
	MessagesDropped   prometheus.Counter
	HeartbeatsTotal   prometheus.Counter
	ReapedConnections prometheus.Counter

	JobsCreated       *prometheus.CounterVec
	JobsTerminated    *prometheus.CounterVec
	EventsApplied     prometheus.Counter
	UpdatesSuppressed prometheus.Counter
}

// NewSet creates and registers all collectors on a fresh registry.
func NewSet() *Set {
	s := &Set{
		registry: prometheus.NewRegistry(),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "traintrack_ws_active_connections",
			Help: "Number of live observer connections",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traintrack_ws_connections_total",
			Help: "Total observer connection attempts",
		}),
		FailedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traintrack_ws_failed_connections_total",
			Help: "Connection attempts rejected before subscribing",
		}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traintrack_ws_broadcasts_total",
			Help: "Gated updates fanned out to observers",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traintrack_ws_messages_dropped_total",
			Help: "Outbound messages dropped on full per-connection queues",
		}),
		HeartbeatsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traintrack_ws_heartbeats_total",
			Help: "Heartbeat frames written to observers",
		}),
		ReapedConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traintrack_ws_reaped_connections_total",
			Help: "Connections closed by the liveness monitor",
		}),
		JobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traintrack_jobs_created_total",
			Help: "Jobs created, by kind",
		}, []string{"kind"}),
		JobsTerminated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "traintrack_jobs_terminated_total",
			Help: "Jobs reaching a terminal state, by status",
		}, []string{"status"}),
		EventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traintrack_store_events_applied_total",
			Help: "Runner events folded into job records",
		}),
		UpdatesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traintrack_store_updates_suppressed_total",
			Help: "Snapshots the change gate held back from broadcast",
		}),
	}

	s.registry.MustRegister(
		s.ActiveConnections,
		s.ConnectionsTotal,
		s.FailedConnections,
		s.BroadcastsTotal,
		s.MessagesDropped,
		s.HeartbeatsTotal,
		s.ReapedConnections,
		s.JobsCreated,
		s.JobsTerminated,
		s.EventsApplied,
		s.UpdatesSuppressed,
	)

	return s
}

// Handler serves the registry in Prometheus exposition format.
func (s *Set) Handler() http.Handler {
	if s == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// The record helpers below are nil-safe so call sites never guard.

func (s *Set) ConnOpened() {
	if s == nil {
		return
	}
	s.ConnectionsTotal.Inc()
	s.ActiveConnections.Inc()
}

func (s *Set) ConnClosed() {
	if s == nil {
		return
	}
	s.ActiveConnections.Dec()
}

func (s *Set) ConnRejected() {
	if s == nil {
		return
	}
	s.ConnectionsTotal.Inc()
	s.FailedConnections.Inc()
}

func (s *Set) Broadcast() {
	if s == nil {
		return
	}
	s.BroadcastsTotal.Inc()
}

func (s *Set) Dropped() {
	if s == nil {
		return
	}
	s.MessagesDropped.Inc()
}

func (s *Set) Heartbeat() {
	if s == nil {
		return
	}
	s.HeartbeatsTotal.Inc()
}

func (s *Set) Reaped() {
	if s == nil {
		return
	}
	s.ReapedConnections.Inc()
}

func (s *Set) JobCreated(kind string) {
	if s == nil {
		return
	}
	s.JobsCreated.WithLabelValues(kind).Inc()
}

func (s *Set) JobTerminated(status string) {
	if s == nil {
		return
	}
	s.JobsTerminated.WithLabelValues(status).Inc()
}

func (s *Set) EventApplied() {
	if s == nil {
		return
	}
	s.EventsApplied.Inc()
}

func (s *Set) UpdateSuppressed() {
	if s == nil {
		return
	}
	s.UpdatesSuppressed.Inc()
}
