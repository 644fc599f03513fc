// File: control/metrics.go
// Package control implements the Prometheus-backed stats sink.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/momentics/hioload-pipeline/api"
)

// Metrics implements api.StatsSink over Prometheus collectors, with atomic
// shadow counters for the map-style Snapshot surface.
type Metrics struct {
	accepted          prometheus.Counter
	dropped           prometheus.Counter
	acceptErrors      prometheus.Counter
	tlsErrors         prometheus.Counter
	broadcastsCreated prometheus.Counter
	broadcastsEvicted prometheus.Counter
	liveConnections   prometheus.Gauge
	liveBroadcasts    prometheus.Gauge

	nAccepted     int64
	nDropped      int64
	nAcceptErrors int64
	nTLSErrors    int64
	nBCreated     int64
	nBEvicted     int64
}

var _ api.StatsSink = (*Metrics)(nil)

// NewMetrics builds the collector set, registering on reg. A nil reg keeps
// the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		accepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hioload", Subsystem: "acceptor", Name: "connections_accepted_total",
			Help: "Connections accepted across all workers.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hioload", Subsystem: "acceptor", Name: "connections_dropped_total",
			Help: "Connections dropped or released.",
		}),
		acceptErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hioload", Subsystem: "acceptor", Name: "accept_errors_total",
			Help: "Accept-path errors that did not kill the listener.",
		}),
		tlsErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hioload", Subsystem: "acceptor", Name: "tls_errors_total",
			Help: "Secure-transport negotiation failures.",
		}),
		broadcastsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hioload", Subsystem: "broadcast", Name: "created_total",
			Help: "Broadcast entries that reached Ready.",
		}),
		broadcastsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "hioload", Subsystem: "broadcast", Name: "evicted_total",
			Help: "Broadcast entries evicted from their pool.",
		}),
		liveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "hioload", Subsystem: "acceptor", Name: "connections_live",
			Help: "Currently managed connections.",
		}),
		liveBroadcasts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "hioload", Subsystem: "broadcast", Name: "live",
			Help: "Currently live broadcast entries.",
		}),
	}
}

func (m *Metrics) ConnectionAccepted() {
	atomic.AddInt64(&m.nAccepted, 1)
	m.accepted.Inc()
	m.liveConnections.Inc()
}

func (m *Metrics) ConnectionDropped() {
	atomic.AddInt64(&m.nDropped, 1)
	m.dropped.Inc()
	m.liveConnections.Dec()
}

func (m *Metrics) AcceptError(err error) {
	atomic.AddInt64(&m.nAcceptErrors, 1)
	m.acceptErrors.Inc()
}

func (m *Metrics) TLSError(err error) {
	atomic.AddInt64(&m.nTLSErrors, 1)
	m.tlsErrors.Inc()
}

func (m *Metrics) BroadcastCreated() {
	atomic.AddInt64(&m.nBCreated, 1)
	m.broadcastsCreated.Inc()
	m.liveBroadcasts.Inc()
}

func (m *Metrics) BroadcastEvicted() {
	atomic.AddInt64(&m.nBEvicted, 1)
	m.broadcastsEvicted.Inc()
	m.liveBroadcasts.Dec()
}

// Snapshot returns current counter values keyed for the control surface.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"acceptor.connections_accepted": atomic.LoadInt64(&m.nAccepted),
		"acceptor.connections_dropped":  atomic.LoadInt64(&m.nDropped),
		"acceptor.accept_errors":        atomic.LoadInt64(&m.nAcceptErrors),
		"acceptor.tls_errors":           atomic.LoadInt64(&m.nTLSErrors),
		"broadcast.created":             atomic.LoadInt64(&m.nBCreated),
		"broadcast.evicted":             atomic.LoadInt64(&m.nBEvicted),
	}
}
