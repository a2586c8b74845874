// Package metrics exposes session and transport counters to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/chainhunt/backend/internal/notify"
	"github.com/chainhunt/backend/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chainhunt"

// SnapshotSource is read on every scrape for the session gauges.
type SnapshotSource interface {
	Snapshot() *session.Snapshot
}

// Metrics owns a private registry so tests and multiple servers in one
// process do not collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	events        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	connections   prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

var _ notify.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "events_total",
				Help:      "Coordinator lifecycle events by type.",
			},
			[]string{"type"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "messages_total",
				Help:      "Participant notifications by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
	m.reg.MustRegister(
		m.events, m.notifications, m.connections, m.httpRequests, m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// WatchSession registers gauges that read src at scrape time.
func (m *Metrics) WatchSession(src SnapshotSource) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "clock_remaining_seconds",
			Help:      "Time left on the session clock.",
		}, func() float64 { return src.Snapshot().ClockRemaining.Seconds() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active_participants",
			Help:      "Registered participants not yet eliminated.",
		}, func() float64 { return float64(src.Snapshot().Active) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "phase",
			Help:      "Session phase: 0 not started, 1 in progress, 2 ended.",
		}, func() float64 { return float64(src.Snapshot().Phase) }),
	)
}

func (m *Metrics) Delivered(kind notify.Kind) {
	m.notifications.WithLabelValues(string(kind), "delivered").Inc()
}

func (m *Metrics) Dropped(kind notify.Kind) {
	m.notifications.WithLabelValues(string(kind), "dropped").Inc()
}

func (m *Metrics) Observe(ev session.Event) {
	m.events.WithLabelValues(ev.Type.String()).Inc()
}

// Run counts events from ch until ctx is done or ch is closed.
func (m *Metrics) Run(ctx context.Context, ch <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}

func (m *Metrics) ConnectionOpened() { m.connections.Inc() }
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(d.Seconds())
}
