// Package metrics exposes Prometheus metrics for touch capture, session
// storage and heatmap export.
//
// Every recording method is safe to call on a nil *Metrics, so packages
// can take an optional metrics handle without guarding each call.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "touchmap"

// Export outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeTimeout  = "timeout"
	OutcomeNoImage  = "no_image"
	OutcomeCanceled = "canceled"
	OutcomeError    = "error"
)

// DurationBuckets are histogram buckets for export latency in seconds.
var DurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds all touchmap metrics.
type Metrics struct {
	registry *prometheus.Registry

	TouchesRecorded  prometheus.Counter
	TouchesCancelled prometheus.Counter
	OrderingNoops    *prometheus.CounterVec
	SessionsStarted  prometheus.Counter
	SessionsSaved    prometheus.Counter
	StorageErrors    *prometheus.CounterVec
	Exports          *prometheus.CounterVec
	ExportDuration   prometheus.Histogram
	StoredSessions   prometheus.Gauge
}

// New creates the touchmap metrics and registers them with reg. A nil
// reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		TouchesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "touches_recorded_total",
			Help:      "Total number of touches appended to a session",
		}),
		TouchesCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "touches_cancelled_total",
			Help:      "Total number of pending touches discarded by cancel",
		}),
		OrderingNoops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ordering_noops_total",
			Help:      "Move, end or cancel signals received with no touch pending",
		}, []string{"kind"}),
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of sessions started",
		}),
		SessionsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_saved_total",
			Help:      "Total number of session snapshots written to storage",
		}),
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Storage failures by operation",
		}, []string{"op"}),
		Exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Heatmap exports by outcome",
		}, []string{"outcome"}),
		ExportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Time from export request to image or failure",
			Buckets:   DurationBuckets,
		}),
		StoredSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stored_sessions",
			Help:      "Number of sessions in storage after the last write",
		}),
	}

	reg.MustRegister(
		m.TouchesRecorded,
		m.TouchesCancelled,
		m.OrderingNoops,
		m.SessionsStarted,
		m.SessionsSaved,
		m.StorageErrors,
		m.Exports,
		m.ExportDuration,
		m.StoredSessions,
	)
	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordTouch records a touch appended to a session.
func (m *Metrics) RecordTouch() {
	if m == nil {
		return
	}
	m.TouchesRecorded.Inc()
}

// RecordCancel records a discarded pending touch.
func (m *Metrics) RecordCancel() {
	if m == nil {
		return
	}
	m.TouchesCancelled.Inc()
}

// RecordOrderingNoop records a signal that arrived with nothing pending.
func (m *Metrics) RecordOrderingNoop(kind string) {
	if m == nil {
		return
	}
	m.OrderingNoops.WithLabelValues(kind).Inc()
}

// RecordSessionStarted records a session start.
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionSaved records a successful save and the resulting store size.
func (m *Metrics) RecordSessionSaved(stored int) {
	if m == nil {
		return
	}
	m.SessionsSaved.Inc()
	m.StoredSessions.Set(float64(stored))
}

// RecordStoredSessions sets the stored session gauge.
func (m *Metrics) RecordStoredSessions(stored int) {
	if m == nil {
		return
	}
	m.StoredSessions.Set(float64(stored))
}

// RecordStorageError records a failed storage operation.
func (m *Metrics) RecordStorageError(op string) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(op).Inc()
}

// RecordExport records a finished export.
func (m *Metrics) RecordExport(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Exports.WithLabelValues(outcome).Inc()
	m.ExportDuration.Observe(d.Seconds())
}

// Handler returns an HTTP handler serving the registry in the
// Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Route is an extra handler served next to /metrics.
type Route struct {
	Pattern string
	Handler http.Handler
}

// Serve exposes /metrics and any extra routes on addr until ctx is
// cancelled.
func Serve(ctx context.Context, addr string, m *Metrics, logger *slog.Logger, routes ...Route) error {
	if logger == nil {
		logger = slog.Default()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	for _, r := range routes {
		mux.Handle(r.Pattern, r.Handler)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}
	return nil
}
