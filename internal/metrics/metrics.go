// Package metrics provides Prometheus instrumentation for the fund engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementsTotal counts confirmed entrusts by kind and result.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_settlements_total",
		Help: "Total number of confirmed entrusts",
	}, []string{"kind", "result"})

	// SettlementLatency tracks end-to-end settlement latency per kind.
	SettlementLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fund_settlement_latency_seconds",
		Help:    "Settlement latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// SettlementRejections counts entrusts rejected before commit, by kind.
	SettlementRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_settlement_rejections_total",
		Help: "Entrusts rejected before the commit phase",
	}, []string{"kind"})

	// InvariantFailures counts logic-fatal ledger states hit during commit.
	InvariantFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fund_ledger_invariant_failures_total",
		Help: "Ledger invariant violations detected during commit",
	})

	// StaleResolved counts stale entrusts driven terminal by the sweep.
	StaleResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_stale_entrusts_resolved_total",
		Help: "Stale entrusts resolved by the recovery sweep",
	}, []string{"outcome"})

	// WebSocketClients tracks connected confirmation-feed clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fund_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fund_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fund_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// SettlementTimer starts a latency timer for one settlement of the given kind.
func SettlementTimer(kind string) *prometheus.Timer {
	return prometheus.NewTimer(SettlementLatency.WithLabelValues(kind))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
