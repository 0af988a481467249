// Package metrics provides Prometheus instrumentation for the settlement gateway.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubmissionsTotal counts ledger submissions by transaction type, event
	// kind, and result ("ok" or an error kind).
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winback_ledger_submissions_total",
		Help: "Total ledger submissions",
	}, []string{"tx_type", "kind", "result"})

	// SubmissionLatency tracks submit-to-validation time.
	SubmissionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "winback_ledger_submission_latency_seconds",
		Help:    "Time from submission to validated result in seconds",
		Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30, 60},
	}, []string{"tx_type"})

	// SettlementsTotal counts settle calls by outcome and status.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winback_settlements_total",
		Help: "Total settlements processed",
	}, []string{"outcome", "status"})

	// PaymentsTotal counts cashback payments by status.
	PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winback_cashback_payments_total",
		Help: "Cashback payments attempted",
	}, []string{"status"})

	// CashbackPaidNative tracks cumulative cashback paid in native units.
	CashbackPaidNative = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winback_cashback_paid_xrp_total",
		Help: "Cumulative cashback paid in XRP",
	})

	// ProvisioningTotal counts identity provisioning attempts by role and result.
	ProvisioningTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winback_identity_provisioning_total",
		Help: "Identity provisioning attempts",
	}, []string{"role", "result"})

	// ProvisioningLatency tracks faucet funding time.
	ProvisioningLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "winback_identity_provisioning_latency_seconds",
		Help:    "Identity provisioning latency in seconds",
		Buckets: []float64{1, 2, 5, 10, 20, 40, 60},
	})

	// Identities tracks live identities per role.
	Identities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "winback_identities",
		Help: "Number of signing identities held by the registry",
	}, []string{"role"})

	// FeedRecordsTotal counts ledger records replayed by the history reconstructor.
	FeedRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winback_feed_records_total",
		Help: "Ledger records replayed",
	})

	// DecodeSkipsTotal counts annotations skipped during replay, by reason.
	DecodeSkipsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winback_decode_skips_total",
		Help: "Annotations skipped as foreign or malformed",
	}, []string{"reason"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "winback_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winback_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "winback_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern, not raw path, to keep user ids out of labels.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
