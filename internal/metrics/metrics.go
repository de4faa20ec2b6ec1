// Package metrics provides Prometheus metrics collection for the gateway.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "sqld"
	subsystem = "gateway"
)

var (
	// Stored in atomics so Record* calls are safe before Init and in tests
	// that never call it.
	requestsTotal      atomic.Pointer[prometheus.CounterVec]
	requestDuration    atomic.Pointer[prometheus.HistogramVec]
	authFailuresTotal  atomic.Pointer[prometheus.CounterVec]
	remoteCallsTotal   atomic.Pointer[prometheus.CounterVec]
	remoteCallDuration atomic.Pointer[prometheus.HistogramVec]
	tokensIssuedTotal  atomic.Pointer[prometheus.CounterVec]
	consoleMessages    atomic.Pointer[prometheus.CounterVec]
)

// Init registers all gateway metrics with reg.
// This should be called once at application startup.
func Init(reg prometheus.Registerer) error {
	requestsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the gateway",
		},
		[]string{"method", "path", "status"},
	)

	requestDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authFailuresTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "auth_failures_total",
			Help:      "Total number of operator authentication failures",
		},
		[]string{"reason"},
	)

	// outcome is "ok", "rejected" (non-2xx) or "unreachable" (transport error)
	remoteCallsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "remote_calls_total",
			Help:      "Total number of calls made to sqld servers",
		},
		[]string{"plane", "outcome"},
	)

	remoteCallDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "remote_call_duration_seconds",
			Help:      "Latency of calls made to sqld servers in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"plane"},
	)

	tokensIssuedTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scoped_tokens_issued_total",
			Help:      "Total number of namespace-scoped tokens issued",
		},
		[]string{"permission"},
	)

	consoleMessagesVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "console_messages_total",
			Help:      "Total number of console bridge messages handled",
		},
		[]string{"outcome"},
	)

	infoGaugeVec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "info",
			Help:      "Gateway version and build information",
		},
		[]string{"version"},
	)

	collectors := []struct {
		name string
		c    prometheus.Collector
	}{
		{"requestsTotal", requestsTotalVec},
		{"requestDuration", requestDurationVec},
		{"authFailuresTotal", authFailuresTotalVec},
		{"remoteCallsTotal", remoteCallsTotalVec},
		{"remoteCallDuration", remoteCallDurationVec},
		{"tokensIssuedTotal", tokensIssuedTotalVec},
		{"consoleMessages", consoleMessagesVec},
		{"info", infoGaugeVec},
	}
	for _, c := range collectors {
		if err := reg.Register(c.c); err != nil {
			return fmt.Errorf("failed to register %s: %w", c.name, err)
		}
	}
	infoGaugeVec.WithLabelValues("1.0.0").Set(1)

	requestsTotal.Store(requestsTotalVec)
	requestDuration.Store(requestDurationVec)
	authFailuresTotal.Store(authFailuresTotalVec)
	remoteCallsTotal.Store(remoteCallsTotalVec)
	remoteCallDuration.Store(remoteCallDurationVec)
	tokensIssuedTotal.Store(tokensIssuedTotalVec)
	consoleMessages.Store(consoleMessagesVec)

	return nil
}

// RecordRequest increments the requests counter for the given method, path, and status code.
// The path should be normalized (e.g., "/api/servers/:id" instead of the raw id).
func RecordRequest(method, path, statusCode string) {
	if counter := requestsTotal.Load(); counter != nil {
		counter.WithLabelValues(method, path, statusCode).Inc()
	}
}

// RecordRequestDuration records the latency for a request in seconds.
func RecordRequestDuration(method, path, statusCode string, durationSeconds float64) {
	if histogram := requestDuration.Load(); histogram != nil {
		histogram.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
	}
}

// RecordAuthFailure increments the auth failures counter for the given reason.
// Reasons: "missing_token", "invalid_token", "missing_session", "invalid_session"
func RecordAuthFailure(reason string) {
	if counter := authFailuresTotal.Load(); counter != nil {
		counter.WithLabelValues(reason).Inc()
	}
}

// RecordRemoteCall records one call to a sqld server.
func RecordRemoteCall(plane, outcome string, durationSeconds float64) {
	if counter := remoteCallsTotal.Load(); counter != nil {
		counter.WithLabelValues(plane, outcome).Inc()
	}
	if histogram := remoteCallDuration.Load(); histogram != nil {
		histogram.WithLabelValues(plane).Observe(durationSeconds)
	}
}

// RecordTokenIssued counts a scoped token minted with the given permission.
func RecordTokenIssued(permission string) {
	if counter := tokensIssuedTotal.Load(); counter != nil {
		counter.WithLabelValues(permission).Inc()
	}
}

// RecordConsoleMessage counts a console request answered with data ("ok")
// or with an error ("error").
func RecordConsoleMessage(outcome string) {
	if counter := consoleMessages.Load(); counter != nil {
		counter.WithLabelValues(outcome).Inc()
	}
}

// Handler returns an HTTP handler for Prometheus metrics in text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns an HTTP handler exposing a specific registry.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// GetMetricsText returns the Prometheus text-format output from a registry.
func GetMetricsText(reg prometheus.Gatherer) (string, error) {
	handler := HandlerFor(reg)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	body, err := io.ReadAll(w.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metrics output: %w", err)
	}

	return string(body), nil
}
