package sqld

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sipico/sqld-gateway/internal/metrics"
)

// LoggingTransport wraps an http.RoundTripper, logs every remote call at
// debug level and records it in the remote call metrics. Credentials are
// never logged: Authorization is redacted and bodies are reported by length
// only.
type LoggingTransport struct {
	Transport http.RoundTripper
	Logger    *slog.Logger
	Plane     string
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	logger := t.logger()

	logger.Debug("remote request",
		"plane", t.Plane,
		"method", req.Method,
		"url", req.URL.String(),
		"namespace", req.Header.Get("x-namespace"),
		"authorization", redact(req.Header.Get("Authorization")),
		"content_length", req.ContentLength,
	)

	resp, err := t.transport().RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		metrics.RecordRemoteCall(t.Plane, "unreachable", duration.Seconds())
		logger.Warn("remote request failed",
			"plane", t.Plane,
			"method", req.Method,
			"url", req.URL.String(),
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	outcome := "ok"
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = "rejected"
	}
	metrics.RecordRemoteCall(t.Plane, outcome, duration.Seconds())

	logger.Debug("remote response",
		"plane", t.Plane,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", resp.ContentLength,
	)
	return resp, nil
}

func (t *LoggingTransport) transport() http.RoundTripper {
	if t.Transport != nil {
		return t.Transport
	}
	return http.DefaultTransport
}

func (t *LoggingTransport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// redact keeps the auth scheme and hides the secret.
func redact(value string) string {
	if value == "" {
		return ""
	}
	scheme, _, found := strings.Cut(value, " ")
	if !found {
		return "****"
	}
	return scheme + " ****"
}

// Transports holds the two shared connection pools used for remote calls:
// one verifying TLS certificates and one that skips verification for servers
// flagged insecureTls.
type Transports struct {
	secure   http.RoundTripper
	insecure http.RoundTripper
	timeout  time.Duration
	logger   *slog.Logger
}

// NewTransports clones http.DefaultTransport into secure and insecure pools.
// timeout bounds every remote call made through Client.
func NewTransports(timeout time.Duration, logger *slog.Logger) *Transports {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		base = &http.Transport{}
	}
	secure := base.Clone()
	insecure := base.Clone()
	insecure.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: true, //nolint:gosec // opt-in per server
		MinVersion:         tls.VersionTLS12,
	}

	return &Transports{secure: secure, insecure: insecure, timeout: timeout, logger: logger}
}

// RoundTripper returns the shared pool for a server's TLS setting.
func (t *Transports) RoundTripper(insecureTLS bool) http.RoundTripper {
	if insecureTLS {
		return t.insecure
	}
	return t.secure
}

// Client returns an HTTP client for one plane of a server.
func (t *Transports) Client(plane string, insecureTLS bool) *http.Client {
	return &http.Client{
		Transport: t.Wrap(plane, t.RoundTripper(insecureTLS)),
		Timeout:   t.timeout,
	}
}

// Wrap adds request logging to next.
func (t *Transports) Wrap(plane string, next http.RoundTripper) http.RoundTripper {
	return &LoggingTransport{Transport: next, Logger: t.logger, Plane: plane}
}

// Timeout returns the per-call deadline.
func (t *Transports) Timeout() time.Duration {
	return t.timeout
}
