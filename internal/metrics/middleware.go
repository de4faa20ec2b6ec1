package metrics

import (
	"bufio"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
)

// idSegment matches UUID path segments (server ids).
var idSegment = regexp.MustCompile(`/[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader captures the status code and writes it to the underlying ResponseWriter
func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
		r.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called before writing body
func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.statusCode = http.StatusOK
		r.written = true
	}
	return r.ResponseWriter.Write(b)
}

// Unwrap exposes the underlying writer to http.ResponseController, which the
// console WebSocket upgrade relies on.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to a WebSocket upgrade. The request is
// recorded as 101 Switching Protocols.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.statusCode = http.StatusSwitchingProtocols
	r.written = true
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// Middleware returns an HTTP middleware that records request count and
// latency by method, route pattern and status. Panics are recorded as 500.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		startTime := time.Now()

		defer func() {
			duration := time.Since(startTime).Seconds()

			panicked := recover()
			if panicked != nil && !recorder.written {
				recorder.WriteHeader(http.StatusInternalServerError)
			}

			statusCode := recorder.statusCode
			if statusCode == 0 {
				statusCode = http.StatusInternalServerError
			}

			statusStr := http.StatusText(statusCode)
			if statusStr == "" {
				statusStr = "UNKNOWN"
			}

			path := routePattern(r)
			RecordRequest(r.Method, path, statusStr)
			RecordRequestDuration(r.Method, path, statusStr, duration)
		}()

		next.ServeHTTP(recorder, r)
	})
}

// routePattern returns the chi route that served r, e.g.
// "/api/servers/{id}/namespaces". Requests outside a chi router fall back to
// the raw path with ids collapsed.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath replaces UUID segments with ":id" to bound label cardinality.
//
//	/api/servers/0d5e.../info -> /api/servers/:id/info
func normalizePath(path string) string {
	return idSegment.ReplaceAllString(path, "/:id")
}
