package middleware

import "net/http"

// DefaultMaxBodySize bounds request bodies of the operator API. Batches of
// SQL statements are the largest bodies it receives.
const DefaultMaxBodySize = 4 << 20

// MaxBodySize returns middleware that limits request bodies to maxBytes.
// Reading past the limit fails with *http.MaxBytesError, which handlers
// report as 413 Request Entity Too Large.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
