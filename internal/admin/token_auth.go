package admin

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sipico/sqld-gateway/internal/metrics"
	"github.com/sipico/sqld-gateway/internal/middleware"
)

// TokenAuthMiddleware requires "Authorization: Bearer <ADMIN_TOKEN>".
func (h *Handler) TokenAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, presented, _ := strings.Cut(r.Header.Get("Authorization"), " ")
		presented = strings.TrimSpace(presented)
		if !strings.EqualFold(scheme, "Bearer") || presented == "" {
			metrics.RecordAuthFailure("missing_token")
			WriteErrorWithHint(w, http.StatusUnauthorized, ErrCodeInvalidCredentials,
				"Missing operator token", "Send Authorization: Bearer <ADMIN_TOKEN>")
			return
		}

		if !h.validAdminToken(presented) {
			metrics.RecordAuthFailure("invalid_token")
			h.requestLogger(r).Warn("invalid operator token attempt", "remote_addr", r.RemoteAddr)
			WriteError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "Invalid operator token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// validAdminToken compares SHA-256 digests in constant time.
func (h *Handler) validAdminToken(presented string) bool {
	if h.config.AdminToken == "" {
		return false
	}
	want := sha256.Sum256([]byte(h.config.AdminToken))
	got := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

func (h *Handler) requestLogger(r *http.Request) *slog.Logger {
	return middleware.Logger(r.Context(), h.logger)
}
