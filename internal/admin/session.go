package admin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sipico/sqld-gateway/internal/metrics"
)

// SessionCookie carries the console session id.
const SessionCookie = "console_session"

// DefaultSessionTimeout applies when Config.SessionTimeout is zero.
const DefaultSessionTimeout = 24 * time.Hour

// Session represents a console session
type Session struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionStore manages console sessions
type SessionStore struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	timeout  time.Duration
	now      func() time.Time
}

// NewSessionStore creates a session store
func NewSessionStore(timeout time.Duration) *SessionStore {
	if timeout == 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		timeout:  timeout,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *SessionStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// CreateSession generates a new session
func (s *SessionStore) CreateSession(ctx context.Context) (*Session, error) {
	// 32 random bytes, 64 hex chars
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	session := &Session{
		ID:        hex.EncodeToString(b),
		CreatedAt: now,
		ExpiresAt: now.Add(s.timeout),
	}
	s.sessions[session.ID] = session
	return session, nil
}

// GetSession retrieves a session by ID. Expired sessions are removed.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*Session, bool) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	now := s.now()
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if now.After(session.ExpiresAt) {
		s.DeleteSession(ctx, id)
		return nil, false
	}
	return session, true
}

// DeleteSession removes a session
func (s *SessionStore) DeleteSession(ctx context.Context, id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// Cleanup removes expired sessions (call periodically)
func (s *SessionStore) Cleanup(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, id)
		}
	}
}

// Len returns the number of stored sessions, expired ones included.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

type sessionKey struct{}

// WithSessionID stores the session id in ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// GetSessionID returns the session id stored by SessionMiddleware.
func GetSessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}

// HandleLogin opens a console session
// POST /console/login
// Form data: token=<ADMIN_TOKEN>, optional next=/console/...
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid form data")
		return
	}

	if !h.validAdminToken(r.FormValue("token")) {
		metrics.RecordAuthFailure("invalid_token")
		h.requestLogger(r).Warn("failed console login attempt", "remote_addr", r.RemoteAddr)
		WriteError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "Invalid operator token")
		return
	}

	session, err := h.sessions.CreateSession(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session.ID,
		Path:     "/console",
		MaxAge:   int(h.sessions.timeout.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	h.requestLogger(r).Info("console login successful")

	if next := r.FormValue("next"); isConsolePath(next) {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// isConsolePath accepts only local console paths as redirect targets.
func isConsolePath(p string) bool {
	return strings.HasPrefix(p, "/console/") && !strings.HasPrefix(p, "//") && !strings.Contains(p, `\`)
}

// HandleLogout invalidates the session
// POST /console/logout
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		h.sessions.DeleteSession(r.Context(), cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/console",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// SessionMiddleware validates the console session cookie
func (h *Handler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil {
			metrics.RecordAuthFailure("missing_session")
			WriteErrorWithHint(w, http.StatusUnauthorized, ErrCodeInvalidCredentials,
				"Console session required", "POST /console/login with the operator token")
			return
		}

		session, ok := h.sessions.GetSession(r.Context(), cookie.Value)
		if !ok {
			metrics.RecordAuthFailure("invalid_session")
			WriteError(w, http.StatusUnauthorized, ErrCodeInvalidCredentials, "Invalid or expired session")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), session.ID)))
	})
}
