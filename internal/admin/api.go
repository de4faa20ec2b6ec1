package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sipico/sqld-gateway/internal/errs"
	"github.com/sipico/sqld-gateway/internal/gateway"
	"github.com/sipico/sqld-gateway/internal/query"
	"github.com/sipico/sqld-gateway/internal/token"
)

// SetLogLevelRequest is the request body for POST /api/loglevel
type SetLogLevelRequest struct {
	Level string `json:"level"`
}

// HandleSetLogLevel changes runtime log level
// POST /api/loglevel
// Body: {"level": "debug|info|warn|error"}
func (h *Handler) HandleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req SetLogLevelRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var level slog.Level
	switch strings.ToLower(req.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid level (must be: debug, info, warn, error)")
		return
	}

	h.logLevel.Set(level)
	h.logger.Info("log level changed", "new_level", level.String())
	writeJSON(w, http.StatusOK, map[string]string{"level": strings.ToLower(level.String())})
}

// HandleListServers returns every registered server without secrets
// GET /api/servers
func (h *Handler) HandleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.gateway.ListServers(r.Context())
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, servers)
}

// HandleCreateServer registers a server
// POST /api/servers
func (h *Handler) HandleCreateServer(w http.ResponseWriter, r *http.Request) {
	var req gateway.NewServer
	if !decodeJSON(w, r, &req) {
		return
	}
	summary, err := h.gateway.AddServer(r.Context(), req)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// HandleTestConnection probes an unsaved server definition
// POST /api/servers/test
func (h *Handler) HandleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req gateway.NewServer
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": h.gateway.TestConnection(r.Context(), req)})
}

// HandleGetServer returns one server
// GET /api/servers/{id}
func (h *Handler) HandleGetServer(w http.ResponseWriter, r *http.Request) {
	summary, err := h.gateway.GetServer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HandleDeleteServer removes a server
// DELETE /api/servers/{id}
func (h *Handler) HandleDeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.RemoveServer(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleServerInfo reports accessibility and namespaces
// GET /api/servers/{id}/info
func (h *Handler) HandleServerInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.gateway.ServerInfo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleVersion probes the server version. An unreachable server answers
// 200 with isAccessible false.
// GET /api/servers/{id}/version
func (h *Handler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	v, err := h.gateway.Version(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// HandleListNamespaces lists the namespaces of a server
// GET /api/servers/{id}/namespaces
func (h *Handler) HandleListNamespaces(w http.ResponseWriter, r *http.Request) {
	namespaces, err := h.gateway.ListNamespaces(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, namespaces)
}

// CreateNamespaceRequest is the request body for POST /api/servers/{id}/namespaces
type CreateNamespaceRequest struct {
	Name string `json:"name"`
}

// HandleCreateNamespace creates a namespace
// POST /api/servers/{id}/namespaces
func (h *Handler) HandleCreateNamespace(w http.ResponseWriter, r *http.Request) {
	var req CreateNamespaceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.gateway.CreateNamespace(r.Context(), chi.URLParam(r, "id"), req.Name); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

// QueryRequest is the request body for POST .../namespaces/{ns}/query.
// Statement is a string or a non-empty array of strings.
type QueryRequest struct {
	Statement *query.Statement `json:"statement"`
}

// HandleQuery runs a statement or batch against a namespace
// POST /api/servers/{id}/namespaces/{ns}/query
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Statement == nil {
		WriteError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "statement is required")
		return
	}

	out, err := h.gateway.Execute(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "ns"), *req.Statement)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// IssueTokenRequest is the request body for POST .../namespaces/{ns}/tokens.
// An absent expiresInSec selects the default lifetime; null never expires.
type IssueTokenRequest struct {
	Permission   string          `json:"permission"`
	ExpiresInSec json.RawMessage `json:"expiresInSec,omitempty"`
}

// expiry converts ExpiresInSec to a token.Expiry.
func (req IssueTokenRequest) expiry() (token.Expiry, error) {
	if len(req.ExpiresInSec) == 0 {
		return token.Expiry{}, nil
	}
	var sec *int64
	if err := json.Unmarshal(req.ExpiresInSec, &sec); err != nil {
		return token.Expiry{}, errs.Invalid("expiresInSec must be an integer or null")
	}
	if sec != nil && *sec <= 0 {
		return token.Expiry{}, errs.Invalid("expiresInSec must be positive")
	}
	return token.ExpiresInSeconds(sec), nil
}

// TokenOptionsResponse lists the lifetimes offered for scoped tokens.
type TokenOptionsResponse struct {
	Permissions    []token.Permission `json:"permissions"`
	ExpiresInSec   []*int64           `json:"expiresInSec"`
	DefaultSeconds int64              `json:"defaultSeconds"`
}

// HandleTokenOptions lists the permissions and lifetimes a scoped token can
// be issued with. A null lifetime never expires.
// GET /api/tokens/options
func (h *Handler) HandleTokenOptions(w http.ResponseWriter, r *http.Request) {
	resp := TokenOptionsResponse{
		Permissions:    []token.Permission{token.ReadOnly, token.ReadWrite},
		ExpiresInSec:   []*int64{nil},
		DefaultSeconds: int64(token.DefaultExpiration / time.Second),
	}
	for _, d := range gateway.ExpiryChoices {
		sec := int64(d / time.Second)
		resp.ExpiresInSec = append(resp.ExpiresInSec, &sec)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleIssueToken issues a namespace-scoped token
// POST /api/servers/{id}/namespaces/{ns}/tokens
// Body: {"permission": "ro|rw", "expiresInSec": 604800}
func (h *Handler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req IssueTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	permission, err := token.ParsePermission(req.Permission)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	expiry, err := req.expiry()
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	scoped, err := h.gateway.IssueScopedToken(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "ns"), permission, expiry)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, scoped)
}
