// Package admin provides the operator API of the gateway: server records,
// namespaces, queries, scoped tokens and the embedded SQL console.
package admin

import (
	"context"
	"log/slog"
	"time"

	"github.com/sipico/sqld-gateway/internal/gateway"
	"github.com/sipico/sqld-gateway/internal/query"
	"github.com/sipico/sqld-gateway/internal/sqld"
	"github.com/sipico/sqld-gateway/internal/token"
)

// Gateway is the set of operations the operator API exposes.
type Gateway interface {
	ListServers(ctx context.Context) ([]gateway.ServerSummary, error)
	GetServer(ctx context.Context, id string) (gateway.ServerSummary, error)
	AddServer(ctx context.Context, n gateway.NewServer) (gateway.ServerSummary, error)
	RemoveServer(ctx context.Context, id string) error
	TestConnection(ctx context.Context, n gateway.NewServer) bool
	ServerInfo(ctx context.Context, id string) (gateway.ServerInfo, error)
	Version(ctx context.Context, id string) (*sqld.VersionInfo, error)
	ListNamespaces(ctx context.Context, id string) ([]sqld.Namespace, error)
	CreateNamespace(ctx context.Context, id, name string) error
	Execute(ctx context.Context, id, namespace string, st query.Statement) (*query.Outcome, error)
	IssueScopedToken(ctx context.Context, id, namespace string, permission token.Permission, expiry token.Expiry) (gateway.ScopedToken, error)
}

// Pinger reports whether the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the operator API settings.
type Config struct {
	// AdminToken authenticates /api requests and console logins.
	AdminToken string
	// ConsoleURL is the page loaded in the console iframe.
	ConsoleURL string
	// ConsoleOrigin is the only origin allowed to talk to the bridge.
	ConsoleOrigin string
	// SessionTimeout bounds console sessions. Zero means 24 hours.
	SessionTimeout time.Duration
}

// Handler provides the operator endpoints.
type Handler struct {
	gateway  Gateway
	store    Pinger
	config   Config
	sessions *SessionStore
	logger   *slog.Logger
	logLevel *slog.LevelVar
}

// NewHandler creates an operator API handler. store may be nil, in which
// case /ready reports the database as not configured.
func NewHandler(gw Gateway, store Pinger, cfg Config, logLevel *slog.LevelVar, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if logLevel == nil {
		logLevel = new(slog.LevelVar)
	}

	return &Handler{
		gateway:  gw,
		store:    store,
		config:   cfg,
		sessions: NewSessionStore(cfg.SessionTimeout),
		logger:   logger,
		logLevel: logLevel,
	}
}

// Sessions returns the console session store.
func (h *Handler) Sessions() *SessionStore {
	return h.sessions
}
