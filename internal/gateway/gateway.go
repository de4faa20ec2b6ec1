// Package gateway ties the stored server records to the remote planes of
// each server: namespace lifecycle on the admin plane, SQL execution on the
// data plane and scoped token issuance for servers that sign their own JWTs.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sipico/sqld-gateway/internal/cache"
	"github.com/sipico/sqld-gateway/internal/credential"
	"github.com/sipico/sqld-gateway/internal/errs"
	"github.com/sipico/sqld-gateway/internal/query"
	"github.com/sipico/sqld-gateway/internal/sqld"
	"github.com/sipico/sqld-gateway/internal/storage"
)

// DefaultCacheTTL is how long a successful server info lookup is reused.
const DefaultCacheTTL = 30 * time.Second

// Store is the subset of storage.Storage the gateway needs.
type Store interface {
	ListServers(ctx context.Context) ([]storage.DatabaseServer, error)
	GetServer(ctx context.Context, id string) (storage.DatabaseServer, error)
	AddServer(ctx context.Context, srv storage.DatabaseServer) (storage.DatabaseServer, error)
	RemoveServer(ctx context.Context, id string) error
}

// ServerSummary is a server record without its secrets.
type ServerSummary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	AdminURL       string    `json:"adminUrl"`
	NormalURL      string    `json:"normalUrl"`
	NormalAuthType string    `json:"normalAuthType"`
	InsecureTLS    bool      `json:"insecureTls"`
	CreatedAt      time.Time `json:"createdAt"`
}

func summarize(srv storage.DatabaseServer) ServerSummary {
	authType := ""
	if srv.NormalAuth != nil {
		authType = srv.NormalAuth.Type()
	}
	return ServerSummary{
		ID:             srv.ID,
		Name:           srv.Name,
		AdminURL:       srv.AdminURL,
		NormalURL:      srv.NormalURL,
		NormalAuthType: authType,
		InsecureTLS:    srv.InsecureTLS,
		CreatedAt:      srv.CreatedAt,
	}
}

// ServerInfo reports whether a server's admin plane answered and which
// namespaces it hosts.
type ServerInfo struct {
	IsAccessible bool             `json:"isAccessible"`
	Workspaces   []sqld.Namespace `json:"workspaces"`
}

// Gateway serves every operation on registered servers.
type Gateway struct {
	store      Store
	factory    *credential.Factory
	signer     credential.Signer
	engine     *query.Engine
	transports *sqld.Transports
	info       *cache.Cache[ServerInfo]
	logger     *slog.Logger

	cacheTTL time.Duration
	now      func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithCacheTTL sets the server info cache TTL. Zero disables the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		g.cacheTTL = ttl
	}
}

// WithClock overrides the time source of the server info cache.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New creates a Gateway. signer is used for data-plane JWTs and scoped tokens.
func New(store Store, signer credential.Signer, transports *sqld.Transports, opts ...Option) *Gateway {
	g := &Gateway{
		store:      store,
		signer:     signer,
		transports: transports,
		logger:     slog.Default(),
		cacheTTL:   DefaultCacheTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	g.factory = credential.NewFactory(signer)
	g.engine = query.NewEngine(g.factory, transports, g.logger)
	g.info = cache.New[ServerInfo](g.cacheTTL, cache.WithClock[ServerInfo](g.now))
	return g
}

// ListServers returns every registered server.
func (g *Gateway) ListServers(ctx context.Context) ([]ServerSummary, error) {
	servers, err := g.store.ListServers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ServerSummary, 0, len(servers))
	for _, srv := range servers {
		out = append(out, summarize(srv))
	}
	return out, nil
}

// GetServer returns one server.
func (g *Gateway) GetServer(ctx context.Context, id string) (ServerSummary, error) {
	srv, err := g.store.GetServer(ctx, id)
	if err != nil {
		return ServerSummary{}, err
	}
	return summarize(srv), nil
}

// AddServer validates and stores a new server definition.
func (g *Gateway) AddServer(ctx context.Context, n NewServer) (ServerSummary, error) {
	srv, err := n.record()
	if err != nil {
		return ServerSummary{}, err
	}
	srv.ID = uuid.NewString()
	srv.CreatedAt = g.now().UTC()

	stored, err := g.store.AddServer(ctx, srv)
	if err != nil {
		return ServerSummary{}, err
	}
	g.logger.Info("database server added", "server_id", stored.ID, "name", stored.Name)
	return summarize(stored), nil
}

// RemoveServer deletes a server and drops its cached info.
func (g *Gateway) RemoveServer(ctx context.Context, id string) error {
	if err := g.store.RemoveServer(ctx, id); err != nil {
		return err
	}
	g.info.Invalidate(id)
	g.logger.Info("database server removed", "server_id", id)
	return nil
}

// TestConnection probes GET {adminUrl}/health of an unsaved definition with
// its admin token. Any failure, including an invalid definition, is false.
func (g *Gateway) TestConnection(ctx context.Context, n NewServer) bool {
	adminURL, err := normalizeURL("adminUrl", n.AdminURL)
	if err != nil {
		return false
	}
	auth := credential.Basic{Token: n.AdminToken}
	if credential.Validate(credential.PlaneAdmin, auth) != nil {
		return false
	}
	headers, err := g.factory.Headers(credential.PlaneAdmin, auth)
	if err != nil {
		return false
	}
	client := sqld.NewClient(adminURL, headers,
		sqld.WithHTTPClient(g.transports.Client(credential.PlaneAdmin.String(), n.InsecureTLS)))
	return client.Health(ctx)
}

// ServerInfo lists a server's namespaces, reusing a recent successful
// answer. A server whose admin plane fails is reported inaccessible with no
// workspaces and is not cached. Only an unknown id is an error.
func (g *Gateway) ServerInfo(ctx context.Context, id string) (ServerInfo, error) {
	srv, err := g.store.GetServer(ctx, id)
	if err != nil {
		return ServerInfo{}, err
	}
	info, err := g.info.GetOrLoad(ctx, id, func(ctx context.Context) (ServerInfo, error) {
		client, err := g.adminClient(srv)
		if err != nil {
			return ServerInfo{}, err
		}
		namespaces, err := client.ListNamespaces(ctx)
		if err != nil {
			return ServerInfo{}, err
		}
		return ServerInfo{IsAccessible: true, Workspaces: namespaces}, nil
	})
	if err != nil {
		g.logger.Warn("server info unavailable", "server_id", id, "error", err)
		return ServerInfo{IsAccessible: false, Workspaces: []sqld.Namespace{}}, nil
	}
	return info, nil
}

// Version probes GET {adminUrl}/version without credentials.
func (g *Gateway) Version(ctx context.Context, id string) (*sqld.VersionInfo, error) {
	srv, err := g.store.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	headers, err := g.factory.Headers(credential.PlaneLegacy, credential.None{})
	if err != nil {
		return nil, err
	}
	client := sqld.NewClient(srv.AdminURL, headers,
		sqld.WithHTTPClient(g.transports.Client(credential.PlaneLegacy.String(), srv.InsecureTLS)))
	return client.Version(ctx), nil
}

// ListNamespaces returns the namespaces of a server, bypassing the cache.
func (g *Gateway) ListNamespaces(ctx context.Context, id string) ([]sqld.Namespace, error) {
	srv, err := g.store.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	client, err := g.adminClient(srv)
	if err != nil {
		return nil, err
	}
	return client.ListNamespaces(ctx)
}

// CreateNamespace creates a namespace on a server. The name is validated
// before the server is looked up.
func (g *Gateway) CreateNamespace(ctx context.Context, id, name string) error {
	if err := sqld.ValidateNamespaceName(name); err != nil {
		return err
	}
	srv, err := g.store.GetServer(ctx, id)
	if err != nil {
		return err
	}
	client, err := g.adminClient(srv)
	if err != nil {
		return err
	}

	// a failed create may still have changed the server's state
	defer g.info.Invalidate(id)

	if err := client.CreateNamespace(ctx, name); err != nil {
		return err
	}
	g.logger.Info("namespace created", "server_id", id, "namespace", name)
	return nil
}

// Execute runs st against namespace on a server's data plane.
func (g *Gateway) Execute(ctx context.Context, id, namespace string, st query.Statement) (*query.Outcome, error) {
	if err := sqld.ValidateNamespaceName(namespace); err != nil {
		return nil, err
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	srv, err := g.store.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.engine.Execute(ctx, srv, namespace, st)
}

func (g *Gateway) adminClient(srv storage.DatabaseServer) (*sqld.Client, error) {
	headers, err := g.factory.Headers(credential.PlaneAdmin, srv.AdminAuth)
	if err != nil {
		return nil, err
	}
	return sqld.NewClient(srv.AdminURL, headers,
		sqld.WithHTTPClient(g.transports.Client(credential.PlaneAdmin.String(), srv.InsecureTLS))), nil
}

// NewServer is the definition of a server to register.
type NewServer struct {
	Name                    string `json:"name"`
	AdminURL                string `json:"adminUrl"`
	NormalURL               string `json:"normalUrl"`
	AdminToken              string `json:"adminToken"`
	NormalAuthType          string `json:"normalAuthType"`
	NormalAuthBasicToken    string `json:"normalAuthBasicToken"`
	NormalAuthJWTPrivateKey string `json:"normalAuthJwtPrivateKey"`
	InsecureTLS             bool   `json:"insecureTls"`
}

// record validates n and converts it to a storage record without id or
// creation time.
func (n NewServer) record() (storage.DatabaseServer, error) {
	name := strings.TrimSpace(n.Name)
	if name == "" {
		return storage.DatabaseServer{}, errs.Invalid("name is required")
	}
	adminURL, err := normalizeURL("adminUrl", n.AdminURL)
	if err != nil {
		return storage.DatabaseServer{}, err
	}
	normalURL, err := normalizeURL("normalUrl", n.NormalURL)
	if err != nil {
		return storage.DatabaseServer{}, err
	}

	adminAuth := credential.Basic{Token: n.AdminToken}
	if err := credential.Validate(credential.PlaneAdmin, adminAuth); err != nil {
		return storage.DatabaseServer{}, err
	}

	var normalAuth credential.Credential
	switch n.NormalAuthType {
	case credential.TypeBasic:
		normalAuth = credential.Basic{Token: n.NormalAuthBasicToken}
	case credential.TypeJWT:
		normalAuth = credential.JWT{PrivateKey: n.NormalAuthJWTPrivateKey}
	default:
		return storage.DatabaseServer{}, fmt.Errorf("%w: normalAuthType must be %q or %q, got %q",
			errs.ErrInvalidCredential, credential.TypeBasic, credential.TypeJWT, n.NormalAuthType)
	}
	if err := credential.Validate(credential.PlaneData, normalAuth); err != nil {
		return storage.DatabaseServer{}, err
	}

	return storage.DatabaseServer{
		Name:        name,
		AdminURL:    adminURL,
		NormalURL:   normalURL,
		AdminAuth:   adminAuth,
		NormalAuth:  normalAuth,
		InsecureTLS: n.InsecureTLS,
	}, nil
}

// normalizeURL requires an absolute http(s) URL and strips trailing slashes.
func normalizeURL(field, raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", errs.Invalid("%s: %v", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errs.Invalid("%s must be an absolute http or https URL", field)
	}
	if u.Host == "" {
		return "", errs.Invalid("%s has no host", field)
	}
	return trimmed, nil
}
