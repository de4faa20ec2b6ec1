// Package mocksqld provides a mock libsql/sqld server for testing.
//
// One Server answers both planes: the admin REST endpoints under /v1 plus
// /health and /version, and the Hrana-over-HTTP pipeline at /v2/pipeline.
// Namespaces are selected with the x-namespace header the same way sqld does.
package mocksqld

import (
	"net/http/httptest"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
)

// DefaultNamespace exists on every new Server.
const DefaultNamespace = "default"

// Request is what the mock saw for one incoming call.
type Request struct {
	Method        string
	Path          string
	Namespace     string
	Authorization string
	Body          []byte
}

// Server is a mock sqld server.
type Server struct {
	*httptest.Server
	router *chi.Mux

	mu         sync.Mutex
	namespaces map[string]bool
	results    map[string]Result
	errors     map[string]string
	failures   map[string]failure
	requests   []Request
	version    string
	healthy    bool
	adminAuth  func(string) bool
	dataAuth   func(string) bool
}

type failure struct {
	status int
	body   string
}

// Option configures a Server.
type Option func(*Server)

// WithAdminToken requires "Authorization: Basic <token>" on /v1 endpoints.
func WithAdminToken(token string) Option {
	return func(s *Server) {
		s.adminAuth = func(h string) bool { return h == "Basic "+token }
	}
}

// WithDataAuth installs a check for the Authorization header of pipeline
// requests. Requests the check rejects get 401.
func WithDataAuth(check func(authorization string) bool) Option {
	return func(s *Server) {
		s.dataAuth = check
	}
}

// WithVersion sets the plain-text body of GET /version.
func WithVersion(text string) Option {
	return func(s *Server) {
		s.version = text
	}
}

// New starts a mock sqld server. Call Close when done.
func New(opts ...Option) *Server {
	s := &Server{
		namespaces: map[string]bool{DefaultNamespace: true},
		results:    make(map[string]Result),
		errors:     make(map[string]string),
		failures:   make(map[string]failure),
		version:    "sqld 0.24.32 (f96ba8b3 2025-01-21)",
		healthy:    true,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = chi.NewRouter()
	s.router.Use(s.record, s.inject)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth(s.adminAuth))
		r.Get("/namespaces", s.handleListNamespaces)
		r.Post("/namespaces/{name}/create", s.handleCreateNamespace)
	})
	s.router.With(s.requireAuth(s.dataAuth)).Post("/v2/pipeline", s.handlePipeline)

	s.Server = httptest.NewServer(s.router)
	return s
}

// NewTLS is New over HTTPS with a self-signed certificate.
func NewTLS(opts ...Option) *Server {
	s := New(opts...)
	s.Server.Close()
	s.Server = httptest.NewTLSServer(s.router)
	return s
}

// URL returns the base URL of the mock server.
func (s *Server) URL() string {
	return s.Server.URL
}

// AddNamespace creates a namespace directly.
func (s *Server) AddNamespace(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces[name] = true
}

// Namespaces returns the namespace names in lexical order.
func (s *Server) Namespaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetResult scripts the result returned for an exact SQL text.
func (s *Server) SetResult(sql string, r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[sql] = r
	delete(s.errors, sql)
}

// SetError makes statements with this exact SQL text fail with message.
func (s *Server) SetError(sql, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[sql] = message
	delete(s.results, sql)
}

// SetHealthy controls the status of GET /health.
func (s *Server) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// Fail makes every request to path answer status with body until Recover
// is called for it.
func (s *Server) Fail(path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = failure{status: status, body: body}
}

// Recover removes an injected failure.
func (s *Server) Recover(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, path)
}

// Requests returns a copy of every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LastRequest returns the most recent request, or the zero Request.
func (s *Server) LastRequest() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return Request{}
	}
	return s.requests[len(s.requests)-1]
}
