package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sipico/sqld-gateway/internal/admin"
	"github.com/sipico/sqld-gateway/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	for _, name := range []string{"CONFIG_FILE", "LOG_LEVEL", "REMOTE_TIMEOUT", "CACHE_TTL", "CONSOLE_ORIGIN", "CONSOLE_URL", "METRICS_LISTEN_ADDR"} {
		t.Setenv(name, "")
	}
	t.Setenv("DATABASE_PATH", ":memory:")
	t.Setenv("ENCRYPTION_KEY", "test-passphrase")
	t.Setenv("ADMIN_TOKEN", "operator-token")
	t.Setenv("LISTEN_ADDR", ":8080")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitializeComponentsWithValidConfig(t *testing.T) {
	cfg := testConfig(t)

	c, err := initializeComponents(cfg)
	if err != nil {
		t.Fatalf("failed to initialize components: %v", err)
	}
	defer c.store.Close()

	if c.logger == nil || c.logLevel == nil || c.store == nil || c.gateway == nil || c.admin == nil || c.mainRouter == nil || c.registry == nil {
		t.Fatalf("component not initialized: %+v", c)
	}
	if c.logLevel.Level() != slog.LevelInfo {
		t.Errorf("log level = %v, want info", c.logLevel.Level())
	}
}

func TestInitializeComponentsRejectsInvalidConfig(t *testing.T) {
	t.Run("missing admin token", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.AdminToken = ""
		if _, err := initializeComponents(cfg); err == nil || !strings.Contains(err.Error(), "ADMIN_TOKEN") {
			t.Errorf("expected ADMIN_TOKEN error, got %v", err)
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.LogLevel = "loud"
		if _, err := initializeComponents(cfg); err == nil {
			t.Error("expected error for invalid log level")
		}
	})

	t.Run("unopenable database", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.DatabasePath = t.TempDir() + "/missing/dir/gateway.db"
		if _, err := initializeComponents(cfg); err == nil || !strings.Contains(err.Error(), "storage") {
			t.Errorf("expected storage error, got %v", err)
		}
	})
}

func TestMainRouterServesOperatorAPI(t *testing.T) {
	cfg := testConfig(t)
	c, err := initializeComponents(cfg)
	if err != nil {
		t.Fatalf("failed to initialize components: %v", err)
	}
	defer c.store.Close()

	srv := httptest.NewServer(c.mainRouter)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ready")
	if err != nil {
		t.Fatalf("GET /ready: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/ready status = %d, want 200", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/servers", nil)
	req.Header.Set("Authorization", "Bearer operator-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/servers: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/api/servers status = %d, body %s", resp.StatusCode, body)
	}
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("/api/servers body = %s, want []", body)
	}
}

func TestCreateServer(t *testing.T) {
	cfg := testConfig(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	server := createServer(cfg, handler)

	if server.Addr != ":8080" {
		t.Errorf("expected server address :8080, got %s", server.Addr)
	}
	if server.Handler == nil {
		t.Error("server handler should not be nil")
	}
	if server.WriteTimeout != 0 {
		t.Errorf("write timeout = %v, want none so console sockets stay open", server.WriteTimeout)
	}
	if server.ReadHeaderTimeout != 10*time.Second {
		t.Errorf("read header timeout = %v, want 10s", server.ReadHeaderTimeout)
	}
	if server.IdleTimeout != 60*time.Second {
		t.Errorf("expected idle timeout 60s, got %v", server.IdleTimeout)
	}
}

func TestCreateMetricsServer(t *testing.T) {
	cfg := testConfig(t)
	c, err := initializeComponents(cfg)
	if err != nil {
		t.Fatalf("failed to initialize components: %v", err)
	}
	defer c.store.Close()

	// one request through the router so the request counter has a sample
	rec := httptest.NewRecorder()
	c.mainRouter.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	server := createMetricsServer(cfg, c.registry)
	if server.Addr != "localhost:9090" {
		t.Errorf("metrics addr = %s, want localhost:9090", server.Addr)
	}

	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `path="/health"`) {
		t.Errorf("expected /health request sample in metrics, got:\n%s", rec.Body.String())
	}
}

func TestStartServerAndWaitForShutdownWithServerError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var logBuffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuffer, nil))
	server := &http.Server{Addr: ln.Addr().String(), ReadHeaderTimeout: time.Second}

	done := make(chan error, 1)
	go func() { done <- startServerAndWaitForShutdown(logger, server) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error when the address is already in use")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for server error")
	}
	if !strings.Contains(logBuffer.String(), "Server failed") {
		t.Errorf("expected failure log, got %s", logBuffer.String())
	}
}

func TestStartServerAndWaitForShutdownGracefulSignalShutdown(t *testing.T) {
	var logBuffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuffer, &slog.HandlerOptions{Level: slog.LevelInfo}))

	server := &http.Server{
		Addr:              "127.0.0.1:0",
		Handler:           http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan error, 1)
	go func() { done <- startServerAndWaitForShutdown(logger, server) }()

	// Wait briefly for the signal handler to be installed
	time.Sleep(100 * time.Millisecond)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("failed to send SIGTERM signal: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected graceful shutdown to return nil, got error: %v", err)
		}
		out := logBuffer.String()
		if !strings.Contains(out, "Received signal, shutting down") {
			t.Errorf("expected log to contain 'Received signal, shutting down', got: %s", out)
		}
		if !strings.Contains(out, "Server shut down gracefully") {
			t.Errorf("expected log to contain 'Server shut down gracefully', got: %s", out)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for graceful shutdown")
	}
}

func TestCleanupSessions(t *testing.T) {
	sessions := admin.NewSessionStore(time.Millisecond)
	if _, err := sessions.CreateSession(context.Background()); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		cleanupSessions(ctx, sessions, 5*time.Millisecond)
		close(stopped)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for sessions.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sessions.Len() != 0 {
		t.Error("expired session was not cleaned up")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("cleanupSessions did not stop on cancel")
	}
}

func TestDoHealthCheck(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   int
	}{
		{"ok", http.StatusOK, 0},
		{"unavailable", http.StatusServiceUnavailable, 1},
		{"not found", http.StatusNotFound, 1},
		{"server error", http.StatusInternalServerError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			if got := doHealthCheck(server.URL); got != tt.want {
				t.Errorf("doHealthCheck() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDoHealthCheckConnectionError(t *testing.T) {
	if got := doHealthCheck("http://localhost:99999/health"); got != 1 {
		t.Errorf("expected doHealthCheck to return 1 for connection error, got %d", got)
	}
}

func TestRunHealthCheckUsesListenAddr(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	t.Setenv("LISTEN_ADDR", strings.TrimPrefix(server.URL, "http://"))
	if got := runHealthCheck(); got != 0 {
		t.Errorf("runHealthCheck() = %d, want 0", got)
	}
}
