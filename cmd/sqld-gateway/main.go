// Package main provides the entry point for the sqld gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sipico/sqld-gateway/internal/admin"
	"github.com/sipico/sqld-gateway/internal/config"
	"github.com/sipico/sqld-gateway/internal/gateway"
	"github.com/sipico/sqld-gateway/internal/metrics"
	"github.com/sipico/sqld-gateway/internal/sqld"
	"github.com/sipico/sqld-gateway/internal/storage"
	"github.com/sipico/sqld-gateway/internal/token"
)

const version = "0.1.0"

// shutdownTimeout bounds graceful shutdown. Console sockets that outlive it
// are closed.
const shutdownTimeout = 30 * time.Second

// sessionCleanupInterval is how often expired console sessions are dropped.
const sessionCleanupInterval = 10 * time.Minute

// components holds the wired application.
type components struct {
	logger     *slog.Logger
	logLevel   *slog.LevelVar
	store      storage.Storage
	gateway    *gateway.Gateway
	admin      *admin.Handler
	mainRouter http.Handler
	registry   *prometheus.Registry
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", s)
	}
}

// initializeComponents validates cfg and wires storage, metrics, the
// gateway and the operator router.
func initializeComponents(cfg *config.Config) (*components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(level)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	registry := prometheus.NewRegistry()
	if err := metrics.Init(registry); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	store, err := storage.New(cfg.DatabasePath, cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	gw := gateway.New(store, token.NewSigner(), sqld.NewTransports(cfg.RemoteTimeout, logger),
		gateway.WithLogger(logger),
		gateway.WithCacheTTL(cfg.CacheTTL),
	)

	handler := admin.NewHandler(gw, store, admin.Config{
		AdminToken:    cfg.AdminToken,
		ConsoleURL:    cfg.ConsoleURL,
		ConsoleOrigin: cfg.ConsoleOrigin,
	}, logLevel, logger)

	return &components{
		logger:     logger,
		logLevel:   logLevel,
		store:      store,
		gateway:    gw,
		admin:      handler,
		mainRouter: handler.NewRouter(),
		registry:   registry,
	}, nil
}

// createServer creates the operator API server. WriteTimeout is left unset
// so console sockets are not cut off.
func createServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RemoteTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// createMetricsServer serves /metrics from registry on its own listener.
func createMetricsServer(cfg *config.Config, registry prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HandlerFor(registry))
	return &http.Server{
		Addr:              cfg.MetricsListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// startServerAndWaitForShutdown runs every server until SIGINT or SIGTERM,
// or until one of them fails, then shuts all of them down.
func startServerAndWaitForShutdown(logger *slog.Logger, servers ...*http.Server) error {
	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("Server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", "signal", sig.String())
	case runErr = <-errCh:
		logger.Error("Server failed", "error", runErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("Forced server close", "addr", srv.Addr, "error", err)
				//nolint:errcheck
				srv.Close()
			}
		}(srv)
	}
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	logger.Info("Server shut down gracefully")
	return nil
}

// cleanupSessions drops expired console sessions until ctx ends.
func cleanupSessions(ctx context.Context, sessions *admin.SessionStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.Cleanup(ctx)
		}
	}
}

// runHealthCheck probes the local /health endpoint. Returns 0 on success,
// 1 on failure. Used by container HEALTHCHECK.
func runHealthCheck() int {
	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = config.DefaultListenAddr
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return doHealthCheck("http://" + addr + "/health")
}

// doHealthCheck performs the actual health check HTTP request.
func doHealthCheck(url string) int {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return 1
	}
	//nolint:errcheck // Response body close errors are unrecoverable in health check
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	c, err := initializeComponents(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.store.Close(); err != nil {
			c.logger.Error("Failed to close storage", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cleanupSessions(ctx, c.admin.Sessions(), sessionCleanupInterval)

	c.logger.Info("sqld gateway starting",
		"version", version,
		"listen_addr", cfg.ListenAddr,
		"metrics_addr", cfg.MetricsListenAddr,
		"database_path", cfg.DatabasePath,
		"console_origin", cfg.ConsoleOrigin,
	)

	return startServerAndWaitForShutdown(c.logger,
		createServer(cfg, c.mainRouter),
		createMetricsServer(cfg, c.registry),
	)
}

func main() {
	// Health check subcommand for distroless container health checks
	if len(os.Args) > 1 && os.Args[1] == "health" {
		os.Exit(runHealthCheck())
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sqld-gateway: %v\n", err)
		os.Exit(1)
	}
}
