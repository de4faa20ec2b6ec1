package admin

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sipico/sqld-gateway/internal/console"
	"github.com/sipico/sqld-gateway/internal/query"
	"github.com/sipico/sqld-gateway/internal/sqld"
)

// HandleConsolePage serves the console embed page for one namespace
// GET /console/{serverId}/{namespace}
func (h *Handler) HandleConsolePage(w http.ResponseWriter, r *http.Request) {
	id, ns := chi.URLParam(r, "serverId"), chi.URLParam(r, "namespace")
	if err := sqld.ValidateNamespaceName(ns); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	srv, err := h.gateway.GetServer(r.Context(), id)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	page := console.Page{
		Title:         srv.Name + " / " + ns,
		ConsoleURL:    h.config.ConsoleURL,
		ConsoleOrigin: h.config.ConsoleOrigin,
		SocketPath:    r.URL.Path + "/ws",
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", page.ContentSecurityPolicy())
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if err := page.Render(w); err != nil {
		h.requestLogger(r).Error("failed to render console page", "error", err)
	}
}

// HandleConsoleSocket runs the console bridge over a WebSocket
// GET /console/{serverId}/{namespace}/ws
func (h *Handler) HandleConsoleSocket(w http.ResponseWriter, r *http.Request) {
	id, ns := chi.URLParam(r, "serverId"), chi.URLParam(r, "namespace")
	if err := sqld.ValidateNamespaceName(ns); err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if _, err := h.gateway.GetServer(r.Context(), id); err != nil {
		h.writeFailure(w, r, err)
		return
	}

	sock, err := console.Accept(w, r, h.config.ConsoleOrigin)
	if err != nil {
		// Accept has already written the response
		h.requestLogger(r).Warn("console upgrade rejected", "error", err)
		return
	}

	logger := h.requestLogger(r).With("server_id", id, "namespace", ns)
	bridge := console.NewBridge(console.ExecutorFunc(func(ctx context.Context, st query.Statement) (*query.Outcome, error) {
		return h.gateway.Execute(ctx, id, ns, st)
	}), logger)

	logger.Info("console connected")
	err = bridge.Serve(r.Context(), sock)
	if console.IsNormalClose(err) {
		logger.Info("console disconnected")
		return
	}
	logger.Warn("console connection ended", "error", err)
	_ = sock.Close("bridge stopped")
}
