// Package server exposes the health and capabilities endpoints of the
// platform.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/airbytehq/airbyte-platform/internal/settings"
)

const shutdownTimeout = 5 * time.Second

type Health struct {
	Status string `json:"status"`
}

type Capabilities struct {
	CustomCodeExecution bool `json:"customCodeExecution"`
}

// Handler serves GET /health/ and GET /capabilities/. The capabilities are
// derived from s once, s is never read again.
func Handler(s *settings.Settings) http.Handler {
	caps := Capabilities{CustomCodeExecution: s.UnsafeCodeEnabled()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/{$}", func(w http.ResponseWriter, r *http.Request) {
		slog.DebugContext(r.Context(), "health check endpoint hit", "remote_addr", r.RemoteAddr)
		writeJSON(w, Health{Status: "ok"})
	})
	mux.HandleFunc("GET /capabilities/{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, caps)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing response failed", "error", err)
	}
}

// Serve serves h on ln until ctx is canceled, then shuts down gracefully.
func Serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	slog.InfoContext(ctx, "server started", "address", ln.Addr().String())

	select {
	case err := <-errc:
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	slog.InfoContext(ctx, "shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return Serve(ctx, ln, h)
}
