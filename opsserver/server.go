// Package opsserver exposes liveness and readiness endpoints for the bot process.
package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/skosovsky/universalis"
)

// ProbeTimeout bounds one readiness check.
const ProbeTimeout = 5 * time.Second

// shutdownTimeout bounds graceful shutdown in Run.
const shutdownTimeout = 5 * time.Second

// HealthChecker reports the health of every configured provider. A nil value means healthy.
type HealthChecker interface {
	Health(ctx context.Context) map[universalis.Provider]error
}

// Pinger checks a dependency such as the database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readiness is the /readyz response body.
type Readiness struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewRouter returns a router serving GET /healthz and GET /readyz.
// /readyz fails with 503 when the store or any configured provider is down.
func NewRouter(providers HealthChecker, store Pinger, logger *zap.Logger) *chi.Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), ProbeTimeout)
		defer cancel()

		body := Readiness{Status: "ok", Checks: make(map[string]string)}
		record := func(name string, err error) {
			if err == nil {
				body.Checks[name] = "ok"
				return
			}
			body.Status = "unavailable"
			body.Checks[name] = err.Error()
			logger.Warn("readiness check failed",
				zap.String("check", name),
				zap.String("request_id", middleware.GetReqID(req.Context())),
				zap.Error(err))
		}
		if store != nil {
			record("store", store.Ping(ctx))
		}
		if providers != nil {
			for p, err := range providers.Health(ctx) {
				record(string(p), err)
			}
		}
		code := http.StatusOK
		if body.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, body)
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves h on addr until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logger.Info("ops server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("opsserver: listen: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("opsserver: shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("opsserver: listen: %w", err)
	}
	return nil
}
