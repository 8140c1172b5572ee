// Package harness wires configuration into the databases, backends and
// HTTP endpoints shared by the command-line tools.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/c2afuzz/c2afuzz/internal/backend"
	"github.com/c2afuzz/c2afuzz/internal/cmddb"
	"github.com/c2afuzz/c2afuzz/internal/config"
	"github.com/c2afuzz/c2afuzz/internal/enum"
)

var shutdownTimeout = 5 * time.Second

// LoadIndex returns the enumeration configured by cfg. Without an
// enumeration source the command database doubles as one.
func LoadIndex(cfg *config.Config, db *cmddb.Database) (*enum.Index, error) {
	if cfg.EnumPath == "" {
		log.Debug().Msg("No enumeration configured, deriving commands from the command DB")
		return enum.FromDatabase(db), nil
	}
	idx, err := enum.LoadFile(cfg.EnumPath)
	if err != nil {
		return nil, fmt.Errorf("load enumeration: %w", err)
	}
	log.Debug().Str("path", cfg.EnumPath).Int("commands", idx.Len()).Msg("Loaded enumeration")
	return idx, nil
}

// NewOperation builds the configured backend. The simulator prints to out.
func NewOperation(cfg *config.Config, db *cmddb.Database, out io.Writer) (backend.Operation, error) {
	switch cfg.Backend.Kind {
	case config.BackendSim, "":
		return backend.NewSim(db, out), nil
	case config.BackendProcess:
		return backend.NewProcess(cfg.Backend.Program, cfg.Backend.Args, cfg.Backend.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

// NewDispatcher resolves telemetry ids and returns a dispatcher. Unresolved
// ids are only fatal for the process backend; the simulator ignores them.
func NewDispatcher(cfg *config.Config, idx *enum.Index, op backend.Operation) (*backend.Dispatcher, error) {
	dc, err := cfg.DispatcherConfig(idx)
	if err != nil {
		if cfg.Backend.Kind == config.BackendProcess {
			return nil, err
		}
		log.Debug().Err(err).Msg("Telemetry ids unresolved, using zero")
	}
	return backend.NewDispatcher(op, dc), nil
}

// HealthHandler serves liveness, readiness and Prometheus metrics.
func HealthHandler(ready *atomic.Bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// ServeHTTP runs an HTTP server until ctx is cancelled, then shuts it down
// gracefully. It returns early only if the listener fails.
func ServeHTTP(ctx context.Context, name, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("server", name).Msg("HTTP endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Str("server", name).Msg("Failed to shut down HTTP server cleanly")
	}
	return nil
}
