package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Sternrassler/itemsense-client/pkg/coordinator"
	"github.com/Sternrassler/itemsense-client/pkg/metrics"
	"github.com/rs/zerolog/log"
)

// stateFunc reports the state of the current run.
type stateFunc func() coordinator.State

func newMux(state stateFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(state))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler answers 200 while a run is in progress or completed and
// 503 otherwise. The body carries the run state.
func readyHandler(state stateFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := state()
		if s == coordinator.StateRunning || s == coordinator.StateCompleted {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprint(w, s.String())
	}
}

// serveMetrics listens on addr until ctx ends. It returns once the listener
// is bound; serve errors are logged.
func serveMetrics(ctx context.Context, addr string, state stateFunc) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           newMux(state),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("Serving /health and /metrics")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return ln.Addr(), nil
}
