package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gpuwatchhq/gpuwatch/internal/clock"
	"github.com/gpuwatchhq/gpuwatch/internal/health"
	"github.com/gpuwatchhq/gpuwatch/internal/metrics"
)

func newMonitoringMux(store *metrics.Store, checker *health.Checker, c clock.Clock) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", store.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		ready, reasons := checker.Ready(c.Now().UTC())
		if !ready {
			http.Error(w, strings.Join(reasons, "; "), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func serveMonitoring(ctx context.Context, addr string, store *metrics.Store, checker *health.Checker, c clock.Clock, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMonitoringMux(store, checker, c),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("monitoring listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
