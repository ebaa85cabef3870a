// Package httpserver runs the service's Prometheus /metrics and /healthz
// endpoints. This service has no public API surface of its own — every
// operation is driven by SQS and NATS — so this is the only HTTP server
// it runs.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server wraps net/http.Server with graceful shutdown.
type Server struct {
	srv *http.Server
	log *slog.Logger
}

// New builds a server exposing /metrics (Prometheus) and /healthz (plain
// liveness check) on addr.
func New(addr string, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{srv: srv, log: log.With(slog.String("component", "metrics_server"))}
}

// Run starts the server and blocks until ctx is cancelled or the server
// exits on its own.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		s.log.Info("metrics server starting", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("metrics server shutdown", slog.String("error", err.Error()))
		}
		return nil
	case err := <-serverErr:
		return err
	}
}
