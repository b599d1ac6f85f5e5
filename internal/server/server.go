// Package server wires Config, TicketStore, WsGateway, HttpSurface, and
// the metrics collector into one process, following the shape of the
// teacher's Server in pkg/bridge/server.go: a struct holding every
// collaborator, a single net/http.Server, and Run/Shutdown methods with
// sync.Once-guarded shutdown signaling.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Nixieboluo/sealos-tty-agent/internal/config"
	"github.com/Nixieboluo/sealos-tty-agent/internal/gateway"
	"github.com/Nixieboluo/sealos-tty-agent/internal/httpapi"
	"github.com/Nixieboluo/sealos-tty-agent/internal/metrics"
	"github.com/Nixieboluo/sealos-tty-agent/internal/ticket"
)

// Server is the terminal gateway process.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	store   *ticket.Store
	gateway *gateway.Gateway
	http    *httpapi.Surface

	httpServer *http.Server

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New builds a Server from cfg. Construction never fails — there are no
// external connections to establish up front, since every session's
// Kubernetes client is built per-ticket at exec time.
func New(cfg *config.Config, logger *slog.Logger) *Server {
	store := ticket.New(time.Duration(cfg.WsTicketTtlMs) * time.Millisecond)
	gw := gateway.New(cfg, store, logger.With("component", "gateway"))
	surface := httpapi.New(cfg, store, logger.With("component", "httpapi"))

	return &Server{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		gateway:    gw,
		http:       surface,
		shutdownCh: make(chan struct{}),
	}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", s.http.Handler())
	mux.Handle("/ws-ticket", s.http.Handler())
	mux.Handle("/exec", s.gateway)

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.New(s.store, s.gateway))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return mux
}

// Run starts the HTTP listener and blocks until ctx is canceled or the
// server fails to start.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.handler(),
	}

	s.logger.Info("starting gateway", "port", s.cfg.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown drains live sessions and stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})

	s.logger.Info("shutting down gateway")
	s.gateway.CloseAll()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
