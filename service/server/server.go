// Package server exposes the reconciliation engine over HTTP: one webhook
// endpoint per event source, plus health and metrics.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/luxledger/service/config"
	"github.com/brojonat/luxledger/service/db"
	"github.com/brojonat/luxledger/service/events"
	"github.com/brojonat/luxledger/service/metrics"
	"github.com/brojonat/luxledger/service/recon"
)

// Server wires the webhook handlers to the engine and the store.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *db.Store
	engine  *recon.Engine
	metrics *metrics.Metrics
}

// New creates a Server. The metrics argument may be nil.
func New(cfg *config.Config, logger *slog.Logger, store *db.Store, engine *recon.Engine, m *metrics.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		engine:  engine,
		metrics: m,
	}
}

// Handler builds the route table. Method patterns make the mux reject a
// non-POST webhook request with 405 before any body handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	chain := s.webhookHandler(events.SourceChain, s.cfg.ChainWebhookSecret)
	trading := s.webhookHandler(events.SourceTrading, s.cfg.TradingWebhookSecret)
	if s.metrics != nil {
		chainMW := metrics.HTTPMetricsMiddleware(s.metrics, "/api/v1/webhooks/chain")
		tradingMW := metrics.HTTPMetricsMiddleware(s.metrics, "/api/v1/webhooks/trading")
		mux.Handle("POST /api/v1/webhooks/chain", chainMW(chain))
		mux.Handle("POST /api/v1/webhooks/trading", tradingMW(trading))
	} else {
		mux.Handle("POST /api/v1/webhooks/chain", chain)
		mux.Handle("POST /api/v1/webhooks/trading", trading)
	}

	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails. Shutdown drains in-flight webhook batches.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ServerAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
