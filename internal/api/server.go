// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmellis/castellan/internal/config"
	"github.com/rmellis/castellan/internal/logging"
)

// Server is the ops HTTP server.
type Server struct {
	cfg     *config.ServerConfig
	handler *Handler
	srv     *http.Server
}

// NewServer builds the server with its full routing table.
func NewServer(cfg *config.ServerConfig, handler *Handler) *Server {
	s := &Server{cfg: cfg, handler: handler}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		IdleTimeout:  2 * cfg.Timeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))
		r.Use(instrument)

		r.Get("/health", s.handler.Health)
		r.Get("/pollers", s.handler.ListPollers)
		r.Put("/pollers/{category}", s.handler.UpdatePoller)
	})

	// The websocket upgrade and the metrics scrape sit outside the rate
	// limiter: the dashboard holds one long-lived connection and Prometheus
	// scrapes on its own schedule.
	r.Get("/ws", s.handler.WebSocket)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.srv.Addr).Msg("ops server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown ops server: %w", err)
	}
	<-errCh
	return ctx.Err()
}
