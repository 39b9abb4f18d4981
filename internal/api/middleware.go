// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/metrics"
)

// instrument logs every request and records the Prometheus counters. The
// endpoint label uses the routing pattern, not the raw path, to keep label
// cardinality bounded.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		duration := time.Since(start)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(r.Method, endpoint).Observe(duration.Seconds())

		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", duration).
			Str("remote", r.RemoteAddr).
			Msg("request handled")
	})
}
