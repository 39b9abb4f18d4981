// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"

	"github.com/rmellis/castellan/internal/eventsub"
	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/models"
	"github.com/rmellis/castellan/internal/websocket"
)

// SessionSource exposes the push-channel state for health reporting.
type SessionSource interface {
	Status() eventsub.Status
	SessionID() string
	ActiveSubscriptions() map[string]models.SubscriptionInfo
}

// PollerControl is the runtime schedule surface implemented by the poller.
type PollerControl interface {
	Configs() []models.PollerConfig
	UpdateConfig(ctx context.Context, cfg models.PollerConfig) error
}

// HealthStore is the persistence slice the health check probes.
type HealthStore interface {
	Ping(ctx context.Context) error
	CountEvents(ctx context.Context, channelID string) (int64, error)
}

// Handler holds the dependencies behind the ops endpoints.
type Handler struct {
	session   SessionSource
	pollers   PollerControl
	store     HealthStore
	hub       *websocket.Hub
	channelID string
	upgrader  gorillaws.Upgrader
}

// NewHandler creates the handler set. session and pollers may be nil early
// in startup; the health endpoint reports them as unavailable.
func NewHandler(session SessionSource, pollers PollerControl, store HealthStore, hub *websocket.Hub, channelID string) *Handler {
	return &Handler{
		session:   session,
		pollers:   pollers,
		store:     store,
		hub:       hub,
		channelID: channelID,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Same-host dashboard; cross-origin policy is handled by the
			// CORS middleware on the API routes.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

type healthSession struct {
	Status        string `json:"status"`
	SessionID     string `json:"session_id,omitempty"`
	Subscriptions int    `json:"subscriptions"`
}

type healthBody struct {
	Status    string          `json:"status"`
	Session   *healthSession  `json:"session,omitempty"`
	Database  string          `json:"database"`
	Events    int64           `json:"events"`
	WSClients int             `json:"ws_clients"`
	Pollers   []pollerStatus  `json:"pollers,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

type pollerStatus struct {
	Category   string    `json:"category"`
	Interval   string    `json:"interval"`
	Enabled    bool      `json:"enabled"`
	LastPollAt time.Time `json:"last_poll_at,omitempty"`
}

// Health reports session, database and poller state in one document.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	body := healthBody{
		Status:    "ok",
		Database:  "ok",
		Timestamp: time.Now().UTC(),
	}

	if err := h.store.Ping(ctx); err != nil {
		body.Status = "degraded"
		body.Database = "unreachable"
	} else if count, err := h.store.CountEvents(ctx, h.channelID); err == nil {
		body.Events = count
	}

	if h.session != nil {
		status := h.session.Status()
		body.Session = &healthSession{
			Status:        status.String(),
			SessionID:     h.session.SessionID(),
			Subscriptions: len(h.session.ActiveSubscriptions()),
		}
		if status != eventsub.StatusConnected {
			body.Status = "degraded"
		}
	}

	if h.hub != nil {
		body.WSClients = h.hub.GetClientCount()
	}

	if h.pollers != nil {
		for _, cfg := range h.pollers.Configs() {
			body.Pollers = append(body.Pollers, pollerStatus{
				Category:   string(cfg.Category),
				Interval:   cfg.Interval.String(),
				Enabled:    cfg.Enabled,
				LastPollAt: cfg.LastPollAt,
			})
		}
	}

	writeJSON(w, http.StatusOK, body)
}

// ListPollers returns the current reconciliation schedule.
func (h *Handler) ListPollers(w http.ResponseWriter, _ *http.Request) {
	if h.pollers == nil {
		writeError(w, http.StatusServiceUnavailable, "poller_unavailable", "reconciliation poller is not running")
		return
	}
	writeJSON(w, http.StatusOK, h.pollers.Configs())
}

type pollerUpdateRequest struct {
	Interval string `json:"interval"`
	Enabled  *bool  `json:"enabled"`
}

// UpdatePoller changes one category's interval or enable flag. Bounds are
// fixed; the request may only move the interval inside them.
func (h *Handler) UpdatePoller(w http.ResponseWriter, r *http.Request) {
	if h.pollers == nil {
		writeError(w, http.StatusServiceUnavailable, "poller_unavailable", "reconciliation poller is not running")
		return
	}

	category := models.PollerCategory(chi.URLParam(r, "category"))

	var current *models.PollerConfig
	for _, cfg := range h.pollers.Configs() {
		if cfg.Category == category {
			c := cfg
			current = &c
			break
		}
	}
	if current == nil {
		writeError(w, http.StatusNotFound, "unknown_category", "no such poller category")
		return
	}

	var req pollerUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}

	updated := *current
	if req.Interval != "" {
		interval, err := time.ParseDuration(req.Interval)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_interval", "interval must be a duration string like 5m")
			return
		}
		updated.Interval = interval
	}
	if req.Enabled != nil {
		updated.Enabled = *req.Enabled
	}

	if err := h.pollers.UpdateConfig(r.Context(), updated); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_config", err.Error())
		return
	}

	logging.Info().
		Str("category", string(category)).
		Str("interval", updated.Interval.String()).
		Bool("enabled", updated.Enabled).
		Msg("poller schedule updated")
	writeJSON(w, http.StatusOK, updated)
}

// WebSocket upgrades the connection and attaches it to the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := websocket.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}
