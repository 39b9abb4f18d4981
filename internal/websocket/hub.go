// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

// Package websocket pushes canonical events and connectivity state to
// connected dashboard clients. One Hub fans broadcasts out to every client;
// slow clients are evicted rather than allowed to stall the loop.
package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/metrics"
	"github.com/rmellis/castellan/internal/models"
)

// Message types pushed to dashboard clients.
const (
	MessageTypeEvent            = "event"
	MessageTypeConnectivity     = "connectivity"
	MessageTypeReconcileSummary = "reconcile_summary"
	MessageTypePing             = "ping"
	MessageTypePong             = "pong"
)

// Connectivity states reported for the upstream EventSub session.
const (
	ConnectivityReady        = "ready"
	ConnectivityError        = "error"
	ConnectivityDisconnected = "disconnected"
)

// Message is the envelope for everything sent to dashboard clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// ConnectivityData describes a session state change.
type ConnectivityData struct {
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
	At     string `json:"at"`
}

// ReconcileSummaryData describes the outcome of one reconciliation cycle.
type ReconcileSummaryData struct {
	Category   string `json:"category"`
	Added      int    `json:"added"`
	Removed    int    `json:"removed"`
	DurationMs int64  `json:"duration_ms"`
	At         string `json:"at"`
}

// Hub maintains the active client set and broadcasts messages to it.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a Hub. The broadcast channel is bounded; producers drop
// rather than block when it fills.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub loop until ctx is cancelled, then closes all
// clients and returns ctx.Err(). Designed for suture supervision.
//
// Lifecycle events are drained before broadcasts so the client set is
// consistent when a message fans out; Go's select picks randomly among
// ready channels, so the priority is enforced with a non-blocking pass.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	metrics.WSClientsConnected.Set(float64(count))
	logging.Info().Int("total_clients", count).Msg("websocket client connected")
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	metrics.WSClientsConnected.Set(float64(count))
	logging.Info().Int("total_clients", count).Msg("websocket client disconnected")
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	count := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WSClientsConnected.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		AnErr("reason", ctx.Err()).
		Int("clients_closed", count).
		Msg("websocket hub stopped")
}

// broadcastToClients fans one message out to every client in client-id
// order. Clients whose send buffer is full are evicted; a stuck dashboard
// tab must not hold up the rest.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var evicted int
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
			evicted++
		}
	}

	if evicted > 0 {
		metrics.WSClientsConnected.Set(float64(len(h.clients)))
		logging.Warn().Int("evicted", evicted).Msg("evicted slow websocket clients")
	}
}

func (h *Hub) enqueue(message Message) {
	select {
	case h.broadcast <- message:
	default:
		metrics.WSMessagesDropped.Inc()
		logging.Warn().Str("message_type", message.Type).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastEvent pushes a canonical event to all clients.
func (h *Hub) BroadcastEvent(event models.CanonicalEvent) {
	h.enqueue(Message{Type: MessageTypeEvent, Data: event})
}

// BroadcastConnectivity pushes a session connectivity state change.
func (h *Hub) BroadcastConnectivity(state, detail string) {
	h.enqueue(Message{
		Type: MessageTypeConnectivity,
		Data: ConnectivityData{
			State:  state,
			Detail: detail,
			At:     time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// BroadcastReconcileSummary pushes the outcome of a reconciliation cycle.
func (h *Hub) BroadcastReconcileSummary(category string, added, removed int, duration time.Duration) {
	h.enqueue(Message{
		Type: MessageTypeReconcileSummary,
		Data: ReconcileSummaryData{
			Category:   category,
			Added:      added,
			Removed:    removed,
			DurationMs: duration.Milliseconds(),
			At:         time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
