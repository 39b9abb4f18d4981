// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the ingestion and reconciliation engine:
// - EventSub session health (reconnects, keepalive misses, subscriptions)
// - Router throughput and fan-out failures
// - Reconciliation cycle durations and synthesized deltas
// - DuckDB query performance
// - UI websocket hub occupancy

var (
	// EventSub session metrics
	SessionStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventsub_session_status",
			Help: "Current session state (0=idle 1=connecting 2=connected 3=reconnecting 4=closed)",
		},
	)

	SessionReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_reconnects_total",
			Help: "Total reconnect attempts by trigger",
		},
		[]string{"trigger"}, // "transport_close", "keepalive_timeout", "reconnect_directive"
	)

	KeepaliveTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventsub_keepalive_timeouts_total",
			Help: "Total liveness deadline expiries",
		},
	)

	SubscriptionRegistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_subscription_registrations_total",
			Help: "Subscription registration attempts by event type and outcome",
		},
		[]string{"type", "outcome"}, // outcome: "ok", "error"
	)

	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventsub_subscriptions_active",
			Help: "Currently active EventSub subscriptions",
		},
	)

	SubscriptionRevocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_subscription_revocations_total",
			Help: "Subscriptions revoked by the remote service",
		},
		[]string{"type"},
	)

	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventsub_frames_dropped_total",
			Help: "Malformed or unknown wire frames dropped without tearing down the session",
		},
	)

	// Router metrics
	EventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_events_total",
			Help: "Canonical events routed by type and origin",
		},
		[]string{"type", "origin"},
	)

	RouterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_errors_total",
			Help: "Router failures by pipeline stage",
		},
		[]string{"stage"}, // "viewer", "membership", "persist", "ui_push", "alert", "command", "speech"
	)

	ChatCommandReplies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "router_chat_command_replies_total",
			Help: "Command-engine replies sent back over platform chat",
		},
	)

	SpeechForwarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "router_speech_forwarded_total",
			Help: "Chat messages forwarded to the speech pipeline",
		},
	)

	// Reconciliation metrics
	PollCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poller_cycle_duration_seconds",
			Help:    "Duration of reconciliation cycles per category",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	PollCycleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_cycle_errors_total",
			Help: "Reconciliation cycles skipped due to fetch failure",
		},
		[]string{"category"},
	)

	PollEventsSynthesized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_events_synthesized_total",
			Help: "Canonical events synthesized from reconciliation diffs",
		},
		[]string{"category", "type"},
	)

	// Database metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// Event bus metrics
	BusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_published_total",
			Help: "Watermill messages published per topic",
		},
		[]string{"topic"},
	)

	BusPoisoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_messages_poisoned_total",
			Help: "Messages shunted to the poison topic after retry exhaustion",
		},
	)

	// Circuit breaker metrics (Helix reconciliation fetches)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed 1=half-open 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by outcome",
		},
		[]string{"name", "outcome"}, // "success", "failure", "rejected"
	)

	// UI websocket hub metrics
	WSClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients_connected",
			Help: "Currently connected UI websocket clients",
		},
	)

	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_dropped_total",
			Help: "Broadcast messages dropped because the hub channel was full",
		},
	)

	// Ops API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)
