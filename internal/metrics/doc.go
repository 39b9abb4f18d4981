// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

// Package metrics defines the Prometheus collectors shared across Castellan.
// Collectors are registered once via promauto at package load; components
// reference them directly. Scrape endpoint: GET /metrics on the ops server.
package metrics
