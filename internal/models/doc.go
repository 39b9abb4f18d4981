// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

// Package models defines the shared data types used across Castellan:
// the canonical event shape consumed by every downstream collaborator,
// the EventSub websocket wire frames decoded at the protocol boundary,
// the Helix REST payloads used by subscription management and the
// reconciliation poller, and the persisted poller configuration.
package models
