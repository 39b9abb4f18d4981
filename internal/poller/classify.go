// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package poller

import (
	"time"

	"github.com/rmellis/castellan/internal/models"
)

// permanentHorizon is how far in the future an expiry may sit before the
// entry is treated as a permanent ban regardless of what the field claims.
const permanentHorizon = 365 * 24 * time.Hour

// ClassifyModeration decides whether a banned-list entry is a permanent ban
// or a timeout. The expiry field is unreliable: permanent bans have been
// observed with a null expiry, an empty string, a zero-value timestamp and
// an expiry years in the future. Anything that does not parse to a plausible
// near-future instant is a ban.
//
// For timeouts the returned duration is expires_at minus created_at, the
// full length originally issued rather than the remainder.
func ClassifyModeration(expiresAt, createdAt string, now time.Time) (models.ModerationState, time.Duration) {
	if expiresAt == "" {
		return models.ModerationBanned, 0
	}

	expiry, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil || expiry.IsZero() {
		return models.ModerationBanned, 0
	}
	if expiry.Sub(now) > permanentHorizon {
		return models.ModerationBanned, 0
	}

	start := now
	if created, err := time.Parse(time.RFC3339, createdAt); err == nil && !created.IsZero() {
		start = created
	}

	duration := expiry.Sub(start)
	if duration < 0 {
		duration = 0
	}
	return models.ModerationTimedOut, duration
}
