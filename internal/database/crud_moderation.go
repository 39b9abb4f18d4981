// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rmellis/castellan/internal/models"
)

// RecordModerationAction appends a moderation row (ban or timeout) and marks
// any previously unresolved action for the same viewer as superseded, so at
// most one row per viewer is active at a time.
func (db *DB) RecordModerationAction(ctx context.Context, viewerID, channelID string,
	state models.ModerationState, reason, moderatorID string, expiresAt *time.Time, createdAt time.Time) error {
	start := time.Now()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		observe("insert", "moderation_history", start, err)
		return fmt.Errorf("begin moderation insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx,
		`UPDATE moderation_history SET resolved_at = ?
		 WHERE viewer_id = ? AND channel_id = ? AND resolved_at IS NULL`,
		now, viewerID, channelID); err != nil {
		observe("insert", "moderation_history", start, err)
		return fmt.Errorf("supersede moderation rows for %s: %w", viewerID, err)
	}

	if createdAt.IsZero() {
		createdAt = now
	}

	var expires any
	if expiresAt != nil {
		expires = expiresAt.UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO moderation_history (id, viewer_id, channel_id, action, reason, moderator_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New(), viewerID, channelID, string(state), reason, moderatorID, expires, createdAt.UTC())
	if err != nil {
		observe("insert", "moderation_history", start, err)
		return fmt.Errorf("record moderation action for %s: %w", viewerID, err)
	}

	err = tx.Commit()
	observe("insert", "moderation_history", start, err)
	if err != nil {
		return fmt.Errorf("commit moderation action: %w", err)
	}

	return nil
}

// ResolveModerationAction closes the active moderation row for a viewer
// (unban or timeout expiry observed). Resolving a viewer with no active row
// is a no-op, keeping duplicate delivery idempotent.
func (db *DB) ResolveModerationAction(ctx context.Context, viewerID, channelID string) error {
	start := time.Now()

	_, err := db.conn.ExecContext(ctx,
		`UPDATE moderation_history SET resolved_at = ?
		 WHERE viewer_id = ? AND channel_id = ? AND resolved_at IS NULL`,
		time.Now().UTC(), viewerID, channelID)
	observe("resolve", "moderation_history", start, err)
	if err != nil {
		return fmt.Errorf("resolve moderation action for %s: %w", viewerID, err)
	}

	return nil
}

// GetActiveModeration returns viewer id -> state for every unresolved
// moderation row. The poller consults this to decide whether a disappearing
// entry means "unban" or "timeout lifted".
func (db *DB) GetActiveModeration(ctx context.Context, channelID string) (map[string]models.ModerationState, error) {
	start := time.Now()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT viewer_id, action FROM moderation_history
		 WHERE channel_id = ? AND resolved_at IS NULL`, channelID)
	observe("select", "moderation_history", start, err)
	if err != nil {
		return nil, fmt.Errorf("get active moderation: %w", err)
	}
	defer func() { _ = rows.Close() }()

	active := make(map[string]models.ModerationState)
	for rows.Next() {
		var id, action string
		if err := rows.Scan(&id, &action); err != nil {
			return nil, fmt.Errorf("scan moderation row: %w", err)
		}
		active[id] = models.ModerationState(action)
	}

	return active, rows.Err()
}
