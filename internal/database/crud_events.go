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

const insertEventQuery = `INSERT INTO events
	(id, type, viewer_id, detail, channel_id, origin, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

// RecordEvent persists one canonical event fact and returns its id.
// Events are append-only; there is no update or delete path.
func (db *DB) RecordEvent(ctx context.Context, event *models.CanonicalEvent) (uuid.UUID, error) {
	start := time.Now()

	id := uuid.New()
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx, insertEventQuery,
		id, string(event.Type), event.ViewerID, event.Detail, event.ChannelID, string(event.Origin), createdAt)
	observe("insert", "events", start, err)
	if err != nil {
		return uuid.Nil, fmt.Errorf("record event %s: %w", event.Type, err)
	}

	return id, nil
}

// RecordEventsBatch persists a slice of synthesized events inside a single
// transaction. The reconciliation poller uses this so a cycle's deltas land
// atomically: either the whole diff is durable or none of it is.
func (db *DB) RecordEventsBatch(ctx context.Context, events []*models.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		observe("insert_batch", "events", start, err)
		return fmt.Errorf("begin event batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertEventQuery)
	if err != nil {
		observe("insert_batch", "events", start, err)
		return fmt.Errorf("prepare event batch: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, event := range events {
		createdAt := event.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.New(), string(event.Type), event.ViewerID, event.Detail,
			event.ChannelID, string(event.Origin), createdAt); err != nil {
			observe("insert_batch", "events", start, err)
			return fmt.Errorf("insert event %s in batch: %w", event.Type, err)
		}
	}

	err = tx.Commit()
	observe("insert_batch", "events", start, err)
	if err != nil {
		return fmt.Errorf("commit event batch: %w", err)
	}

	return nil
}

// CountEvents returns the total number of persisted events for one channel.
// Used by the health endpoint and tests.
func (db *DB) CountEvents(ctx context.Context, channelID string) (int64, error) {
	start := time.Now()

	var count int64
	row := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE channel_id = ?`, channelID)
	err := row.Scan(&count)
	observe("count", "events", start, err)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}

	return count, nil
}
