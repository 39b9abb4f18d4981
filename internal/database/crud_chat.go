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
)

// InsertChatMessage persists one chat message row.
func (db *DB) InsertChatMessage(ctx context.Context, messageID, viewerID, channelID, text string, createdAt time.Time) error {
	start := time.Now()

	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO chat_messages (id, message_id, viewer_id, channel_id, text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New(), messageID, viewerID, channelID, text, createdAt.UTC())
	observe("insert", "chat_messages", start, err)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}

	return nil
}
