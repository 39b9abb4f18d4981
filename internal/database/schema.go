// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package database

import (
	"context"
	"fmt"
)

// initSchema creates all tables on first start. Every statement is
// idempotent (CREATE TABLE IF NOT EXISTS), so schema initialization is safe
// to run on every boot.
func (db *DB) initSchema(ctx context.Context) error {
	for _, query := range schemaQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

// schemaQueries returns the table creation statements.
//
// Membership tables carry composite primary keys so role grants, follower
// rows and subscription rows are naturally idempotent under UPSERT:
// applying the same canonical event twice converges to the same state.
func schemaQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS viewers (
			id TEXT PRIMARY KEY,
			login TEXT NOT NULL,
			display_name TEXT NOT NULL,
			first_seen TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_seen TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			id UUID PRIMARY KEY,
			type TEXT NOT NULL,
			viewer_id TEXT,
			detail TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			origin TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS role_membership (
			viewer_id TEXT NOT NULL,
			role TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			granted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (viewer_id, role, channel_id)
		)`,

		`CREATE TABLE IF NOT EXISTS subscription_records (
			viewer_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			tier TEXT,
			is_gift BOOLEAN NOT NULL DEFAULT FALSE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (viewer_id, channel_id)
		)`,

		`CREATE TABLE IF NOT EXISTS followers (
			viewer_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			followed_at TIMESTAMP,
			PRIMARY KEY (viewer_id, channel_id)
		)`,

		`CREATE TABLE IF NOT EXISTS moderation_history (
			id UUID PRIMARY KEY,
			viewer_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			action TEXT NOT NULL,
			reason TEXT,
			moderator_id TEXT,
			expires_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			resolved_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS chat_messages (
			id UUID PRIMARY KEY,
			message_id TEXT,
			viewer_id TEXT,
			channel_id TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS poller_config (
			category TEXT PRIMARY KEY,
			interval_ms BIGINT NOT NULL,
			min_interval_ms BIGINT NOT NULL,
			max_interval_ms BIGINT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			last_poll_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS channel_session (
			channel_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
}
