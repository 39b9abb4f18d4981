// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rmellis/castellan/internal/models"
)

// UpsertViewer resolves or creates the viewer record for a platform id.
// Login and display name are refreshed on every call so renames converge;
// last_seen is always bumped.
func (db *DB) UpsertViewer(ctx context.Context, id, login, displayName string) (*models.Viewer, error) {
	start := time.Now()

	if id == "" {
		return nil, fmt.Errorf("upsert viewer: empty id")
	}
	if displayName == "" {
		displayName = login
	}

	now := time.Now().UTC()
	query := `INSERT INTO viewers (id, login, display_name, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			login = excluded.login,
			display_name = excluded.display_name,
			last_seen = excluded.last_seen`

	_, err := db.conn.ExecContext(ctx, query, id, login, displayName, now, now)
	observe("upsert", "viewers", start, err)
	if err != nil {
		return nil, fmt.Errorf("upsert viewer %s: %w", id, err)
	}

	viewer := &models.Viewer{ID: id, Login: login, DisplayName: displayName, LastSeen: now}

	row := db.conn.QueryRowContext(ctx, `SELECT first_seen FROM viewers WHERE id = ?`, id)
	if err := row.Scan(&viewer.FirstSeen); err != nil {
		return nil, fmt.Errorf("read viewer %s: %w", id, err)
	}

	return viewer, nil
}

// GetViewer fetches one viewer record, or sql.ErrNoRows wrapped if absent.
func (db *DB) GetViewer(ctx context.Context, id string) (*models.Viewer, error) {
	start := time.Now()

	var v models.Viewer
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, login, display_name, first_seen, last_seen FROM viewers WHERE id = ?`, id)
	err := row.Scan(&v.ID, &v.Login, &v.DisplayName, &v.FirstSeen, &v.LastSeen)
	observe("select", "viewers", start, err)
	if err != nil {
		return nil, fmt.Errorf("get viewer %s: %w", id, err)
	}

	return &v, nil
}
