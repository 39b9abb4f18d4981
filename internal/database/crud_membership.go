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

// ApplyRoleChange mutates the role membership table. Grants are UPSERTs and
// revokes are DELETEs, so duplicate delivery of the same canonical event
// converges on the same final state.
func (db *DB) ApplyRoleChange(ctx context.Context, viewerID string, role models.Role, granted bool, channelID string) error {
	start := time.Now()

	var err error
	if granted {
		_, err = db.conn.ExecContext(ctx,
			`INSERT INTO role_membership (viewer_id, role, channel_id, granted_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (viewer_id, role, channel_id) DO NOTHING`,
			viewerID, string(role), channelID, time.Now().UTC())
	} else {
		_, err = db.conn.ExecContext(ctx,
			`DELETE FROM role_membership WHERE viewer_id = ? AND role = ? AND channel_id = ?`,
			viewerID, string(role), channelID)
	}

	observe("apply_role", "role_membership", start, err)
	if err != nil {
		return fmt.Errorf("apply role change %s/%s: %w", role, viewerID, err)
	}

	return nil
}

// GetRoleMembers returns the set of viewer ids holding a role. The poller
// uses this as the local side of its diff baseline.
func (db *DB) GetRoleMembers(ctx context.Context, role models.Role, channelID string) (map[string]struct{}, error) {
	start := time.Now()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT viewer_id FROM role_membership WHERE role = ? AND channel_id = ?`,
		string(role), channelID)
	observe("select", "role_membership", start, err)
	if err != nil {
		return nil, fmt.Errorf("get %s members: %w", role, err)
	}
	defer func() { _ = rows.Close() }()

	members := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s member: %w", role, err)
		}
		members[id] = struct{}{}
	}

	return members, rows.Err()
}

// SetSubscriptionStatus upserts the subscription detail row for a viewer.
// Role membership (role=subscriber) is tracked separately via ApplyRoleChange;
// this table carries tier and gift metadata.
func (db *DB) SetSubscriptionStatus(ctx context.Context, viewerID, channelID, tier string, isGift, active bool) error {
	start := time.Now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO subscription_records (viewer_id, channel_id, tier, is_gift, active, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (viewer_id, channel_id) DO UPDATE SET
			tier = excluded.tier,
			is_gift = excluded.is_gift,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		viewerID, channelID, tier, isGift, active, time.Now().UTC())
	observe("upsert", "subscription_records", start, err)
	if err != nil {
		return fmt.Errorf("set subscription status %s: %w", viewerID, err)
	}

	return nil
}

// SetFollower inserts or removes a follower row.
func (db *DB) SetFollower(ctx context.Context, viewerID, channelID string, followedAt time.Time, following bool) error {
	start := time.Now()

	var err error
	if following {
		_, err = db.conn.ExecContext(ctx,
			`INSERT INTO followers (viewer_id, channel_id, followed_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT (viewer_id, channel_id) DO NOTHING`,
			viewerID, channelID, followedAt.UTC())
	} else {
		_, err = db.conn.ExecContext(ctx,
			`DELETE FROM followers WHERE viewer_id = ? AND channel_id = ?`,
			viewerID, channelID)
	}

	observe("set_follower", "followers", start, err)
	if err != nil {
		return fmt.Errorf("set follower %s: %w", viewerID, err)
	}

	return nil
}

// GetFollowerIDs returns the persisted follower set for one channel.
func (db *DB) GetFollowerIDs(ctx context.Context, channelID string) (map[string]struct{}, error) {
	start := time.Now()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT viewer_id FROM followers WHERE channel_id = ?`, channelID)
	observe("select", "followers", start, err)
	if err != nil {
		return nil, fmt.Errorf("get followers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	followers := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan follower: %w", err)
		}
		followers[id] = struct{}{}
	}

	return followers, rows.Err()
}
