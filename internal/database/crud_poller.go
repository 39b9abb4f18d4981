// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rmellis/castellan/internal/models"
)

// GetPollerConfigs loads the persisted schedule for every category. Missing
// categories are seeded with defaults so a fresh database comes up with a
// complete schedule.
func (db *DB) GetPollerConfigs(ctx context.Context) ([]models.PollerConfig, error) {
	start := time.Now()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT category, interval_ms, min_interval_ms, max_interval_ms, enabled, last_poll_at
		 FROM poller_config`)
	observe("select", "poller_config", start, err)
	if err != nil {
		return nil, fmt.Errorf("get poller configs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	found := make(map[models.PollerCategory]models.PollerConfig)
	for rows.Next() {
		var (
			cfg                      models.PollerConfig
			category                 string
			intervalMs, minMs, maxMs int64
			lastPoll                 sql.NullTime
		)
		if err := rows.Scan(&category, &intervalMs, &minMs, &maxMs, &cfg.Enabled, &lastPoll); err != nil {
			return nil, fmt.Errorf("scan poller config: %w", err)
		}
		cfg.Category = models.PollerCategory(category)
		cfg.Interval = time.Duration(intervalMs) * time.Millisecond
		cfg.MinInterval = time.Duration(minMs) * time.Millisecond
		cfg.MaxInterval = time.Duration(maxMs) * time.Millisecond
		if lastPoll.Valid {
			cfg.LastPollAt = lastPoll.Time
		}
		found[cfg.Category] = cfg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate poller configs: %w", err)
	}

	configs := make([]models.PollerConfig, 0, len(models.PollerCategories))
	for _, def := range models.DefaultPollerConfigs() {
		if cfg, ok := found[def.Category]; ok {
			configs = append(configs, cfg)
			continue
		}
		if err := db.SavePollerConfig(ctx, def); err != nil {
			return nil, fmt.Errorf("seed poller config %s: %w", def.Category, err)
		}
		configs = append(configs, def)
	}

	return configs, nil
}

// SavePollerConfig upserts one category's schedule. Bounds are validated by
// the caller (models.PollerConfig.Validate) before persisting.
func (db *DB) SavePollerConfig(ctx context.Context, cfg models.PollerConfig) error {
	start := time.Now()

	var lastPoll any
	if !cfg.LastPollAt.IsZero() {
		lastPoll = cfg.LastPollAt.UTC()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO poller_config (category, interval_ms, min_interval_ms, max_interval_ms, enabled, last_poll_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (category) DO UPDATE SET
			interval_ms = excluded.interval_ms,
			min_interval_ms = excluded.min_interval_ms,
			max_interval_ms = excluded.max_interval_ms,
			enabled = excluded.enabled,
			last_poll_at = excluded.last_poll_at`,
		string(cfg.Category), cfg.Interval.Milliseconds(), cfg.MinInterval.Milliseconds(),
		cfg.MaxInterval.Milliseconds(), cfg.Enabled, lastPoll)
	observe("upsert", "poller_config", start, err)
	if err != nil {
		return fmt.Errorf("save poller config %s: %w", cfg.Category, err)
	}

	return nil
}

// SetCurrentSession stores the broadcaster channel and bot user identity.
func (db *DB) SetCurrentSession(ctx context.Context, channelID, userID string) error {
	start := time.Now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO channel_session (channel_id, user_id, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (channel_id) DO UPDATE SET
			user_id = excluded.user_id,
			updated_at = excluded.updated_at`,
		channelID, userID, time.Now().UTC())
	observe("upsert", "channel_session", start, err)
	if err != nil {
		return fmt.Errorf("set current session: %w", err)
	}

	return nil
}

// GetCurrentSession returns the stored channel/user identity.
func (db *DB) GetCurrentSession(ctx context.Context) (*models.ChannelSession, error) {
	start := time.Now()

	var s models.ChannelSession
	row := db.conn.QueryRowContext(ctx,
		`SELECT channel_id, user_id FROM channel_session ORDER BY updated_at DESC LIMIT 1`)
	err := row.Scan(&s.ChannelID, &s.UserID)
	observe("select", "channel_session", start, err)
	if err != nil {
		return nil, fmt.Errorf("get current session: %w", err)
	}

	return &s, nil
}
