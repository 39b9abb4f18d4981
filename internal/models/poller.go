// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package models

import (
	"fmt"
	"time"
)

// PollerCategory names one independently scheduled reconciliation loop.
type PollerCategory string

const (
	// PollerRoles reconciles moderator, VIP and subscriber membership.
	PollerRoles PollerCategory = "roles"

	// PollerFollowers reconciles the follower set.
	PollerFollowers PollerCategory = "followers"

	// PollerModeration reconciles the banned/timed-out list.
	PollerModeration PollerCategory = "moderation"
)

// PollerCategories lists every category in a stable order.
var PollerCategories = []PollerCategory{PollerRoles, PollerFollowers, PollerModeration}

// PollerConfig is the persisted, runtime-mutable schedule for one
// reconciliation category.
type PollerConfig struct {
	Category    PollerCategory `json:"category"`
	Interval    time.Duration  `json:"interval"`
	MinInterval time.Duration  `json:"min_interval"`
	MaxInterval time.Duration  `json:"max_interval"`
	Enabled     bool           `json:"enabled"`
	LastPollAt  time.Time      `json:"last_poll_at,omitempty"`
}

// Validate checks the min <= interval <= max invariant.
func (c PollerConfig) Validate() error {
	if c.MinInterval <= 0 || c.MaxInterval < c.MinInterval {
		return fmt.Errorf("poller %s: invalid bounds [%s, %s]", c.Category, c.MinInterval, c.MaxInterval)
	}
	if c.Interval < c.MinInterval || c.Interval > c.MaxInterval {
		return fmt.Errorf("poller %s: interval %s outside [%s, %s]", c.Category, c.Interval, c.MinInterval, c.MaxInterval)
	}
	return nil
}

// DefaultPollerConfigs returns the schedule seeded into the database on
// first start.
func DefaultPollerConfigs() []PollerConfig {
	return []PollerConfig{
		{Category: PollerRoles, Interval: 5 * time.Minute, MinInterval: 30 * time.Second, MaxInterval: 24 * time.Hour, Enabled: true},
		{Category: PollerFollowers, Interval: 10 * time.Minute, MinInterval: time.Minute, MaxInterval: 24 * time.Hour, Enabled: true},
		{Category: PollerModeration, Interval: 15 * time.Minute, MinInterval: time.Minute, MaxInterval: 24 * time.Hour, Enabled: true},
	}
}
