// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

// Package poller is the pull-based reconciliation side of the engine. One
// independently scheduled timer per category (role membership, follower
// list, moderation list) fetches authoritative state from Helix, diffs it
// against the locally persisted baseline and publishes the same canonical
// events the push path would have produced for every delta.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/metrics"
	"github.com/rmellis/castellan/internal/models"
)

// ListAPI is the Helix reconciliation surface, normally the circuit-breaker
// wrapped client.
type ListAPI interface {
	GetModerators(ctx context.Context) ([]models.HelixUser, error)
	GetVIPs(ctx context.Context) ([]models.HelixUser, error)
	GetBroadcasterSubscriptions(ctx context.Context) ([]models.BroadcasterSubscription, error)
	GetChannelFollowers(ctx context.Context) ([]models.ChannelFollower, error)
	GetBannedUsers(ctx context.Context) ([]models.BannedUser, error)
}

// Store is the persisted local state the poller diffs against. Mutation
// happens in the router, never here.
type Store interface {
	GetRoleMembers(ctx context.Context, role models.Role, channelID string) (map[string]struct{}, error)
	GetFollowerIDs(ctx context.Context, channelID string) (map[string]struct{}, error)
	GetActiveModeration(ctx context.Context, channelID string) (map[string]models.ModerationState, error)
	GetPollerConfigs(ctx context.Context) ([]models.PollerConfig, error)
	SavePollerConfig(ctx context.Context, cfg models.PollerConfig) error
}

// BatchPublisher carries a reconciliation batch to the router in one
// message, so the whole cycle persists as one transaction.
type BatchPublisher interface {
	PublishEvents(topic string, events []models.CanonicalEvent) error
}

// SummaryNotifier receives per-cycle outcome summaries for the dashboard.
type SummaryNotifier interface {
	BroadcastReconcileSummary(category string, added, removed int, duration time.Duration)
}

// Poller owns the reconciliation timers. Each category runs its own loop;
// updating one category's interval restarts only that loop.
type Poller struct {
	api       ListAPI
	store     Store
	bus       BatchPublisher
	hub       SummaryNotifier
	channelID string
	now       func() time.Time

	mu      sync.Mutex
	configs map[models.PollerCategory]models.PollerConfig
	cancels map[models.PollerCategory]context.CancelFunc
	wg      sync.WaitGroup
	runCtx  context.Context
}

// New creates a poller for one channel.
func New(api ListAPI, store Store, bus BatchPublisher, hub SummaryNotifier, channelID string) *Poller {
	return &Poller{
		api:       api,
		store:     store,
		bus:       bus,
		hub:       hub,
		channelID: channelID,
		now:       time.Now,
		configs:   make(map[models.PollerCategory]models.PollerConfig),
		cancels:   make(map[models.PollerCategory]context.CancelFunc),
	}
}

// Run loads the persisted schedule, starts one loop per enabled category
// and blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	configs, err := p.store.GetPollerConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load poller configs: %w", err)
	}

	p.mu.Lock()
	p.runCtx = ctx
	for _, cfg := range configs {
		p.configs[cfg.Category] = cfg
		if cfg.Enabled {
			p.startLocked(ctx, cfg)
		}
	}
	p.mu.Unlock()

	<-ctx.Done()

	p.mu.Lock()
	for cat, cancel := range p.cancels {
		cancel()
		delete(p.cancels, cat)
	}
	p.mu.Unlock()
	p.wg.Wait()

	logging.Info().Msg("reconciliation poller stopped")
	return ctx.Err()
}

// startLocked launches one category loop. Caller holds p.mu.
func (p *Poller) startLocked(parent context.Context, cfg models.PollerConfig) {
	loopCtx, cancel := context.WithCancel(parent)
	p.cancels[cfg.Category] = cancel

	p.wg.Add(1)
	go p.loop(loopCtx, cfg.Category)
	logging.Info().
		Str("category", string(cfg.Category)).
		Dur("interval", cfg.Interval).
		Msg("reconciliation loop started")
}

// loop ticks one category. Ticks never overlap: a cycle runs to completion
// before the timer is rearmed, so a slow fetch skips ticks instead of
// stacking them.
func (p *Poller) loop(ctx context.Context, category models.PollerCategory) {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		interval := p.configs[category].Interval
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		p.runCycle(ctx, category)
	}
}

// runCycle executes one reconciliation pass for a category. A fetch failure
// logs and skips the cycle; local state stays untouched so nothing is
// falsely diffed as removed.
func (p *Poller) runCycle(ctx context.Context, category models.PollerCategory) {
	start := p.now()

	var (
		added, removed int
		err            error
	)
	switch category {
	case models.PollerRoles:
		added, removed, err = p.reconcileRoles(ctx)
	case models.PollerFollowers:
		added, removed, err = p.reconcileFollowers(ctx)
	case models.PollerModeration:
		added, removed, err = p.reconcileModeration(ctx)
	default:
		err = fmt.Errorf("unknown poller category %q", category)
	}

	duration := p.now().Sub(start)
	metrics.PollCycleDuration.WithLabelValues(string(category)).Observe(duration.Seconds())

	if err != nil {
		metrics.PollCycleErrors.WithLabelValues(string(category)).Inc()
		logging.Warn().Err(err).Str("category", string(category)).Msg("reconciliation cycle skipped")
		return
	}

	p.recordLastPoll(ctx, category)
	if p.hub != nil {
		p.hub.BroadcastReconcileSummary(string(category), added, removed, duration)
	}
	logging.Debug().
		Str("category", string(category)).
		Int("added", added).
		Int("removed", removed).
		Dur("duration", duration).
		Msg("reconciliation cycle completed")
}

func (p *Poller) recordLastPoll(ctx context.Context, category models.PollerCategory) {
	p.mu.Lock()
	cfg := p.configs[category]
	cfg.LastPollAt = p.now().UTC()
	p.configs[category] = cfg
	p.mu.Unlock()

	if err := p.store.SavePollerConfig(ctx, cfg); err != nil {
		logging.Warn().Err(err).Str("category", string(category)).Msg("failed to persist poll timestamp")
	}
}

// Configs returns the current schedule.
func (p *Poller) Configs() []models.PollerConfig {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.PollerConfig, 0, len(p.configs))
	for _, cat := range models.PollerCategories {
		if cfg, ok := p.configs[cat]; ok {
			out = append(out, cfg)
		}
	}
	return out
}

// UpdateConfig applies a new interval or enable flag at runtime. Only the
// affected category's loop is stopped and restarted; the others keep their
// timers.
func (p *Poller) UpdateConfig(ctx context.Context, cfg models.PollerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current, ok := p.configs[cfg.Category]
	if !ok {
		return fmt.Errorf("unknown poller category %q", cfg.Category)
	}
	cfg.LastPollAt = current.LastPollAt
	p.configs[cfg.Category] = cfg

	if cancel, running := p.cancels[cfg.Category]; running {
		cancel()
		delete(p.cancels, cfg.Category)
	}
	if cfg.Enabled && p.runCtx != nil && p.runCtx.Err() == nil {
		p.startLocked(p.runCtx, cfg)
	}

	if err := p.store.SavePollerConfig(ctx, cfg); err != nil {
		return fmt.Errorf("persist poller config: %w", err)
	}
	return nil
}
