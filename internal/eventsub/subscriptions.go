// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package eventsub

import (
	"context"
	"sync"

	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/metrics"
	"github.com/rmellis/castellan/internal/models"
)

// registerSubscriptions registers every enabled event type against the
// session, one goroutine per type. Partial failure is tolerated: each
// failure is logged and counted individually and never blocks the others.
func (c *Client) registerSubscriptions(ctx context.Context, sessionID string) {
	c.mu.Lock()
	c.active = make(map[string]models.SubscriptionInfo)
	c.mu.Unlock()

	var wg sync.WaitGroup
	failures := make([]string, 0)
	var failMu sync.Mutex

	for _, subType := range c.twitch.EnabledEvents {
		wg.Add(1)
		go func(subType string) {
			defer wg.Done()

			sub, err := c.api.CreateEventSubSubscription(ctx, subType, sessionID)
			if err != nil {
				metrics.SubscriptionRegistrations.WithLabelValues(subType, "error").Inc()
				logging.Error().Err(err).Str("subscription_type", subType).Msg("subscription registration failed")

				failMu.Lock()
				failures = append(failures, subType)
				failMu.Unlock()
				return
			}

			metrics.SubscriptionRegistrations.WithLabelValues(subType, "ok").Inc()
			c.mu.Lock()
			c.active[subType] = *sub
			c.mu.Unlock()
		}(subType)
	}
	wg.Wait()

	c.mu.Lock()
	registered := len(c.active)
	c.mu.Unlock()
	metrics.SubscriptionsActive.Set(float64(registered))

	if len(failures) > 0 {
		logging.Warn().
			Int("registered", registered).
			Strs("failed", failures).
			Msg("subscription registration completed with failures")
		return
	}
	logging.Info().Int("registered", registered).Msg("all subscriptions registered")
}
