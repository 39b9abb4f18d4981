// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package helix

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/rmellis/castellan/internal/config"
	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/metrics"
	"github.com/rmellis/castellan/internal/models"
)

// CircuitBreakerClient wraps Client with a circuit breaker around the
// reconciliation list fetches. When the Helix API degrades, the breaker
// rejects fetches fast so poll cycles skip cleanly instead of piling up
// slow requests behind the rate limiter.
//
// The breaker uses real time (via sony/gobreaker) for its interval and
// timeout calculations. The timing determines when to recover from
// failures, not data integrity; unit tests should exercise the wrapped
// client directly.
type CircuitBreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[interface{}]
	name   string
}

// NewCircuitBreakerClient creates a Helix client with circuit breaker:
// - Max 3 concurrent requests in half-open state
// - 1 minute measurement window
// - 2 minute timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func NewCircuitBreakerClient(cfg *config.TwitchConfig) *CircuitBreakerClient {
	client := NewClient(cfg)
	cbName := "helix-api"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}

			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6

			if shouldTrip {
				logging.Warn().Uint32("failures", counts.TotalFailures).Float64("failure_rate", failureRatio*100).Msg("[CIRCUIT BREAKER] Opening circuit")
			}

			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &CircuitBreakerClient{
		client: client,
		cb:     cb,
		name:   cbName,
	}
}

// Inner exposes the wrapped client for calls that should bypass the
// breaker, such as single chat replies and subscription management on
// the session path.
func (cbc *CircuitBreakerClient) Inner() *Client {
	return cbc.client
}

// execute wraps a Helix call with circuit breaker protection.
func (cbc *CircuitBreakerClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	result, err := cbc.cb.Execute(fn)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			logging.Warn().Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		} else {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		}
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()

	return result, nil
}

// castSlice type-casts the circuit breaker result to a slice type.
func castSlice[T any](result interface{}, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	typed, ok := result.([]T)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// GetModerators fetches the moderator list with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetModerators(ctx context.Context) ([]models.HelixUser, error) {
	return castSlice[models.HelixUser](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetModerators(ctx)
	}))
}

// GetVIPs fetches the VIP list with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetVIPs(ctx context.Context) ([]models.HelixUser, error) {
	return castSlice[models.HelixUser](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetVIPs(ctx)
	}))
}

// GetBroadcasterSubscriptions fetches active subscriptions with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetBroadcasterSubscriptions(ctx context.Context) ([]models.BroadcasterSubscription, error) {
	return castSlice[models.BroadcasterSubscription](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetBroadcasterSubscriptions(ctx)
	}))
}

// GetChannelFollowers fetches the follower list with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetChannelFollowers(ctx context.Context) ([]models.ChannelFollower, error) {
	return castSlice[models.ChannelFollower](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetChannelFollowers(ctx)
	}))
}

// GetBannedUsers fetches the ban list with circuit breaker protection.
func (cbc *CircuitBreakerClient) GetBannedUsers(ctx context.Context) ([]models.BannedUser, error) {
	return castSlice[models.BannedUser](cbc.execute(func() (interface{}, error) {
		return cbc.client.GetBannedUsers(ctx)
	}))
}
