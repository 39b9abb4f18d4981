// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

// Package eventsub owns the persistent push connection to Twitch's EventSub
// websocket service: session handshake, subscription registration,
// keepalive-based liveness and reconnection with bounded exponential
// backoff. Decoded notifications are published to the event bus; the router
// consumes them from there.
package eventsub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"

	"github.com/rmellis/castellan/internal/config"
	"github.com/rmellis/castellan/internal/eventbus"
	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/metrics"
	"github.com/rmellis/castellan/internal/models"
)

// ErrReconnectExhausted is returned by Run once the reconnect attempt
// budget is spent. The session is unrecoverable without a fresh start.
var ErrReconnectExhausted = errors.New("eventsub: reconnect attempts exhausted")

// Status is the session state machine position.
type Status int32

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SubscriptionAPI is the Helix surface the session client needs.
type SubscriptionAPI interface {
	CreateEventSubSubscription(ctx context.Context, subType, sessionID string) (*models.SubscriptionInfo, error)
	DeleteEventSubSubscription(ctx context.Context, id string) error
}

// Publisher is the event bus surface the session client needs.
type Publisher interface {
	Publish(topic string, msg *message.Message) error
}

// ConnectivityNotifier receives session state changes for the dashboard.
type ConnectivityNotifier interface {
	BroadcastConnectivity(state, detail string)
}

// Connectivity states pushed to the notifier. Mirrored by the websocket
// package; redeclared here so this package does not depend on it.
const (
	connectivityReady        = "ready"
	connectivityError        = "error"
	connectivityDisconnected = "disconnected"
)

// Client maintains exactly one live EventSub websocket session.
type Client struct {
	cfg    *config.EventSubConfig
	twitch *config.TwitchConfig
	api    SubscriptionAPI
	bus    Publisher
	hub    ConnectivityNotifier
	dialer *websocket.Dialer

	status atomic.Int32

	mu           sync.Mutex
	conn         *websocket.Conn
	sessionID    string
	keepalive    time.Duration
	reconnecting bool
	active       map[string]models.SubscriptionInfo
}

// New creates a session client. Run starts it.
func New(cfg *config.EventSubConfig, twitch *config.TwitchConfig, api SubscriptionAPI, bus Publisher, hub ConnectivityNotifier) *Client {
	return &Client{
		cfg:    cfg,
		twitch: twitch,
		api:    api,
		bus:    bus,
		hub:    hub,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		active: make(map[string]models.SubscriptionInfo),
	}
}

// Status returns the current state machine position.
func (c *Client) Status() Status {
	return Status(c.status.Load())
}

func (c *Client) setStatus(s Status) {
	c.status.Store(int32(s))
	metrics.SessionStatus.Set(float64(s))
}

// SessionID returns the live transport session id, empty when disconnected.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// ActiveSubscriptions returns a copy of the active subscription set keyed
// by subscription type.
func (c *Client) ActiveSubscriptions() map[string]models.SubscriptionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.SubscriptionInfo, len(c.active))
	for k, v := range c.active {
		out[k] = v
	}
	return out
}

// ReconnectBackoff computes the delay before reconnect attempt n
// (1-indexed): min(base * 2^(n-1), cap).
func ReconnectBackoff(base, cap time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}

// Run connects and serves the session until ctx is cancelled or the
// reconnect budget is exhausted. Only those two conditions make Run
// return; everything else is absorbed by the reconnect loop.
func (c *Client) Run(ctx context.Context) error {
	defer c.teardown()

	dialURL := c.twitch.EventSubURL
	fullRegistration := true
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		welcome, err := c.connect(ctx, dialURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			attempt++
			if attempt > c.cfg.MaxReconnectAttempts {
				logging.Error().Err(err).Int("attempts", attempt-1).Msg("eventsub reconnect budget exhausted")
				c.hub.BroadcastConnectivity(connectivityError, "reconnect attempts exhausted")
				return ErrReconnectExhausted
			}

			delay := ReconnectBackoff(c.cfg.ReconnectBase, c.cfg.ReconnectCap, attempt)
			logging.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("eventsub connect failed, backing off")
			c.setStatus(StatusReconnecting)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// A failed reconnect-URL dial falls back to the primary
			// endpoint with a full registration cycle.
			dialURL = c.twitch.EventSubURL
			fullRegistration = true
			continue
		}

		attempt = 0
		c.adoptSession(welcome.Session)
		c.setStatus(StatusConnected)
		logging.Info().Str("session_id", welcome.Session.ID).Msg("eventsub session established")

		if fullRegistration {
			c.registerSubscriptions(ctx, welcome.Session.ID)
		}
		c.hub.BroadcastConnectivity(connectivityReady, "")

		readErr := c.readLoop(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.hub.BroadcastConnectivity(connectivityDisconnected, readErr.Error())
		c.endReconnect() // clear any in-flight guard before the next cycle
		c.setStatus(StatusReconnecting)
		dialURL = c.twitch.EventSubURL
		fullRegistration = true
	}
}

// connect dials and completes the welcome handshake. The welcome must
// arrive within the handshake timeout and must carry a session id.
func (c *Client) connect(ctx context.Context, dialURL string) (models.WelcomeMessage, error) {
	c.setStatus(StatusConnecting)

	conn, resp, err := c.dialer.DialContext(ctx, dialURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return models.WelcomeMessage{}, fmt.Errorf("dial %s: %w", dialURL, err)
	}

	welcome, err := readWelcome(conn, c.cfg.HandshakeTimeout)
	if err != nil {
		_ = conn.Close()
		return models.WelcomeMessage{}, err
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	return welcome, nil
}

// readWelcome consumes frames until a welcome arrives or the handshake
// window closes. EventSub sends the welcome first, but anything else seen
// before it is dropped rather than fatal.
func readWelcome(conn *websocket.Conn, timeout time.Duration) (models.WelcomeMessage, error) {
	deadline := time.Now().Add(timeout)
	if err := conn.SetReadDeadline(deadline); err != nil {
		return models.WelcomeMessage{}, fmt.Errorf("set handshake deadline: %w", err)
	}

	for time.Now().Before(deadline) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return models.WelcomeMessage{}, fmt.Errorf("handshake read: %w", err)
		}

		msg, err := models.DecodeWireMessage(data)
		if err != nil {
			metrics.FramesDropped.Inc()
			logging.Warn().Err(err).Msg("dropped malformed frame during handshake")
			continue
		}

		welcome, ok := msg.(models.WelcomeMessage)
		if !ok {
			logging.Warn().Str("message_type", msg.Meta().MessageType).Msg("unexpected frame before welcome, dropping")
			continue
		}
		if welcome.Session.ID == "" {
			return models.WelcomeMessage{}, errors.New("welcome frame missing session id")
		}
		return welcome, nil
	}

	return models.WelcomeMessage{}, errors.New("no welcome within handshake window")
}

// adoptSession records the session identity and keepalive cadence.
func (c *Client) adoptSession(session models.SessionInfo) {
	cadence := time.Duration(session.KeepaliveTimeoutSeconds) * time.Second
	if cadence <= 0 {
		cadence = 10 * time.Second
	}

	c.mu.Lock()
	c.sessionID = session.ID
	c.keepalive = cadence
	c.mu.Unlock()
}

// livenessDeadline is the advertised keepalive cadence plus slack for
// network jitter. Any received frame pushes it forward.
func (c *Client) livenessDeadline() time.Time {
	c.mu.Lock()
	cadence := c.keepalive
	c.mu.Unlock()
	return time.Now().Add(cadence + c.cfg.KeepaliveSlack)
}

// readLoop serves one established connection until it dies. The returned
// error describes why; ctx cancellation is surfaced via ctx.Err() by the
// caller.
func (c *Client) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	// ctx cancellation unblocks the read by closing the socket.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		if err := conn.SetReadDeadline(c.livenessDeadline()); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			if !c.beginReconnect() {
				return err
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				metrics.KeepaliveTimeouts.Inc()
				metrics.SessionReconnects.WithLabelValues("keepalive_timeout").Inc()
				logging.Warn().Msg("keepalive deadline expired, forcing reconnect")
			} else {
				metrics.SessionReconnects.WithLabelValues("transport_close").Inc()
				logging.Warn().Err(err).Msg("eventsub transport closed")
			}
			_ = conn.Close()
			return err
		}

		msg, decodeErr := models.DecodeWireMessage(data)
		if decodeErr != nil {
			metrics.FramesDropped.Inc()
			logging.Warn().Err(decodeErr).Msg("dropped malformed eventsub frame")
			continue
		}

		switch m := msg.(type) {
		case models.KeepaliveMessage:
			// Nothing to do; the deadline resets on the next iteration.

		case models.NotificationMessage:
			c.publishNotification(m)

		case models.RevocationMessage:
			c.handleRevocation(m)

		case models.ReconnectMessage:
			next, err := c.switchConnection(ctx, m.Session)
			if err != nil {
				metrics.SessionReconnects.WithLabelValues("reconnect_directive").Inc()
				logging.Warn().Err(err).Msg("reconnect directive failed, entering backoff path")
				_ = conn.Close()
				return err
			}
			conn = next
			stop()
			stop = context.AfterFunc(ctx, func() { _ = conn.Close() })

		case models.WelcomeMessage:
			logging.Warn().Str("session_id", m.Session.ID).Msg("unexpected mid-session welcome, adopting session")
			c.adoptSession(m.Session)
		}
	}
}

// switchConnection handles a session_reconnect directive: dial the carried
// URL and wait for its welcome before dropping the old socket, so no frames
// are lost in the gap. The new session continues the old subscriptions; no
// re-registration happens on this path.
func (c *Client) switchConnection(ctx context.Context, session models.SessionInfo) (*websocket.Conn, error) {
	if session.ReconnectURL == "" {
		return nil, errors.New("reconnect directive missing url")
	}

	logging.Info().Str("url", session.ReconnectURL).Msg("following eventsub reconnect directive")
	metrics.SessionReconnects.WithLabelValues("reconnect_directive").Inc()

	newConn, resp, err := c.dialer.DialContext(ctx, session.ReconnectURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial reconnect url: %w", err)
	}

	welcome, err := readWelcome(newConn, c.cfg.HandshakeTimeout)
	if err != nil {
		_ = newConn.Close()
		return nil, err
	}

	c.mu.Lock()
	old := c.conn
	c.conn = newConn
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	c.adoptSession(welcome.Session)
	logging.Info().Str("session_id", welcome.Session.ID).Msg("eventsub session migrated")
	return newConn, nil
}

// publishNotification forwards one notification to the bus. The EventSub
// message id becomes the message UUID, giving the durable transport a
// stable dedup key across redeliveries.
func (c *Client) publishNotification(m models.NotificationMessage) {
	id := m.Metadata.MessageID
	if id == "" {
		id = watermill.NewUUID()
	}

	msg := message.NewMessage(id, []byte(m.Event))
	msg.Metadata.Set("subscription_type", m.Subscription.Type)
	msg.Metadata.Set("subscription_version", m.Subscription.Version)
	msg.Metadata.Set("timestamp", m.Metadata.MessageTimestamp.Format(time.RFC3339Nano))

	if err := c.bus.Publish(eventbus.TopicNotifications, msg); err != nil {
		logging.Error().Err(err).Str("subscription_type", m.Subscription.Type).Msg("failed to publish notification")
	}
}

// handleRevocation drops the revoked subscription from the active set. No
// automatic resubscribe; registration only runs at session establishment.
func (c *Client) handleRevocation(m models.RevocationMessage) {
	c.mu.Lock()
	delete(c.active, m.Subscription.Type)
	remaining := len(c.active)
	c.mu.Unlock()

	metrics.SubscriptionRevocations.WithLabelValues(m.Subscription.Type).Inc()
	metrics.SubscriptionsActive.Set(float64(remaining))
	logging.Warn().
		Str("subscription_type", m.Subscription.Type).
		Str("status", m.Subscription.Status).
		Msg("eventsub subscription revoked")
	c.hub.BroadcastConnectivity(connectivityError, "subscription revoked: "+m.Subscription.Type)
}

// beginReconnect is the single in-flight guard: the keepalive-expiry path
// and the transport-close path both pass through here, and only the first
// caller proceeds.
func (c *Client) beginReconnect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnecting {
		return false
	}
	c.reconnecting = true
	return true
}

func (c *Client) endReconnect() {
	c.mu.Lock()
	c.reconnecting = false
	c.mu.Unlock()
}

// teardown clears all session state on the way out of Run.
func (c *Client) teardown() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.sessionID = ""
	c.active = make(map[string]models.SubscriptionInfo)
	c.mu.Unlock()

	metrics.SubscriptionsActive.Set(0)
	c.setStatus(StatusClosed)
	logging.Info().Msg("eventsub session client stopped")
}
