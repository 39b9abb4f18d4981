// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// EventSub websocket message types, as carried in metadata.message_type.
const (
	MessageSessionWelcome   = "session_welcome"
	MessageSessionKeepalive = "session_keepalive"
	MessageSessionReconnect = "session_reconnect"
	MessageNotification     = "notification"
	MessageRevocation       = "revocation"
)

// EventSub subscription types registered by the session client.
const (
	SubTypeFollow              = "channel.follow"
	SubTypeSubscribe           = "channel.subscribe"
	SubTypeSubscriptionEnd     = "channel.subscription.end"
	SubTypeSubscriptionMessage = "channel.subscription.message"
	SubTypeModeratorAdd        = "channel.moderator.add"
	SubTypeModeratorRemove     = "channel.moderator.remove"
	SubTypeVIPAdd              = "channel.vip.add"
	SubTypeVIPRemove           = "channel.vip.remove"
	SubTypeBan                 = "channel.ban"
	SubTypeUnban               = "channel.unban"
	SubTypeChatMessage         = "channel.chat.message"
	SubTypeRaid                = "channel.raid"
	SubTypeStreamOnline        = "stream.online"
	SubTypeStreamOffline       = "stream.offline"
)

// FrameMetadata is the metadata block present on every EventSub frame.
type FrameMetadata struct {
	MessageID           string    `json:"message_id"`
	MessageType         string    `json:"message_type"`
	MessageTimestamp    time.Time `json:"message_timestamp"`
	SubscriptionType    string    `json:"subscription_type,omitempty"`
	SubscriptionVersion string    `json:"subscription_version,omitempty"`
}

// frame is the raw envelope; the payload is decoded once per message type
// by DecodeWireMessage.
type frame struct {
	Metadata FrameMetadata   `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// SessionInfo describes the transport session carried by welcome and
// reconnect frames.
type SessionInfo struct {
	ID                      string    `json:"id"`
	Status                  string    `json:"status"`
	KeepaliveTimeoutSeconds int       `json:"keepalive_timeout_seconds"`
	ReconnectURL            string    `json:"reconnect_url,omitempty"`
	ConnectedAt             time.Time `json:"connected_at"`
}

// SubscriptionInfo describes the EventSub subscription a notification or
// revocation belongs to.
type SubscriptionInfo struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Status    string            `json:"status"`
	Condition map[string]string `json:"condition"`
	CreatedAt time.Time         `json:"created_at"`
}

// WireMessage is the tagged union of decoded EventSub frames. Exactly one
// concrete type exists per message_type; downstream code switches on the
// concrete type instead of probing optional fields.
type WireMessage interface {
	Meta() FrameMetadata
}

// WelcomeMessage carries the session id the client must use as the
// transport session_id in all subsequent subscription registrations.
type WelcomeMessage struct {
	Metadata FrameMetadata
	Session  SessionInfo
}

// KeepaliveMessage has no payload; it only resets the liveness timer.
type KeepaliveMessage struct {
	Metadata FrameMetadata
}

// ReconnectMessage carries the replacement endpoint URL. The client must
// dial it and wait for a fresh welcome before dropping the old socket.
type ReconnectMessage struct {
	Metadata FrameMetadata
	Session  SessionInfo
}

// NotificationMessage carries a domain event for the router. Event stays
// raw here; the session client decodes it per subscription type.
type NotificationMessage struct {
	Metadata     FrameMetadata
	Subscription SubscriptionInfo
	Event        json.RawMessage
}

// RevocationMessage announces that the remote service revoked a
// subscription; the client removes it from the active set.
type RevocationMessage struct {
	Metadata     FrameMetadata
	Subscription SubscriptionInfo
}

func (m WelcomeMessage) Meta() FrameMetadata      { return m.Metadata }
func (m KeepaliveMessage) Meta() FrameMetadata    { return m.Metadata }
func (m ReconnectMessage) Meta() FrameMetadata    { return m.Metadata }
func (m NotificationMessage) Meta() FrameMetadata { return m.Metadata }
func (m RevocationMessage) Meta() FrameMetadata   { return m.Metadata }

// sessionPayload matches the payload of welcome and reconnect frames.
type sessionPayload struct {
	Session SessionInfo `json:"session"`
}

// notificationPayload matches the payload of notification and revocation frames.
type notificationPayload struct {
	Subscription SubscriptionInfo `json:"subscription"`
	Event        json.RawMessage  `json:"event,omitempty"`
}

// DecodeWireMessage decodes a raw EventSub frame into its concrete message
// type. Unknown message types and malformed payloads are errors; the caller
// logs and drops them without tearing down the session.
func DecodeWireMessage(data []byte) (WireMessage, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	switch f.Metadata.MessageType {
	case MessageSessionWelcome:
		var p sessionPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode welcome payload: %w", err)
		}
		return WelcomeMessage{Metadata: f.Metadata, Session: p.Session}, nil

	case MessageSessionKeepalive:
		return KeepaliveMessage{Metadata: f.Metadata}, nil

	case MessageSessionReconnect:
		var p sessionPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode reconnect payload: %w", err)
		}
		return ReconnectMessage{Metadata: f.Metadata, Session: p.Session}, nil

	case MessageNotification:
		var p notificationPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode notification payload: %w", err)
		}
		return NotificationMessage{Metadata: f.Metadata, Subscription: p.Subscription, Event: p.Event}, nil

	case MessageRevocation:
		var p notificationPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode revocation payload: %w", err)
		}
		return RevocationMessage{Metadata: f.Metadata, Subscription: p.Subscription}, nil

	default:
		return nil, fmt.Errorf("unknown message type %q", f.Metadata.MessageType)
	}
}

// EventSubUser is the (id, login, name) triple EventSub uses for every actor
// reference in notification payloads.
type EventSubUser struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

// FollowEvent is the payload of channel.follow notifications.
type FollowEvent struct {
	EventSubUser
	BroadcasterUserID string    `json:"broadcaster_user_id"`
	FollowedAt        time.Time `json:"followed_at"`
}

// SubscribeEvent is the payload of channel.subscribe and
// channel.subscription.end notifications.
type SubscribeEvent struct {
	EventSubUser
	BroadcasterUserID string `json:"broadcaster_user_id"`
	Tier              string `json:"tier"`
	IsGift            bool   `json:"is_gift"`
}

// ResubMessageEvent is the payload of channel.subscription.message
// notifications (resub announcements).
type ResubMessageEvent struct {
	EventSubUser
	BroadcasterUserID string `json:"broadcaster_user_id"`
	Tier              string `json:"tier"`
	CumulativeMonths  int    `json:"cumulative_months"`
	StreakMonths      int    `json:"streak_months"`
	DurationMonths    int    `json:"duration_months"`
	Message           struct {
		Text string `json:"text"`
	} `json:"message"`
}

// RoleChangeEvent is the payload shape shared by channel.moderator.add,
// channel.moderator.remove, channel.vip.add and channel.vip.remove.
type RoleChangeEvent struct {
	EventSubUser
	BroadcasterUserID string `json:"broadcaster_user_id"`
}

// BanEvent is the payload of channel.ban notifications. EndsAt is nil for
// permanent bans and set for timeouts.
type BanEvent struct {
	EventSubUser
	BroadcasterUserID string     `json:"broadcaster_user_id"`
	ModeratorUserID   string     `json:"moderator_user_id"`
	ModeratorLogin    string     `json:"moderator_user_login"`
	Reason            string     `json:"reason"`
	BannedAt          time.Time  `json:"banned_at"`
	EndsAt            *time.Time `json:"ends_at"`
	IsPermanent       bool       `json:"is_permanent"`
}

// UnbanEvent is the payload of channel.unban notifications.
type UnbanEvent struct {
	EventSubUser
	BroadcasterUserID string `json:"broadcaster_user_id"`
	ModeratorUserID   string `json:"moderator_user_id"`
}

// ChatMessageEvent is the payload of channel.chat.message notifications.
type ChatMessageEvent struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
	ChatterUserID     string `json:"chatter_user_id"`
	ChatterUserLogin  string `json:"chatter_user_login"`
	ChatterUserName   string `json:"chatter_user_name"`
	MessageID         string `json:"message_id"`
	Message           struct {
		Text string `json:"text"`
	} `json:"message"`
	Color string `json:"color,omitempty"`
}

// RaidEvent is the payload of channel.raid notifications.
type RaidEvent struct {
	FromBroadcasterUserID    string `json:"from_broadcaster_user_id"`
	FromBroadcasterUserLogin string `json:"from_broadcaster_user_login"`
	FromBroadcasterUserName  string `json:"from_broadcaster_user_name"`
	ToBroadcasterUserID      string `json:"to_broadcaster_user_id"`
	Viewers                  int    `json:"viewers"`
}

// StreamStateEvent is the payload shape shared by stream.online and
// stream.offline notifications.
type StreamStateEvent struct {
	BroadcasterUserID    string    `json:"broadcaster_user_id"`
	BroadcasterUserLogin string    `json:"broadcaster_user_login"`
	Type                 string    `json:"type,omitempty"`
	StartedAt            time.Time `json:"started_at,omitempty"`
}
