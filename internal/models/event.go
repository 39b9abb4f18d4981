// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package models

import "time"

// EventType identifies a canonical event family. The same constants are
// produced by both the push path (EventSub notifications) and the pull path
// (reconciliation diffs), so downstream consumers never need to know which
// side observed the change.
type EventType string

const (
	EventFollow        EventType = "follow"
	EventUnfollow      EventType = "unfollow"
	EventSubscribe     EventType = "subscribe"
	EventResubscribe   EventType = "resubscribe"
	EventUnsubscribe   EventType = "unsubscribe"
	EventModGranted    EventType = "mod_granted"
	EventModRevoked    EventType = "mod_revoked"
	EventVIPGranted    EventType = "vip_granted"
	EventVIPRevoked    EventType = "vip_revoked"
	EventBan           EventType = "ban"
	EventUnban         EventType = "unban"
	EventTimeout       EventType = "timeout"
	EventTimeoutLifted EventType = "timeout_lifted"
	EventChatMessage   EventType = "chat_message"
	EventRaid          EventType = "raid"
	EventStreamOnline  EventType = "stream_online"
	EventStreamOffline EventType = "stream_offline"
	EventGeneric       EventType = "generic"
)

// Origin records which ingestion path produced a canonical event. It is
// carried for routing decisions only (the speech pipeline must never be fed
// from the reconcile path) and is not part of the persisted event identity.
type Origin string

const (
	// OriginPush marks events translated from EventSub notifications.
	OriginPush Origin = "push"

	// OriginReconcile marks events synthesized by the reconciliation poller.
	OriginReconcile Origin = "reconcile"
)

// Role identifies a channel role tracked in the membership tables.
type Role string

const (
	RoleModerator  Role = "moderator"
	RoleVIP        Role = "vip"
	RoleSubscriber Role = "subscriber"
)

// CanonicalEvent is the single normalized event shape that flows from both
// ingestion paths through the router to every downstream consumer. Events are
// append-only facts: constructed, persisted once, then discarded.
type CanonicalEvent struct {
	// Type is the canonical event family.
	Type EventType `json:"type"`

	// ViewerID is the platform-assigned id of the subject viewer.
	// May be empty for events without a subject (stream online/offline).
	ViewerID string `json:"viewer_id,omitempty"`

	// ViewerLogin and ViewerName identify the subject for display; the
	// persistence layer uses them to upsert the viewer reference.
	ViewerLogin string `json:"viewer_login,omitempty"`
	ViewerName  string `json:"viewer_name,omitempty"`

	// Detail is the human-readable description built by the taxonomy
	// formatter ("gave moddage to somebody", "timed out for 600s", ...).
	Detail string `json:"detail"`

	// ChannelID is the broadcaster channel the event belongs to.
	ChannelID string `json:"channel_id"`

	// Origin tags the ingestion path (push vs reconcile).
	Origin Origin `json:"origin"`

	// CreatedAt is the event timestamp (remote timestamp where the wire
	// carries one, otherwise local receive time).
	CreatedAt time.Time `json:"created_at"`

	// Message carries the raw chat text for chat_message events; empty
	// otherwise.
	Message string `json:"message,omitempty"`

	// Tier and IsGift carry the subscription detail for subscribe and
	// resubscribe events so the persistence layer can record them without
	// parsing the detail text.
	Tier   string `json:"tier,omitempty"`
	IsGift bool   `json:"is_gift,omitempty"`

	// Reason and ModeratorID carry moderation detail for ban and timeout
	// events.
	Reason      string `json:"reason,omitempty"`
	ModeratorID string `json:"moderator_id,omitempty"`

	// TimeoutDuration is the computed timeout length for timeout events.
	TimeoutDuration time.Duration `json:"timeout_duration,omitempty"`
}

// Viewer is the core's read/create view of the viewer record owned by the
// persistence layer, keyed by the platform-assigned id.
type Viewer struct {
	ID          string    `json:"id"`
	Login       string    `json:"login"`
	DisplayName string    `json:"display_name"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// ChannelSession identifies the broadcaster channel and the authenticated
// bot user for the current process. Some EventSub condition payloads need
// the bot's own user id rather than the broadcaster's.
type ChannelSession struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// ModerationState is the locally cached classification of an active
// moderation entry, used by the poller to decide between "unban" and
// "timeout lifted" when an entry drops off the authoritative list.
type ModerationState string

const (
	ModerationBanned   ModerationState = "banned"
	ModerationTimedOut ModerationState = "timed_out"
)
