// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package models

import "time"

// Pagination is the Helix cursor envelope. List endpoints are followed
// until the cursor comes back empty.
type Pagination struct {
	Cursor string `json:"cursor,omitempty"`
}

// HelixUser is the (id, login, name) triple returned by Helix list
// endpoints for role membership.
type HelixUser struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

// ModeratorsResponse is the envelope of GET /moderation/moderators.
type ModeratorsResponse struct {
	Data       []HelixUser `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// VIPsResponse is the envelope of GET /channels/vips.
type VIPsResponse struct {
	Data       []HelixUser `json:"data"`
	Pagination Pagination  `json:"pagination"`
}

// BroadcasterSubscription is one row of GET /subscriptions.
type BroadcasterSubscription struct {
	HelixUser
	Tier       string `json:"tier"`
	IsGift     bool   `json:"is_gift"`
	GifterID   string `json:"gifter_id,omitempty"`
	GifterName string `json:"gifter_name,omitempty"`
	PlanName   string `json:"plan_name,omitempty"`
}

// SubscriptionsResponse is the envelope of GET /subscriptions.
type SubscriptionsResponse struct {
	Data       []BroadcasterSubscription `json:"data"`
	Total      int                       `json:"total"`
	Pagination Pagination                `json:"pagination"`
}

// ChannelFollower is one row of GET /channels/followers.
type ChannelFollower struct {
	HelixUser
	FollowedAt time.Time `json:"followed_at"`
}

// FollowersResponse is the envelope of GET /channels/followers.
type FollowersResponse struct {
	Data       []ChannelFollower `json:"data"`
	Total      int               `json:"total"`
	Pagination Pagination        `json:"pagination"`
}

// BannedUser is one row of GET /moderation/banned.
//
// ExpiresAt is the upstream's quirky expiry field: a ban may report an empty
// string, an epoch-like sentinel, or a far-future timestamp and still mean
// "permanent". CreatedAt is when the ban/timeout was issued.
type BannedUser struct {
	HelixUser
	ExpiresAt      string `json:"expires_at"`
	CreatedAt      string `json:"created_at"`
	Reason         string `json:"reason"`
	ModeratorID    string `json:"moderator_id"`
	ModeratorLogin string `json:"moderator_login"`
}

// BannedUsersResponse is the envelope of GET /moderation/banned.
type BannedUsersResponse struct {
	Data       []BannedUser `json:"data"`
	Pagination Pagination   `json:"pagination"`
}

// EventSubTransport selects the delivery transport for a subscription.
// Castellan always uses the websocket transport with the live session id.
type EventSubTransport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

// EventSubSubscriptionRequest is the body of POST /eventsub/subscriptions.
type EventSubSubscriptionRequest struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport EventSubTransport `json:"transport"`
}

// EventSubSubscriptionResponse is the envelope of POST /eventsub/subscriptions.
type EventSubSubscriptionResponse struct {
	Data []SubscriptionInfo `json:"data"`
}

// SendChatMessageRequest is the body of POST /chat/messages.
type SendChatMessageRequest struct {
	BroadcasterID string `json:"broadcaster_id"`
	SenderID      string `json:"sender_id"`
	Message       string `json:"message"`
}

// HelixError is the error envelope Helix returns on non-2xx responses.
type HelixError struct {
	ErrorText string `json:"error"`
	Status    int    `json:"status"`
	Message   string `json:"message"`
}
