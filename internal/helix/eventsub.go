// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package helix

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rmellis/castellan/internal/models"
)

// SubscriptionVersion returns the wire version registered for an EventSub
// subscription type. channel.follow is the only currently-tracked type that
// moved past v1.
func SubscriptionVersion(subType string) string {
	if subType == models.SubTypeFollow {
		return "2"
	}
	return "1"
}

// ConditionFor builds the condition payload for one subscription type.
// Most types key on the broadcaster alone; a few need a second identifier:
//
//   - channel.follow (v2) requires a moderator_user_id (Castellan supplies
//     the bot user, which must hold moderator on the channel)
//   - channel.chat.message requires the reading user's id
//   - channel.raid targets the broadcaster as the raid destination
func (c *Client) ConditionFor(subType string) map[string]string {
	switch subType {
	case models.SubTypeFollow:
		return map[string]string{
			"broadcaster_user_id": c.broadcasterID,
			"moderator_user_id":   c.botUserID,
		}
	case models.SubTypeChatMessage:
		return map[string]string{
			"broadcaster_user_id": c.broadcasterID,
			"user_id":             c.botUserID,
		}
	case models.SubTypeRaid:
		return map[string]string{
			"to_broadcaster_user_id": c.broadcasterID,
		}
	default:
		return map[string]string{
			"broadcaster_user_id": c.broadcasterID,
		}
	}
}

// CreateEventSubSubscription registers one subscription against the live
// websocket session.
func (c *Client) CreateEventSubSubscription(ctx context.Context, subType, sessionID string) (*models.SubscriptionInfo, error) {
	req := models.EventSubSubscriptionRequest{
		Type:      subType,
		Version:   SubscriptionVersion(subType),
		Condition: c.ConditionFor(subType),
		Transport: models.EventSubTransport{Method: "websocket", SessionID: sessionID},
	}

	var resp models.EventSubSubscriptionResponse
	if err := c.do(ctx, http.MethodPost, "/eventsub/subscriptions", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("create subscription %s: %w", subType, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create subscription %s: empty response", subType)
	}

	return &resp.Data[0], nil
}

// DeleteEventSubSubscription removes one subscription by id.
func (c *Client) DeleteEventSubSubscription(ctx context.Context, id string) error {
	query := url.Values{"id": {id}}
	if err := c.do(ctx, http.MethodDelete, "/eventsub/subscriptions", query, nil, nil); err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	return nil
}
