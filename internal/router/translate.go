// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package router

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/rmellis/castellan/internal/events"
	"github.com/rmellis/castellan/internal/models"
)

// translateNotification maps one raw EventSub notification payload to a
// canonical push-origin event. The second return value is the platform chat
// message id, set only for chat messages. Unknown subscription types are an
// error; the caller drops them.
func translateNotification(subType string, payload []byte, channelID string, at time.Time) (models.CanonicalEvent, string, error) {
	const origin = models.OriginPush

	switch subType {
	case models.SubTypeFollow:
		var p models.FollowEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.CanonicalEvent{}, "", fmt.Errorf("decode %s: %w", subType, err)
		}
		when := at
		if !p.FollowedAt.IsZero() {
			when = p.FollowedAt
		}
		return events.Follow(subject(p.EventSubUser), channelID, origin, when), "", nil

	case models.SubTypeSubscribe:
		var p models.SubscribeEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.CanonicalEvent{}, "", fmt.Errorf("decode %s: %w", subType, err)
		}
		return events.Subscribe(subject(p.EventSubUser), p.Tier, p.IsGift, channelID, origin, at), "", nil

	case models.SubTypeSubscriptionEnd:
		var p models.SubscribeEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.CanonicalEvent{}, "", fmt.Errorf("decode %s: %w", subType, err)
		}
		ev := events.Unsubscribe(subject(p.EventSubUser), channelID, origin, at)
		ev.Tier = p.Tier
		return ev, "", nil

	case models.SubTypeSubscriptionMessage:
		var p models.ResubMessageEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.CanonicalEvent{}, "", fmt.Errorf("decode %s: %w", subType, err)
		}
		return events.Resubscribe(subject(p.EventSubUser), p.Tier, p.CumulativeMonths, channelID, origin, at), "", nil

	case models.SubTypeModeratorAdd, models.SubTypeModeratorRemove,
		models.SubTypeVIPAdd, models.SubTypeVIPRemove:
		var p models.RoleChangeEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.CanonicalEvent{}, "", fmt.Errorf("decode %s: %w", subType, err)
		}
		role := models.RoleModerator
		if subType == models.SubTypeVIPAdd || subType == models.SubTypeVIPRemove {
			role = models.RoleVIP
		}
		if subType == models.SubTypeModeratorAdd || subType == models.SubTypeVIPAdd {
			return events.RoleGranted(subject(p.EventSubUser), role, channelID, origin, at), "", nil
		}
		return events.RoleRevoked(subject(p.EventSubUser), role, channelID, origin, at), "", nil

	case models.SubTypeBan:
		var p models.BanEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.CanonicalEvent{}, "", fmt.Errorf("decode %s: %w", subType, err)
		}
		when := at
		if !p.BannedAt.IsZero() {
			when = p.BannedAt
		}
		var ev models.CanonicalEvent
		if p.IsPermanent || p.EndsAt == nil {
			ev = events.Ban(subject(p.EventSubUser), p.Reason, channelID, origin, when)
		} else {
			ev = events.Timeout(subject(p.EventSubUser), p.EndsAt.Sub(when), p.Reason, channelID, origin, when)
		}
		ev.ModeratorID = p.ModeratorUserID
		return ev, "", nil

	case models.SubTypeUnban:
		var p models.UnbanEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.CanonicalEvent{}, "", fmt.Errorf("decode %s: %w", subType, err)
		}
		ev := events.Unban(subject(p.EventSubUser), channelID, origin, at)
		ev.ModeratorID = p.ModeratorUserID
		return ev, "", nil

	case models.SubTypeChatMessage:
		var p models.ChatMessageEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.CanonicalEvent{}, "", fmt.Errorf("decode %s: %w", subType, err)
		}
		s := events.Subject{ID: p.ChatterUserID, Login: p.ChatterUserLogin, Name: p.ChatterUserName}
		return events.ChatMessage(s, p.Message.Text, channelID, origin, at), p.MessageID, nil

	case models.SubTypeRaid:
		var p models.RaidEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.CanonicalEvent{}, "", fmt.Errorf("decode %s: %w", subType, err)
		}
		s := events.Subject{ID: p.FromBroadcasterUserID, Login: p.FromBroadcasterUserLogin, Name: p.FromBroadcasterUserName}
		return events.Raid(s, p.Viewers, channelID, origin, at), "", nil

	case models.SubTypeStreamOnline:
		var p models.StreamStateEvent
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.CanonicalEvent{}, "", fmt.Errorf("decode %s: %w", subType, err)
		}
		when := at
		if !p.StartedAt.IsZero() {
			when = p.StartedAt
		}
		return events.StreamOnline(channelID, origin, when), "", nil

	case models.SubTypeStreamOffline:
		return events.StreamOffline(channelID, origin, at), "", nil

	default:
		return models.CanonicalEvent{}, "", fmt.Errorf("unknown subscription type %q", subType)
	}
}

func subject(u models.EventSubUser) events.Subject {
	return events.Subject{ID: u.UserID, Login: u.UserLogin, Name: u.UserName}
}
