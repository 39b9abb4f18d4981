// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

// Package events is the canonical event taxonomy: pure constructors mapping
// raw domain facts onto models.CanonicalEvent. Both the router (push path)
// and the poller (reconcile path) build events through these functions, so a
// "vip granted" for the same viewer is byte-identical regardless of which
// path observed it. The Origin tag is the only field that differs, and it is
// excluded from persisted identity.
//
// No I/O, no clocks: callers supply the timestamp.
package events

import (
	"fmt"
	"time"

	"github.com/rmellis/castellan/internal/models"
)

// Subject identifies the viewer an event is about.
type Subject struct {
	ID    string
	Login string
	Name  string
}

// displayName falls back on the login when the platform omitted a display
// name, which happens on some reconciliation list endpoints.
func (s Subject) displayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Login
}

func base(t models.EventType, s Subject, detail, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	return models.CanonicalEvent{
		Type:        t,
		ViewerID:    s.ID,
		ViewerLogin: s.Login,
		ViewerName:  s.Name,
		Detail:      detail,
		ChannelID:   channelID,
		Origin:      origin,
		CreatedAt:   at,
	}
}

// Follow builds a follow event.
func Follow(s Subject, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	return base(models.EventFollow, s, fmt.Sprintf("%s followed the channel", s.displayName()), channelID, origin, at)
}

// Unfollow builds an unfollow event. The platform sends no push notification
// for unfollows, so in practice these only come from the reconcile path.
func Unfollow(s Subject, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	return base(models.EventUnfollow, s, fmt.Sprintf("%s unfollowed the channel", s.displayName()), channelID, origin, at)
}

// Subscribe builds a new-subscription event. tier is the platform tier code
// ("1000", "2000", "3000"); gifted marks gift subs.
func Subscribe(s Subject, tier string, gifted bool, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	detail := fmt.Sprintf("%s subscribed at tier %s", s.displayName(), tierLabel(tier))
	if gifted {
		detail = fmt.Sprintf("%s received a gifted tier %s subscription", s.displayName(), tierLabel(tier))
	}
	ev := base(models.EventSubscribe, s, detail, channelID, origin, at)
	ev.Tier = tier
	ev.IsGift = gifted
	return ev
}

// Resubscribe builds a resubscription event with cumulative month count.
func Resubscribe(s Subject, tier string, months int, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	detail := fmt.Sprintf("%s resubscribed at tier %s (%d months)", s.displayName(), tierLabel(tier), months)
	ev := base(models.EventResubscribe, s, detail, channelID, origin, at)
	ev.Tier = tier
	return ev
}

// Unsubscribe builds a subscription-ended event.
func Unsubscribe(s Subject, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	return base(models.EventUnsubscribe, s, fmt.Sprintf("%s's subscription ended", s.displayName()), channelID, origin, at)
}

// RoleGranted builds a moderator or VIP grant event.
func RoleGranted(s Subject, role models.Role, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	t := models.EventModGranted
	if role == models.RoleVIP {
		t = models.EventVIPGranted
	}
	return base(t, s, fmt.Sprintf("%s was granted %s", s.displayName(), roleLabel(role)), channelID, origin, at)
}

// RoleRevoked builds a moderator or VIP revocation event.
func RoleRevoked(s Subject, role models.Role, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	t := models.EventModRevoked
	if role == models.RoleVIP {
		t = models.EventVIPRevoked
	}
	return base(t, s, fmt.Sprintf("%s lost %s", s.displayName(), roleLabel(role)), channelID, origin, at)
}

// Ban builds a permanent-ban event. reason may be empty.
func Ban(s Subject, reason, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	detail := fmt.Sprintf("%s was banned", s.displayName())
	if reason != "" {
		detail += fmt.Sprintf(" (%s)", reason)
	}
	ev := base(models.EventBan, s, detail, channelID, origin, at)
	ev.Reason = reason
	return ev
}

// Unban builds an unban event.
func Unban(s Subject, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	return base(models.EventUnban, s, fmt.Sprintf("%s was unbanned", s.displayName()), channelID, origin, at)
}

// Timeout builds a timed-out event. duration is rounded to whole seconds in
// the detail text.
func Timeout(s Subject, duration time.Duration, reason, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	detail := fmt.Sprintf("%s was timed out for %ds", s.displayName(), int64(duration.Seconds()))
	if reason != "" {
		detail += fmt.Sprintf(" (%s)", reason)
	}
	ev := base(models.EventTimeout, s, detail, channelID, origin, at)
	ev.TimeoutDuration = duration
	ev.Reason = reason
	return ev
}

// TimeoutLifted builds the event for a timeout that ended early or expired.
func TimeoutLifted(s Subject, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	return base(models.EventTimeoutLifted, s, fmt.Sprintf("%s's timeout was lifted", s.displayName()), channelID, origin, at)
}

// ChatMessage builds a chat-message event carrying the raw text.
func ChatMessage(s Subject, text, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	ev := base(models.EventChatMessage, s, fmt.Sprintf("%s said: %s", s.displayName(), text), channelID, origin, at)
	ev.Message = text
	return ev
}

// Raid builds an incoming-raid event. The subject is the raiding
// broadcaster.
func Raid(s Subject, viewers int, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	return base(models.EventRaid, s, fmt.Sprintf("%s raided with %d viewers", s.displayName(), viewers), channelID, origin, at)
}

// StreamOnline builds a broadcast-started event. There is no subject viewer.
func StreamOnline(channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	return base(models.EventStreamOnline, Subject{}, "stream went live", channelID, origin, at)
}

// StreamOffline builds a broadcast-ended event.
func StreamOffline(channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	return base(models.EventStreamOffline, Subject{}, "stream went offline", channelID, origin, at)
}

// Generic builds an event for facts outside the tracked taxonomy.
func Generic(s Subject, detail, channelID string, origin models.Origin, at time.Time) models.CanonicalEvent {
	return base(models.EventGeneric, s, detail, channelID, origin, at)
}

func tierLabel(tier string) string {
	switch tier {
	case "1000":
		return "1"
	case "2000":
		return "2"
	case "3000":
		return "3"
	case "":
		return "1"
	default:
		return tier
	}
}

func roleLabel(role models.Role) string {
	switch role {
	case models.RoleVIP:
		return "VIP"
	case models.RoleModerator:
		return "moderator"
	case models.RoleSubscriber:
		return "subscriber"
	default:
		return string(role)
	}
}

// RoleForEvent maps a membership event type back onto the role it mutates
// and whether it is a grant. ok is false for non-membership events.
func RoleForEvent(t models.EventType) (role models.Role, granted, ok bool) {
	switch t {
	case models.EventModGranted:
		return models.RoleModerator, true, true
	case models.EventModRevoked:
		return models.RoleModerator, false, true
	case models.EventVIPGranted:
		return models.RoleVIP, true, true
	case models.EventVIPRevoked:
		return models.RoleVIP, false, true
	default:
		return "", false, false
	}
}
