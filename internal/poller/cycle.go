// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/rmellis/castellan/internal/eventbus"
	"github.com/rmellis/castellan/internal/events"
	"github.com/rmellis/castellan/internal/metrics"
	"github.com/rmellis/castellan/internal/models"
)

// remoteMember is the (id, login, name) view of one remote list entry.
// tier and gift are only populated for subscriber entries.
type remoteMember struct {
	id    string
	login string
	name  string
	tier  string
	gift  bool
}

func (m remoteMember) subject() events.Subject {
	return events.Subject{ID: m.id, Login: m.login, Name: m.name}
}

// diffSets computes added = remote - local and removed = local - remote.
// The two results never overlap.
func diffSets(local map[string]struct{}, remote map[string]remoteMember) (added []remoteMember, removed []string) {
	for id, member := range remote {
		if _, ok := local[id]; !ok {
			added = append(added, member)
		}
	}
	for id := range local {
		if _, ok := remote[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}

// reconcileRoles diffs the moderator, VIP and subscriber sets in one cycle.
// All three remote fetches must succeed before anything is diffed, so a
// partial fetch never fabricates removals.
func (p *Poller) reconcileRoles(ctx context.Context) (int, int, error) {
	mods, err := p.api.GetModerators(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch moderators: %w", err)
	}
	vips, err := p.api.GetVIPs(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch vips: %w", err)
	}
	subs, err := p.api.GetBroadcasterSubscriptions(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch subscriptions: %w", err)
	}

	now := p.now().UTC()
	var batch []models.CanonicalEvent
	var totalAdded, totalRemoved int

	type roleSet struct {
		role   models.Role
		remote map[string]remoteMember
	}
	sets := []roleSet{
		{models.RoleModerator, usersToMembers(mods)},
		{models.RoleVIP, usersToMembers(vips)},
		{models.RoleSubscriber, subsToMembers(subs)},
	}

	for _, set := range sets {
		local, err := p.store.GetRoleMembers(ctx, set.role, p.channelID)
		if err != nil {
			return 0, 0, fmt.Errorf("load local %s set: %w", set.role, err)
		}

		added, removed := diffSets(local, set.remote)
		totalAdded += len(added)
		totalRemoved += len(removed)

		for _, member := range added {
			batch = append(batch, p.grantEvent(set.role, member, now))
		}
		for _, id := range removed {
			batch = append(batch, p.revokeEvent(set.role, remoteMember{id: id}, now))
		}
	}

	if err := p.publishBatch(models.PollerRoles, batch); err != nil {
		return 0, 0, err
	}
	return totalAdded, totalRemoved, nil
}

func (p *Poller) grantEvent(role models.Role, m remoteMember, now time.Time) models.CanonicalEvent {
	if role == models.RoleSubscriber {
		return events.Subscribe(m.subject(), m.tier, m.gift, p.channelID, models.OriginReconcile, now)
	}
	return events.RoleGranted(m.subject(), role, p.channelID, models.OriginReconcile, now)
}

func (p *Poller) revokeEvent(role models.Role, m remoteMember, now time.Time) models.CanonicalEvent {
	if role == models.RoleSubscriber {
		return events.Unsubscribe(m.subject(), p.channelID, models.OriginReconcile, now)
	}
	return events.RoleRevoked(m.subject(), role, p.channelID, models.OriginReconcile, now)
}

// reconcileFollowers diffs the single follower set.
func (p *Poller) reconcileFollowers(ctx context.Context) (int, int, error) {
	followers, err := p.api.GetChannelFollowers(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch followers: %w", err)
	}

	local, err := p.store.GetFollowerIDs(ctx, p.channelID)
	if err != nil {
		return 0, 0, fmt.Errorf("load local follower set: %w", err)
	}

	remote := make(map[string]remoteMember, len(followers))
	for _, f := range followers {
		remote[f.UserID] = remoteMember{id: f.UserID, login: f.UserLogin, name: f.UserName}
	}

	added, removed := diffSets(local, remote)
	now := p.now().UTC()

	var batch []models.CanonicalEvent
	for _, member := range added {
		batch = append(batch, events.Follow(member.subject(), p.channelID, models.OriginReconcile, now))
	}
	for _, id := range removed {
		batch = append(batch, events.Unfollow(events.Subject{ID: id}, p.channelID, models.OriginReconcile, now))
	}

	if err := p.publishBatch(models.PollerFollowers, batch); err != nil {
		return 0, 0, err
	}
	return len(added), len(removed), nil
}

// reconcileModeration classifies every currently listed entry as ban or
// timeout and resolves entries that dropped off the list since the local
// state was written.
func (p *Poller) reconcileModeration(ctx context.Context) (int, int, error) {
	banned, err := p.api.GetBannedUsers(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("fetch banned users: %w", err)
	}

	active, err := p.store.GetActiveModeration(ctx, p.channelID)
	if err != nil {
		return 0, 0, fmt.Errorf("load active moderation: %w", err)
	}

	now := p.now().UTC()
	var batch []models.CanonicalEvent
	var added, removed int

	listed := make(map[string]struct{}, len(banned))
	for _, entry := range banned {
		listed[entry.UserID] = struct{}{}

		state, duration := ClassifyModeration(entry.ExpiresAt, entry.CreatedAt, now)
		if current, ok := active[entry.UserID]; ok && current == state {
			continue // already known in this state
		}

		subject := events.Subject{ID: entry.UserID, Login: entry.UserLogin, Name: entry.UserName}
		if state == models.ModerationBanned {
			batch = append(batch, events.Ban(subject, entry.Reason, p.channelID, models.OriginReconcile, now))
		} else {
			batch = append(batch, events.Timeout(subject, duration, entry.Reason, p.channelID, models.OriginReconcile, now))
		}
		added++
	}

	// Entries with an active local record that vanished from the remote
	// list: the cached state decides between unban and timeout lifted.
	for viewerID, state := range active {
		if _, ok := listed[viewerID]; ok {
			continue
		}
		subject := events.Subject{ID: viewerID}
		if state == models.ModerationBanned {
			batch = append(batch, events.Unban(subject, p.channelID, models.OriginReconcile, now))
		} else {
			batch = append(batch, events.TimeoutLifted(subject, p.channelID, models.OriginReconcile, now))
		}
		removed++
	}

	if err := p.publishBatch(models.PollerModeration, batch); err != nil {
		return 0, 0, err
	}
	return added, removed, nil
}

// publishBatch ships one cycle's synthesized events as a single message.
func (p *Poller) publishBatch(category models.PollerCategory, batch []models.CanonicalEvent) error {
	if len(batch) == 0 {
		return nil
	}

	for _, ev := range batch {
		metrics.PollEventsSynthesized.WithLabelValues(string(category), string(ev.Type)).Inc()
	}
	if err := p.bus.PublishEvents(eventbus.TopicReconciliation, batch); err != nil {
		return fmt.Errorf("publish %s batch: %w", category, err)
	}
	return nil
}

func usersToMembers(users []models.HelixUser) map[string]remoteMember {
	out := make(map[string]remoteMember, len(users))
	for _, u := range users {
		out[u.UserID] = remoteMember{id: u.UserID, login: u.UserLogin, name: u.UserName}
	}
	return out
}

func subsToMembers(subs []models.BroadcasterSubscription) map[string]remoteMember {
	out := make(map[string]remoteMember, len(subs))
	for _, s := range subs {
		out[s.UserID] = remoteMember{id: s.UserID, login: s.UserLogin, name: s.UserName, tier: s.Tier, gift: s.IsGift}
	}
	return out
}
