// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package poller

import (
	"context"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/rmellis/castellan/internal/eventbus"
	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

type fakeListAPI struct {
	mods      []models.HelixUser
	vips      []models.HelixUser
	subs      []models.BroadcasterSubscription
	followers []models.ChannelFollower
	banned    []models.BannedUser
	err       error
}

func (f *fakeListAPI) GetModerators(context.Context) ([]models.HelixUser, error) {
	return f.mods, f.err
}

func (f *fakeListAPI) GetVIPs(context.Context) ([]models.HelixUser, error) {
	return f.vips, f.err
}

func (f *fakeListAPI) GetBroadcasterSubscriptions(context.Context) ([]models.BroadcasterSubscription, error) {
	return f.subs, f.err
}

func (f *fakeListAPI) GetChannelFollowers(context.Context) ([]models.ChannelFollower, error) {
	return f.followers, f.err
}

func (f *fakeListAPI) GetBannedUsers(context.Context) ([]models.BannedUser, error) {
	return f.banned, f.err
}

type fakeStore struct {
	roles      map[models.Role]map[string]struct{}
	followers  map[string]struct{}
	moderation map[string]models.ModerationState
	configs    []models.PollerConfig
	saved      []models.PollerConfig
}

func (f *fakeStore) GetRoleMembers(_ context.Context, role models.Role, _ string) (map[string]struct{}, error) {
	if members, ok := f.roles[role]; ok {
		return members, nil
	}
	return map[string]struct{}{}, nil
}

func (f *fakeStore) GetFollowerIDs(context.Context, string) (map[string]struct{}, error) {
	if f.followers == nil {
		return map[string]struct{}{}, nil
	}
	return f.followers, nil
}

func (f *fakeStore) GetActiveModeration(context.Context, string) (map[string]models.ModerationState, error) {
	if f.moderation == nil {
		return map[string]models.ModerationState{}, nil
	}
	return f.moderation, nil
}

func (f *fakeStore) GetPollerConfigs(context.Context) ([]models.PollerConfig, error) {
	return f.configs, nil
}

func (f *fakeStore) SavePollerConfig(_ context.Context, cfg models.PollerConfig) error {
	f.saved = append(f.saved, cfg)
	return nil
}

type publishedBatch struct {
	topic  string
	events []models.CanonicalEvent
}

type fakeBus struct {
	batches []publishedBatch
	err     error
}

func (f *fakeBus) PublishEvents(topic string, events []models.CanonicalEvent) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, publishedBatch{topic: topic, events: events})
	return nil
}

type summary struct {
	category       string
	added, removed int
}

type fakeHub struct {
	summaries []summary
}

func (f *fakeHub) BroadcastReconcileSummary(category string, added, removed int, _ time.Duration) {
	f.summaries = append(f.summaries, summary{category: category, added: added, removed: removed})
}

func user(id string) models.HelixUser {
	return models.HelixUser{UserID: id, UserLogin: "login_" + id, UserName: "Name_" + id}
}

func newTestPoller(api *fakeListAPI, store *fakeStore, bus *fakeBus, hub *fakeHub) *Poller {
	p := New(api, store, bus, hub, "chan-1")
	p.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	return p
}

func eventTypes(events []models.CanonicalEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, string(ev.Type)+":"+ev.ViewerID)
	}
	sort.Strings(out)
	return out
}

func checkTypes(t *testing.T, got []models.CanonicalEvent, want ...string) {
	t.Helper()
	sort.Strings(want)
	gotTypes := eventTypes(got)
	if len(gotTypes) != len(want) {
		t.Fatalf("got events %v, want %v", gotTypes, want)
	}
	for i := range want {
		if gotTypes[i] != want[i] {
			t.Fatalf("got events %v, want %v", gotTypes, want)
		}
	}
}

func TestClassifyModeration(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	created := now.Add(-2 * time.Minute).Format(time.RFC3339)

	tests := []struct {
		name         string
		expiresAt    string
		createdAt    string
		wantState    models.ModerationState
		wantDuration time.Duration
	}{
		{"empty expiry", "", created, models.ModerationBanned, 0},
		{"zero sentinel", "0001-01-01T00:00:00Z", created, models.ModerationBanned, 0},
		{"garbage expiry", "not-a-timestamp", created, models.ModerationBanned, 0},
		{"far future", now.Add(2 * 365 * 24 * time.Hour).Format(time.RFC3339), created, models.ModerationBanned, 0},
		{"near future", now.Add(10 * time.Minute).Format(time.RFC3339), created, models.ModerationTimedOut, 12 * time.Minute},
		{"missing created falls back to now", now.Add(10 * time.Minute).Format(time.RFC3339), "", models.ModerationTimedOut, 10 * time.Minute},
		{"already expired clamps to zero", now.Add(-time.Minute).Format(time.RFC3339), now.Format(time.RFC3339), models.ModerationTimedOut, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, duration := ClassifyModeration(tt.expiresAt, tt.createdAt, now)
			if state != tt.wantState {
				t.Fatalf("state = %s, want %s", state, tt.wantState)
			}
			if duration != tt.wantDuration {
				t.Fatalf("duration = %s, want %s", duration, tt.wantDuration)
			}
		})
	}
}

func TestRolesDiffSynthesizesGrantAndRevoke(t *testing.T) {
	api := &fakeListAPI{vips: []models.HelixUser{user("A"), user("B")}}
	store := &fakeStore{roles: map[models.Role]map[string]struct{}{
		models.RoleVIP: {"B": {}, "C": {}},
	}}
	bus := &fakeBus{}
	p := newTestPoller(api, store, bus, nil)

	added, removed, err := p.reconcileRoles(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added != 1 || removed != 1 {
		t.Fatalf("added=%d removed=%d, want 1 and 1", added, removed)
	}

	if len(bus.batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(bus.batches))
	}
	batch := bus.batches[0]
	if batch.topic != eventbus.TopicReconciliation {
		t.Fatalf("published to %q, want %q", batch.topic, eventbus.TopicReconciliation)
	}
	checkTypes(t, batch.events, "vip_granted:A", "vip_revoked:C")

	for _, ev := range batch.events {
		if ev.Origin != models.OriginReconcile {
			t.Fatalf("event %s has origin %s, want reconcile", ev.Type, ev.Origin)
		}
	}
}

func TestSubscriberDiffUsesSubscriptionEvents(t *testing.T) {
	api := &fakeListAPI{subs: []models.BroadcasterSubscription{
		{HelixUser: user("A"), Tier: "2000"},
	}}
	store := &fakeStore{roles: map[models.Role]map[string]struct{}{
		models.RoleSubscriber: {"B": {}},
	}}
	bus := &fakeBus{}
	p := newTestPoller(api, store, bus, nil)

	if _, _, err := p.reconcileRoles(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checkTypes(t, bus.batches[0].events, "subscribe:A", "unsubscribe:B")
}

func TestFollowerDiff(t *testing.T) {
	api := &fakeListAPI{followers: []models.ChannelFollower{
		{HelixUser: user("new")},
		{HelixUser: user("stays")},
	}}
	store := &fakeStore{followers: map[string]struct{}{"stays": {}, "gone": {}}}
	bus := &fakeBus{}
	p := newTestPoller(api, store, bus, nil)

	added, removed, err := p.reconcileFollowers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added != 1 || removed != 1 {
		t.Fatalf("added=%d removed=%d, want 1 and 1", added, removed)
	}
	checkTypes(t, bus.batches[0].events, "follow:new", "unfollow:gone")
}

func TestModerationClassifiesAndResolves(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	api := &fakeListAPI{banned: []models.BannedUser{
		{HelixUser: user("perm"), ExpiresAt: "", Reason: "spam"},
		{
			HelixUser: user("brief"),
			ExpiresAt: now.Add(10 * time.Minute).Format(time.RFC3339),
			CreatedAt: now.Add(-2 * time.Minute).Format(time.RFC3339),
		},
	}}
	store := &fakeStore{moderation: map[string]models.ModerationState{
		"released": models.ModerationBanned,
		"cooled":   models.ModerationTimedOut,
	}}
	bus := &fakeBus{}
	p := newTestPoller(api, store, bus, nil)

	added, removed, err := p.reconcileModeration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added != 2 || removed != 2 {
		t.Fatalf("added=%d removed=%d, want 2 and 2", added, removed)
	}
	checkTypes(t, bus.batches[0].events,
		"ban:perm", "timeout:brief", "unban:released", "timeout_lifted:cooled")

	for _, ev := range bus.batches[0].events {
		if ev.Type == models.EventTimeout && ev.TimeoutDuration != 12*time.Minute {
			t.Fatalf("timeout duration = %s, want 12m", ev.TimeoutDuration)
		}
	}
}

func TestModerationUnchangedStateNotRepublished(t *testing.T) {
	api := &fakeListAPI{banned: []models.BannedUser{
		{HelixUser: user("perm"), ExpiresAt: ""},
	}}
	store := &fakeStore{moderation: map[string]models.ModerationState{
		"perm": models.ModerationBanned,
	}}
	bus := &fakeBus{}
	p := newTestPoller(api, store, bus, nil)

	added, removed, err := p.reconcileModeration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if added != 0 || removed != 0 {
		t.Fatalf("added=%d removed=%d, want 0 and 0", added, removed)
	}
	if len(bus.batches) != 0 {
		t.Fatalf("empty diff should publish nothing, got %d batches", len(bus.batches))
	}
}

func TestFetchFailureSkipsCycle(t *testing.T) {
	api := &fakeListAPI{err: errors.New("helix unavailable")}
	store := &fakeStore{}
	bus := &fakeBus{}
	hub := &fakeHub{}
	p := newTestPoller(api, store, bus, hub)
	p.configs[models.PollerFollowers] = models.PollerConfig{Category: models.PollerFollowers}

	p.runCycle(context.Background(), models.PollerFollowers)

	if len(bus.batches) != 0 {
		t.Fatalf("failed cycle must publish nothing, got %d batches", len(bus.batches))
	}
	if len(store.saved) != 0 {
		t.Fatalf("failed cycle must not record a poll timestamp")
	}
	if len(hub.summaries) != 0 {
		t.Fatalf("failed cycle must not broadcast a summary")
	}
}

func TestSuccessfulCycleRecordsPollAndSummary(t *testing.T) {
	api := &fakeListAPI{}
	store := &fakeStore{}
	bus := &fakeBus{}
	hub := &fakeHub{}
	p := newTestPoller(api, store, bus, hub)
	p.configs[models.PollerFollowers] = models.PollerConfig{Category: models.PollerFollowers}

	p.runCycle(context.Background(), models.PollerFollowers)

	if len(store.saved) != 1 {
		t.Fatalf("expected one persisted config, got %d", len(store.saved))
	}
	if store.saved[0].LastPollAt.IsZero() {
		t.Fatal("LastPollAt not stamped")
	}
	if len(hub.summaries) != 1 {
		t.Fatalf("expected one summary, got %d", len(hub.summaries))
	}
	if hub.summaries[0].category != string(models.PollerFollowers) {
		t.Fatalf("summary category = %q", hub.summaries[0].category)
	}
}

func TestUpdateConfigValidation(t *testing.T) {
	p := newTestPoller(&fakeListAPI{}, &fakeStore{}, &fakeBus{}, nil)
	p.configs[models.PollerRoles] = models.PollerConfig{
		Category:    models.PollerRoles,
		Interval:    5 * time.Minute,
		MinInterval: time.Minute,
		MaxInterval: time.Hour,
		LastPollAt:  time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC),
	}

	bad := models.PollerConfig{
		Category:    models.PollerRoles,
		Interval:    time.Second,
		MinInterval: time.Minute,
		MaxInterval: time.Hour,
	}
	if err := p.UpdateConfig(context.Background(), bad); err == nil {
		t.Fatal("interval below minimum must be rejected")
	}

	unknown := models.PollerConfig{
		Category:    "weather",
		Interval:    time.Minute,
		MinInterval: time.Minute,
		MaxInterval: time.Hour,
	}
	if err := p.UpdateConfig(context.Background(), unknown); err == nil {
		t.Fatal("unknown category must be rejected")
	}

	good := models.PollerConfig{
		Category:    models.PollerRoles,
		Interval:    10 * time.Minute,
		MinInterval: time.Minute,
		MaxInterval: time.Hour,
	}
	if err := p.UpdateConfig(context.Background(), good); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated := p.configs[models.PollerRoles]
	if updated.Interval != 10*time.Minute {
		t.Fatalf("interval = %s, want 10m", updated.Interval)
	}
	if updated.LastPollAt.IsZero() {
		t.Fatal("LastPollAt must survive a config update")
	}
}

func TestRunStartsOnlyEnabledLoops(t *testing.T) {
	store := &fakeStore{configs: []models.PollerConfig{
		{Category: models.PollerRoles, Interval: time.Hour, MinInterval: time.Minute, MaxInterval: 24 * time.Hour, Enabled: true},
		{Category: models.PollerFollowers, Interval: time.Hour, MinInterval: time.Minute, MaxInterval: 24 * time.Hour, Enabled: false},
	}}
	p := newTestPoller(&fakeListAPI{}, store, &fakeBus{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.After(time.Second)
	for {
		p.mu.Lock()
		running := len(p.cancels)
		p.mu.Unlock()
		if running == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected exactly one running loop, got %d", running)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}

	configs := p.Configs()
	if len(configs) != 2 {
		t.Fatalf("expected 2 configs, got %d", len(configs))
	}
	if configs[0].Category != models.PollerRoles {
		t.Fatalf("configs not in stable order: %v", configs[0].Category)
	}
}
