// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package database

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rmellis/castellan/internal/config"
	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

const testChannel = "chan-1"

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "castellan-test.duckdb"),
		MaxMemory: "256MB",
		Threads:   1,
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpsertViewerConverges(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.UpsertViewer(ctx, "42", "somebody", "Somebody")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	renamed, err := db.UpsertViewer(ctx, "42", "somebody_else", "SomebodyElse")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if renamed.Login != "somebody_else" {
		t.Fatalf("login = %q, want rename applied", renamed.Login)
	}
	if !renamed.FirstSeen.Equal(first.FirstSeen) {
		t.Fatalf("first_seen changed on upsert: %v vs %v", renamed.FirstSeen, first.FirstSeen)
	}

	got, err := db.GetViewer(ctx, "42")
	if err != nil {
		t.Fatalf("get viewer: %v", err)
	}
	if got.DisplayName != "SomebodyElse" {
		t.Fatalf("display_name = %q", got.DisplayName)
	}
}

func TestUpsertViewerEmptyDisplayNameFallsBackToLogin(t *testing.T) {
	db := newTestDB(t)

	v, err := db.UpsertViewer(context.Background(), "7", "lurker", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if v.DisplayName != "lurker" {
		t.Fatalf("display_name = %q, want login fallback", v.DisplayName)
	}
}

func TestApplyRoleChangeIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := db.ApplyRoleChange(ctx, "42", models.RoleVIP, true, testChannel); err != nil {
			t.Fatalf("grant #%d: %v", i+1, err)
		}
	}

	members, err := db.GetRoleMembers(ctx, models.RoleVIP, testChannel)
	if err != nil {
		t.Fatalf("get members: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("members = %v, duplicate grant must converge", members)
	}

	if err := db.ApplyRoleChange(ctx, "42", models.RoleVIP, false, testChannel); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	members, err = db.GetRoleMembers(ctx, models.RoleVIP, testChannel)
	if err != nil {
		t.Fatalf("get members after revoke: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("members = %v after revoke, want empty", members)
	}
}

func TestRolesAreIndependentPerChannel(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.ApplyRoleChange(ctx, "42", models.RoleModerator, true, "chan-a"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	members, err := db.GetRoleMembers(ctx, models.RoleModerator, "chan-b")
	if err != nil {
		t.Fatalf("get members: %v", err)
	}
	if len(members) != 0 {
		t.Fatal("grant leaked into another channel")
	}
}

func TestRecordEventAndCount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	id, err := db.RecordEvent(ctx, &models.CanonicalEvent{
		Type:      models.EventFollow,
		ViewerID:  "42",
		Detail:    "somebody followed the channel",
		ChannelID: testChannel,
		Origin:    models.OriginPush,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("record event: %v", err)
	}
	if id == uuid.Nil {
		t.Fatal("event id is nil")
	}

	count, err := db.CountEvents(ctx, testChannel)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestRecordEventsBatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	batch := []*models.CanonicalEvent{
		{Type: models.EventVIPGranted, ViewerID: "A", Detail: "A was granted VIP", ChannelID: testChannel, Origin: models.OriginReconcile},
		{Type: models.EventVIPRevoked, ViewerID: "C", Detail: "C lost VIP", ChannelID: testChannel, Origin: models.OriginReconcile},
	}
	if err := db.RecordEventsBatch(ctx, batch); err != nil {
		t.Fatalf("record batch: %v", err)
	}
	if err := db.RecordEventsBatch(ctx, nil); err != nil {
		t.Fatalf("empty batch must be a no-op: %v", err)
	}

	count, err := db.CountEvents(ctx, testChannel)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestFollowerSet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"A", "B", "A"} {
		if err := db.SetFollower(ctx, id, testChannel, now, true); err != nil {
			t.Fatalf("set follower %s: %v", id, err)
		}
	}

	ids, err := db.GetFollowerIDs(ctx, testChannel)
	if err != nil {
		t.Fatalf("get followers: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("followers = %v, want A and B", ids)
	}

	if err := db.SetFollower(ctx, "A", testChannel, now, false); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	ids, err = db.GetFollowerIDs(ctx, testChannel)
	if err != nil {
		t.Fatalf("get followers: %v", err)
	}
	if _, ok := ids["A"]; ok {
		t.Fatal("A still present after unfollow")
	}
}

func TestSubscriptionStatusUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SetSubscriptionStatus(ctx, "42", testChannel, "1000", false, true); err != nil {
		t.Fatalf("set status: %v", err)
	}
	// Tier upgrade overwrites the same row.
	if err := db.SetSubscriptionStatus(ctx, "42", testChannel, "3000", false, true); err != nil {
		t.Fatalf("upgrade: %v", err)
	}

	var tier string
	var active bool
	row := db.conn.QueryRowContext(ctx,
		`SELECT tier, active FROM subscription_records WHERE viewer_id = ? AND channel_id = ?`,
		"42", testChannel)
	if err := row.Scan(&tier, &active); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if tier != "3000" || !active {
		t.Fatalf("tier = %q active = %v", tier, active)
	}
}

func TestModerationLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := db.RecordModerationAction(ctx, "42", testChannel,
		models.ModerationBanned, "spam", "mod-1", nil, now); err != nil {
		t.Fatalf("record ban: %v", err)
	}

	active, err := db.GetActiveModeration(ctx, testChannel)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active["42"] != models.ModerationBanned {
		t.Fatalf("active = %v, want 42 banned", active)
	}

	// A later timeout supersedes the ban row; only one action stays active.
	expires := now.Add(10 * time.Minute)
	if err := db.RecordModerationAction(ctx, "42", testChannel,
		models.ModerationTimedOut, "", "mod-1", &expires, now); err != nil {
		t.Fatalf("record timeout: %v", err)
	}
	active, err = db.GetActiveModeration(ctx, testChannel)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if len(active) != 1 || active["42"] != models.ModerationTimedOut {
		t.Fatalf("active = %v, want only 42 timed_out", active)
	}

	if err := db.ResolveModerationAction(ctx, "42", testChannel); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	active, err = db.GetActiveModeration(ctx, testChannel)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active = %v after resolve, want empty", active)
	}

	// Resolving again must be a harmless no-op.
	if err := db.ResolveModerationAction(ctx, "42", testChannel); err != nil {
		t.Fatalf("duplicate resolve: %v", err)
	}
}

func TestInsertChatMessage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.InsertChatMessage(ctx, "msg-1", "42", testChannel, "hello chat", time.Now().UTC()); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var text string
	row := db.conn.QueryRowContext(ctx,
		`SELECT text FROM chat_messages WHERE message_id = ?`, "msg-1")
	if err := row.Scan(&text); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if text != "hello chat" {
		t.Fatalf("text = %q", text)
	}
}

func TestPollerConfigSeedingAndSave(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	configs, err := db.GetPollerConfigs(ctx)
	if err != nil {
		t.Fatalf("get configs: %v", err)
	}
	if len(configs) != len(models.PollerCategories) {
		t.Fatalf("seeded %d configs, want %d", len(configs), len(models.PollerCategories))
	}

	updated := configs[0]
	updated.Interval = 42 * time.Minute
	updated.Enabled = false
	updated.LastPollAt = time.Now().UTC().Truncate(time.Millisecond)
	if err := db.SavePollerConfig(ctx, updated); err != nil {
		t.Fatalf("save: %v", err)
	}

	configs, err = db.GetPollerConfigs(ctx)
	if err != nil {
		t.Fatalf("reload configs: %v", err)
	}
	var got *models.PollerConfig
	for i := range configs {
		if configs[i].Category == updated.Category {
			got = &configs[i]
		}
	}
	if got == nil {
		t.Fatalf("category %s missing after save", updated.Category)
	}
	if got.Interval != 42*time.Minute || got.Enabled {
		t.Fatalf("reloaded config = %+v", got)
	}
	if got.LastPollAt.IsZero() {
		t.Fatal("last_poll_at not persisted")
	}
}

func TestChannelSessionRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SetCurrentSession(ctx, testChannel, "bot-9"); err != nil {
		t.Fatalf("set session: %v", err)
	}
	if err := db.SetCurrentSession(ctx, testChannel, "bot-10"); err != nil {
		t.Fatalf("update session: %v", err)
	}

	session, err := db.GetCurrentSession(ctx)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if session.ChannelID != testChannel || session.UserID != "bot-10" {
		t.Fatalf("session = %+v", session)
	}
}
