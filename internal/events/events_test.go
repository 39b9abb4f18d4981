// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package events

import (
	"reflect"
	"testing"
	"time"

	"github.com/rmellis/castellan/internal/models"
)

var (
	testSubject = Subject{ID: "1001", Login: "somebody", Name: "Somebody"}
	testTime    = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
)

func TestOriginIndependentIdentity(t *testing.T) {
	// The same fact observed by either ingestion path must produce the
	// same event except for the Origin tag.
	push := RoleGranted(testSubject, models.RoleVIP, "chan-1", models.OriginPush, testTime)
	reconcile := RoleGranted(testSubject, models.RoleVIP, "chan-1", models.OriginReconcile, testTime)

	if push.Origin != models.OriginPush || reconcile.Origin != models.OriginReconcile {
		t.Fatalf("origin tags not preserved: %q / %q", push.Origin, reconcile.Origin)
	}

	push.Origin = ""
	reconcile.Origin = ""
	if !reflect.DeepEqual(push, reconcile) {
		t.Errorf("events differ beyond origin:\n push: %+v\n reco: %+v", push, reconcile)
	}
}

func TestDetailComposition(t *testing.T) {
	tests := []struct {
		name       string
		event      models.CanonicalEvent
		wantType   models.EventType
		wantDetail string
	}{
		{
			name:       "follow",
			event:      Follow(testSubject, "chan-1", models.OriginPush, testTime),
			wantType:   models.EventFollow,
			wantDetail: "Somebody followed the channel",
		},
		{
			name:       "subscribe tier code translated",
			event:      Subscribe(testSubject, "2000", false, "chan-1", models.OriginPush, testTime),
			wantType:   models.EventSubscribe,
			wantDetail: "Somebody subscribed at tier 2",
		},
		{
			name:       "gifted subscription",
			event:      Subscribe(testSubject, "1000", true, "chan-1", models.OriginPush, testTime),
			wantType:   models.EventSubscribe,
			wantDetail: "Somebody received a gifted tier 1 subscription",
		},
		{
			name:       "resubscribe with months",
			event:      Resubscribe(testSubject, "1000", 14, "chan-1", models.OriginPush, testTime),
			wantType:   models.EventResubscribe,
			wantDetail: "Somebody resubscribed at tier 1 (14 months)",
		},
		{
			name:       "mod granted",
			event:      RoleGranted(testSubject, models.RoleModerator, "chan-1", models.OriginReconcile, testTime),
			wantType:   models.EventModGranted,
			wantDetail: "Somebody was granted moderator",
		},
		{
			name:       "vip revoked",
			event:      RoleRevoked(testSubject, models.RoleVIP, "chan-1", models.OriginReconcile, testTime),
			wantType:   models.EventVIPRevoked,
			wantDetail: "Somebody lost VIP",
		},
		{
			name:       "ban with reason",
			event:      Ban(testSubject, "spam", "chan-1", models.OriginPush, testTime),
			wantType:   models.EventBan,
			wantDetail: "Somebody was banned (spam)",
		},
		{
			name:       "ban without reason",
			event:      Ban(testSubject, "", "chan-1", models.OriginPush, testTime),
			wantType:   models.EventBan,
			wantDetail: "Somebody was banned",
		},
		{
			name:       "timeout",
			event:      Timeout(testSubject, 600*time.Second, "", "chan-1", models.OriginPush, testTime),
			wantType:   models.EventTimeout,
			wantDetail: "Somebody was timed out for 600s",
		},
		{
			name:       "timeout lifted",
			event:      TimeoutLifted(testSubject, "chan-1", models.OriginReconcile, testTime),
			wantType:   models.EventTimeoutLifted,
			wantDetail: "Somebody's timeout was lifted",
		},
		{
			name:       "raid",
			event:      Raid(testSubject, 42, "chan-1", models.OriginPush, testTime),
			wantType:   models.EventRaid,
			wantDetail: "Somebody raided with 42 viewers",
		},
		{
			name:       "stream online has no subject",
			event:      StreamOnline("chan-1", models.OriginPush, testTime),
			wantType:   models.EventStreamOnline,
			wantDetail: "stream went live",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.event.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", tt.event.Type, tt.wantType)
			}
			if tt.event.Detail != tt.wantDetail {
				t.Errorf("Detail = %q, want %q", tt.event.Detail, tt.wantDetail)
			}
			if tt.event.ChannelID != "chan-1" {
				t.Errorf("ChannelID = %q, want chan-1", tt.event.ChannelID)
			}
			if !tt.event.CreatedAt.Equal(testTime) {
				t.Errorf("CreatedAt = %v, want %v", tt.event.CreatedAt, testTime)
			}
		})
	}
}

func TestChatMessageCarriesText(t *testing.T) {
	ev := ChatMessage(testSubject, "~hello", "chan-1", models.OriginPush, testTime)
	if ev.Message != "~hello" {
		t.Errorf("Message = %q, want ~hello", ev.Message)
	}
	if ev.Detail != "Somebody said: ~hello" {
		t.Errorf("Detail = %q", ev.Detail)
	}
}

func TestTimeoutCarriesDuration(t *testing.T) {
	ev := Timeout(testSubject, 10*time.Minute, "caps", "chan-1", models.OriginReconcile, testTime)
	if ev.TimeoutDuration != 10*time.Minute {
		t.Errorf("TimeoutDuration = %v, want 10m", ev.TimeoutDuration)
	}
}

func TestDisplayNameFallsBackToLogin(t *testing.T) {
	s := Subject{ID: "2002", Login: "nodisplay"}
	ev := Follow(s, "chan-1", models.OriginReconcile, testTime)
	if ev.Detail != "nodisplay followed the channel" {
		t.Errorf("Detail = %q", ev.Detail)
	}
}

func TestRoleForEvent(t *testing.T) {
	tests := []struct {
		eventType models.EventType
		wantRole  models.Role
		wantGrant bool
		wantOK    bool
	}{
		{models.EventModGranted, models.RoleModerator, true, true},
		{models.EventModRevoked, models.RoleModerator, false, true},
		{models.EventVIPGranted, models.RoleVIP, true, true},
		{models.EventVIPRevoked, models.RoleVIP, false, true},
		{models.EventChatMessage, "", false, false},
		{models.EventBan, "", false, false},
	}

	for _, tt := range tests {
		role, granted, ok := RoleForEvent(tt.eventType)
		if role != tt.wantRole || granted != tt.wantGrant || ok != tt.wantOK {
			t.Errorf("RoleForEvent(%q) = (%q, %v, %v), want (%q, %v, %v)",
				tt.eventType, role, granted, ok, tt.wantRole, tt.wantGrant, tt.wantOK)
		}
	}
}
