// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package helix

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/rmellis/castellan/internal/config"
	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

func testClient(baseURL string) *Client {
	return NewClient(&config.TwitchConfig{
		HelixURL:      baseURL,
		ClientID:      "test-client-id",
		AccessToken:   "test-token",
		BroadcasterID: "12345",
		BotUserID:     "67890",
	})
}

func checkNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func checkStringEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %q, want %q", field, got, want)
	}
}

func verifyHelixHeaders(t *testing.T, r *http.Request) {
	t.Helper()
	checkStringEqual(t, "Authorization", r.Header.Get("Authorization"), "Bearer test-token")
	checkStringEqual(t, "Client-Id", r.Header.Get("Client-Id"), "test-client-id")
}

func TestGetModeratorsPagination(t *testing.T) {
	pages := map[string]string{
		"": `{"data":[{"user_id":"1","user_login":"alpha","user_name":"Alpha"},
		             {"user_id":"2","user_login":"beta","user_name":"Beta"}],
		     "pagination":{"cursor":"page2"}}`,
		"page2": `{"data":[{"user_id":"3","user_login":"gamma","user_name":"Gamma"}],
		          "pagination":{}}`,
	}

	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		checkStringEqual(t, "path", r.URL.Path, "/moderation/moderators")
		checkStringEqual(t, "broadcaster_id", r.URL.Query().Get("broadcaster_id"), "12345")
		checkStringEqual(t, "first", r.URL.Query().Get("first"), "100")
		verifyHelixHeaders(t, r)

		body, ok := pages[r.URL.Query().Get("after")]
		if !ok {
			t.Fatalf("unexpected cursor %q", r.URL.Query().Get("after"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	mods, err := testClient(server.URL).GetModerators(context.Background())
	checkNoError(t, err)

	if requests != 2 {
		t.Errorf("requests = %d, want 2", requests)
	}
	if len(mods) != 3 {
		t.Fatalf("moderators = %d, want 3", len(mods))
	}
	checkStringEqual(t, "mods[2].UserID", mods[2].UserID, "3")
	checkStringEqual(t, "mods[0].UserLogin", mods[0].UserLogin, "alpha")
}

func TestGetBannedUsersEmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkStringEqual(t, "path", r.URL.Path, "/moderation/banned")
		_, _ = w.Write([]byte(`{"data":[],"pagination":{}}`))
	}))
	defer server.Close()

	banned, err := testClient(server.URL).GetBannedUsers(context.Background())
	checkNoError(t, err)
	if len(banned) != 0 {
		t.Errorf("banned = %d, want 0", len(banned))
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Unauthorized","status":401,"message":"Invalid OAuth token"}`))
	}))
	defer server.Close()

	_, err := testClient(server.URL).GetVIPs(context.Background())
	if err == nil {
		t.Fatal("expected an error for 401 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v is not *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", apiErr.StatusCode)
	}
	checkStringEqual(t, "Message", apiErr.Message, "Invalid OAuth token")
}

func TestSendChatMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkStringEqual(t, "method", r.Method, http.MethodPost)
		checkStringEqual(t, "path", r.URL.Path, "/chat/messages")
		verifyHelixHeaders(t, r)

		var req models.SendChatMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		checkStringEqual(t, "BroadcasterID", req.BroadcasterID, "12345")
		checkStringEqual(t, "SenderID", req.SenderID, "67890")
		checkStringEqual(t, "Message", req.Message, "hello chat")

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":[{"message_id":"abc","is_sent":true}]}`))
	}))
	defer server.Close()

	err := testClient(server.URL).SendChatMessage(context.Background(), "hello chat")
	checkNoError(t, err)
}

func TestCreateEventSubSubscription(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkStringEqual(t, "method", r.Method, http.MethodPost)
		checkStringEqual(t, "path", r.URL.Path, "/eventsub/subscriptions")

		var req models.EventSubSubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		checkStringEqual(t, "Type", req.Type, models.SubTypeFollow)
		checkStringEqual(t, "Version", req.Version, "2")
		checkStringEqual(t, "Transport.Method", req.Transport.Method, "websocket")
		checkStringEqual(t, "Transport.SessionID", req.Transport.SessionID, "sess-1")
		checkStringEqual(t, "condition.broadcaster_user_id", req.Condition["broadcaster_user_id"], "12345")
		checkStringEqual(t, "condition.moderator_user_id", req.Condition["moderator_user_id"], "67890")

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":[{"id":"sub-1","status":"enabled","type":"channel.follow","version":"2"}]}`))
	}))
	defer server.Close()

	sub, err := testClient(server.URL).CreateEventSubSubscription(context.Background(), models.SubTypeFollow, "sess-1")
	checkNoError(t, err)
	checkStringEqual(t, "sub.ID", sub.ID, "sub-1")
	checkStringEqual(t, "sub.Status", sub.Status, "enabled")
}

func TestSubscriptionVersion(t *testing.T) {
	tests := []struct {
		subType string
		want    string
	}{
		{models.SubTypeFollow, "2"},
		{models.SubTypeSubscribe, "1"},
		{models.SubTypeChatMessage, "1"},
		{models.SubTypeStreamOnline, "1"},
	}

	for _, tt := range tests {
		if got := SubscriptionVersion(tt.subType); got != tt.want {
			t.Errorf("SubscriptionVersion(%q) = %q, want %q", tt.subType, got, tt.want)
		}
	}
}

func TestConditionFor(t *testing.T) {
	c := testClient("http://unused")

	tests := []struct {
		name    string
		subType string
		want    map[string]string
	}{
		{
			name:    "follow requires moderator id",
			subType: models.SubTypeFollow,
			want:    map[string]string{"broadcaster_user_id": "12345", "moderator_user_id": "67890"},
		},
		{
			name:    "chat requires reader user id",
			subType: models.SubTypeChatMessage,
			want:    map[string]string{"broadcaster_user_id": "12345", "user_id": "67890"},
		},
		{
			name:    "raid keys on destination",
			subType: models.SubTypeRaid,
			want:    map[string]string{"to_broadcaster_user_id": "12345"},
		},
		{
			name:    "plain broadcaster condition",
			subType: models.SubTypeBan,
			want:    map[string]string{"broadcaster_user_id": "12345"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ConditionFor(tt.subType)
			if len(got) != len(tt.want) {
				t.Fatalf("condition = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				checkStringEqual(t, k, got[k], v)
			}
		})
	}
}
