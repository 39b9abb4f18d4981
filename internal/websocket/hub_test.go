// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package websocket

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop after cancel")
		}
	})
	return hub, cancel
}

func registerClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	client := NewClient(hub, nil)
	hub.Register <- client

	deadline := time.After(2 * time.Second)
	for hub.GetClientCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("client never registered")
		case <-time.After(time.Millisecond):
		}
	}
	return client
}

func waitForMessage(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case msg, ok := <-client.send:
		if !ok {
			t.Fatal("send channel closed while waiting for message")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
	return Message{}
}

func TestBroadcastEventReachesAllClients(t *testing.T) {
	hub, _ := startHub(t)

	first := registerClient(t, hub)
	second := NewClient(hub, nil)
	hub.Register <- second
	for hub.GetClientCount() < 2 {
		time.Sleep(time.Millisecond)
	}

	event := models.CanonicalEvent{
		Type:      models.EventVIPGranted,
		ViewerID:  "1001",
		Detail:    "Somebody was granted VIP",
		ChannelID: "chan-1",
	}
	hub.BroadcastEvent(event)

	for _, client := range []*Client{first, second} {
		msg := waitForMessage(t, client)
		if msg.Type != MessageTypeEvent {
			t.Errorf("Type = %q, want %q", msg.Type, MessageTypeEvent)
		}
		got, ok := msg.Data.(models.CanonicalEvent)
		if !ok {
			t.Fatalf("Data is %T, want CanonicalEvent", msg.Data)
		}
		if got.Type != models.EventVIPGranted || got.ViewerID != "1001" {
			t.Errorf("event = %+v", got)
		}
	}
}

func TestBroadcastConnectivityShape(t *testing.T) {
	hub, _ := startHub(t)
	client := registerClient(t, hub)

	hub.BroadcastConnectivity(ConnectivityError, "keepalive timeout")

	msg := waitForMessage(t, client)
	if msg.Type != MessageTypeConnectivity {
		t.Fatalf("Type = %q, want connectivity", msg.Type)
	}
	data, ok := msg.Data.(ConnectivityData)
	if !ok {
		t.Fatalf("Data is %T, want ConnectivityData", msg.Data)
	}
	if data.State != ConnectivityError || data.Detail != "keepalive timeout" {
		t.Errorf("data = %+v", data)
	}
	if data.At == "" {
		t.Error("At timestamp missing")
	}
}

func TestSlowClientEvicted(t *testing.T) {
	hub, _ := startHub(t)

	slow := registerClient(t, hub)
	_ = slow // never drained

	// Overflow the client's send buffer; the hub must evict rather than
	// block its loop.
	for i := 0; i < cap(slow.send)+8; i++ {
		hub.BroadcastEvent(models.CanonicalEvent{Type: models.EventGeneric})
		// Give the hub loop a chance to drain the broadcast channel so
		// enqueue never drops before the client overflows.
		time.Sleep(time.Millisecond / 4)
	}

	deadline := time.After(2 * time.Second)
	for hub.GetClientCount() != 0 {
		select {
		case <-deadline:
			t.Fatal("slow client was not evicted")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestCancelClosesClients(t *testing.T) {
	hub, cancel := startHub(t)
	client := registerClient(t, hub)

	cancel()

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected channel close, got message")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client channel not closed on shutdown")
	}
}

func TestUnregisterUnknownClientIsSafe(t *testing.T) {
	hub, _ := startHub(t)
	stranger := NewClient(hub, nil)
	hub.Unregister <- stranger

	if got := hub.GetClientCount(); got != 0 {
		t.Errorf("client count = %d, want 0", got)
	}
}
