// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package eventbus

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/rmellis/castellan/internal/config"
	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(&config.BusConfig{Transport: "gochannel", BufferSize: 16})
	if err != nil {
		t.Fatalf("create bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestPublishEventRoundTrip(t *testing.T) {
	bus := newTestBus(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := bus.Subscribe(ctx, TopicNotifications)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	want := models.CanonicalEvent{
		Type:      models.EventFollow,
		ViewerID:  "1001",
		Detail:    "Somebody followed the channel",
		ChannelID: "chan-1",
		Origin:    models.OriginPush,
		CreatedAt: time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC),
	}
	if err := bus.PublishEvent(TopicNotifications, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-msgs:
		msg.Ack()

		if got := msg.Metadata.Get("event_type"); got != string(models.EventFollow) {
			t.Errorf("event_type metadata = %q, want follow", got)
		}
		if got := msg.Metadata.Get("origin"); got != string(models.OriginPush) {
			t.Errorf("origin metadata = %q, want push", got)
		}

		got, err := DecodeEvent(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Type != want.Type || got.ViewerID != want.ViewerID || got.Detail != want.Detail {
			t.Errorf("decoded event = %+v, want %+v", got, want)
		}
		if !got.CreatedAt.Equal(want.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	msg := message.NewMessage("bad", []byte("{not json"))
	if _, err := DecodeEvent(msg); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPublishAfterClose(t *testing.T) {
	bus := newTestBus(t)
	if err := bus.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// A second close is a no-op.
	if err := bus.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	err := bus.PublishEvent(TopicNotifications, models.CanonicalEvent{Type: models.EventGeneric})
	if err == nil {
		t.Fatal("expected publish on closed bus to fail")
	}
}

func TestRouterPoisonsAfterRetries(t *testing.T) {
	bus := newTestBus(t)

	cfg := DefaultRouterConfig()
	cfg.RetryMaxRetries = 1
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = time.Millisecond

	router, err := NewRouter(cfg, bus.Publisher(), bus.Logger())
	if err != nil {
		t.Fatalf("create router: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poisoned, err := bus.Subscribe(ctx, TopicPoison)
	if err != nil {
		t.Fatalf("subscribe poison: %v", err)
	}

	handlerErr := errors.New("handler always fails")
	router.AddConsumerHandler("failing", TopicNotifications, bus.subscriber, func(_ *message.Message) error {
		return handlerErr
	})

	go func() { _ = router.Run(ctx) }()
	select {
	case <-router.Running():
	case <-ctx.Done():
		t.Fatal("router did not start")
	}
	defer func() { _ = router.Close() }()

	if err := bus.PublishEvent(TopicNotifications, models.CanonicalEvent{Type: models.EventGeneric}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-poisoned:
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("message never reached the poison topic")
	}
}
