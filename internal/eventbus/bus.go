// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

// Package eventbus carries canonical events between the ingestion paths and
// the router over Watermill. The default transport is an in-process
// gochannel pub/sub; single-instance deployments that want durability can
// switch to NATS JetStream, optionally served by an embedded nats-server.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/rmellis/castellan/internal/config"
	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/metrics"
	"github.com/rmellis/castellan/internal/models"
)

// Bus topics. Both ingestion paths publish canonical events; the router is
// the single consumer of the first two. Poisoned messages land on the last
// after retry exhaustion.
const (
	TopicNotifications  = "castellan.notifications"
	TopicReconciliation = "castellan.reconciliation"
	TopicPoison         = "castellan.poison"
)

// Bus is the process event bus: one publisher/subscriber pair over the
// configured transport.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	server     *EmbeddedServer
	logger     watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// New creates a Bus on the configured transport. With the gochannel
// transport everything lives in process memory; with nats the bus connects
// to cfg.URL, or to an embedded server when cfg.EmbeddedServer is set.
func New(cfg *config.BusConfig) (*Bus, error) {
	logger := NewLoggerAdapter()

	switch cfg.Transport {
	case "nats":
		return newNATSBus(cfg, logger)
	default:
		return newGoChannelBus(cfg, logger), nil
	}
}

func newGoChannelBus(cfg *config.BusConfig, logger watermill.LoggerAdapter) *Bus {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(cfg.BufferSize),
	}, logger)

	return &Bus{
		publisher:  pubsub,
		subscriber: pubsub,
		logger:     logger,
	}
}

func newNATSBus(cfg *config.BusConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	var (
		server *EmbeddedServer
		url    = cfg.URL
	)

	if cfg.EmbeddedServer {
		srv, err := NewEmbeddedServer(cfg.StoreDir)
		if err != nil {
			return nil, fmt.Errorf("start embedded nats: %w", err)
		}
		server = srv
		url = srv.ClientURL()
		logging.Info().Str("url", url).Msg("Embedded NATS server started")
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(cfg.RetryCount),
				natsgo.RetryWait(cfg.RetryInterval),
			},
		},
	}, logger)
	if err != nil {
		shutdownServer(server)
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:            url,
		NatsOptions:    natsOpts,
		Unmarshaler:    &wmNats.NATSMarshaler{},
		AckWaitTimeout: 30 * time.Second,
		CloseTimeout:   cfg.CloseTimeout,
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			DurablePrefix: "castellan",
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		shutdownServer(server)
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}

	return &Bus{
		publisher:  pub,
		subscriber: sub,
		server:     server,
		logger:     logger,
	}, nil
}

func shutdownServer(server *EmbeddedServer) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
}

// Logger exposes the bus logger adapter for the message router.
func (b *Bus) Logger() watermill.LoggerAdapter { return b.logger }

// Publisher exposes the raw publisher, used as the poison sink.
func (b *Bus) Publisher() message.Publisher { return b.publisher }

// Subscriber exposes the raw subscriber for router consumer handlers.
func (b *Bus) Subscriber() message.Subscriber { return b.subscriber }

// Publish sends one message to a topic.
func (b *Bus) Publish(topic string, msg *message.Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return fmt.Errorf("publish %s: bus is closed", topic)
	}
	b.mu.RUnlock()

	if err := b.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	metrics.BusPublished.WithLabelValues(topic).Inc()
	return nil
}

// PublishEvent serializes a canonical event and publishes it. The message
// UUID doubles as the dedup id on the JetStream transport.
func (b *Bus) PublishEvent(topic string, event models.CanonicalEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.Type, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("origin", string(event.Origin))

	return b.Publish(topic, msg)
}

// PublishEvents publishes a batch of canonical events as one message, so
// the consumer can persist the whole batch in a single transaction.
func (b *Bus) PublishEvents(topic string, events []models.CanonicalEvent) error {
	if len(events) == 0 {
		return nil
	}

	payload, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode event batch: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("batch_size", fmt.Sprintf("%d", len(events)))
	msg.Metadata.Set("origin", string(events[0].Origin))

	return b.Publish(topic, msg)
}

// DecodeEvents recovers a canonical event batch from a bus message.
func DecodeEvents(msg *message.Message) ([]models.CanonicalEvent, error) {
	var events []models.CanonicalEvent
	if err := json.Unmarshal(msg.Payload, &events); err != nil {
		return nil, fmt.Errorf("decode event batch %s: %w", msg.UUID, err)
	}
	return events, nil
}

// DecodeEvent recovers a canonical event from a bus message.
func DecodeEvent(msg *message.Message) (models.CanonicalEvent, error) {
	var event models.CanonicalEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return models.CanonicalEvent{}, fmt.Errorf("decode event message %s: %w", msg.UUID, err)
	}
	return event, nil
}

// Subscribe opens a consuming channel on a topic.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch, err := b.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return ch, nil
}

// Close shuts the transport down. Safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var firstErr error
	if err := b.publisher.Close(); err != nil {
		firstErr = err
	}
	// gochannel publisher and subscriber are the same object; avoid a
	// double close.
	if any(b.subscriber) != any(b.publisher) {
		if err := b.subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.server.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
