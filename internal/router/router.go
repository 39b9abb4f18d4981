// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

// Package router is the single funnel through which every canonical event
// becomes durable state. Both ingestion paths converge here: the push path
// delivers raw EventSub notifications on one bus topic, the reconciliation
// poller delivers synthesized event batches on another. The router persists
// sequentially, then fans out to the UI hub, the alert processor, the chat
// command engine and the speech pipeline.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/rmellis/castellan/internal/eventbus"
	"github.com/rmellis/castellan/internal/events"
	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/metrics"
	"github.com/rmellis/castellan/internal/models"
)

// Store is the persistence surface the router mutates. Implemented by
// internal/database.
type Store interface {
	UpsertViewer(ctx context.Context, id, login, displayName string) (*models.Viewer, error)
	RecordEvent(ctx context.Context, event *models.CanonicalEvent) (uuid.UUID, error)
	RecordEventsBatch(ctx context.Context, events []*models.CanonicalEvent) error
	ApplyRoleChange(ctx context.Context, viewerID string, role models.Role, granted bool, channelID string) error
	SetSubscriptionStatus(ctx context.Context, viewerID, channelID, tier string, isGift, active bool) error
	SetFollower(ctx context.Context, viewerID, channelID string, followedAt time.Time, following bool) error
	RecordModerationAction(ctx context.Context, viewerID, channelID string,
		state models.ModerationState, reason, moderatorID string, expiresAt *time.Time, createdAt time.Time) error
	ResolveModerationAction(ctx context.Context, viewerID, channelID string) error
	InsertChatMessage(ctx context.Context, messageID, viewerID, channelID, text string, createdAt time.Time) error
}

// UIPush receives every persisted event for dashboard fan-out.
type UIPush interface {
	BroadcastEvent(event models.CanonicalEvent)
}

// AlertProcessor receives events asynchronously. Failures are logged and
// never affect the persistence path.
type AlertProcessor interface {
	Process(ctx context.Context, event models.CanonicalEvent) error
}

// CommandEngine resolves prefix-matched chat commands to an optional reply.
type CommandEngine interface {
	HandleMessage(ctx context.Context, text, viewerID, viewerLogin string) (string, error)
}

// ChatSender sends command replies back to the channel.
type ChatSender interface {
	SendChatMessage(ctx context.Context, text string) error
}

// SpeechPipeline receives push-origin chat messages for text-to-speech.
type SpeechPipeline interface {
	HandleChatMessage(username, text, viewerID string)
}

// Config tunes router behavior.
type Config struct {
	// ChannelID is the broadcaster channel events belong to.
	ChannelID string

	// CommandPrefix marks chat messages handed to the command engine.
	CommandPrefix string
}

// Router consumes both bus topics and applies the event pipeline. The
// optional collaborators (alerts, commands, speech) may be nil.
type Router struct {
	cfg      Config
	store    Store
	hub      UIPush
	alerts   AlertProcessor
	commands CommandEngine
	chat     ChatSender
	speech   SpeechPipeline

	// wg tracks in-flight fan-out goroutines so shutdown can drain them.
	wg sync.WaitGroup
}

// New creates a router. hub, alerts, commands, chat and speech may each be
// nil; the corresponding fan-out step is skipped.
func New(cfg Config, store Store, hub UIPush, alerts AlertProcessor, commands CommandEngine, chat ChatSender, speech SpeechPipeline) *Router {
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "~"
	}
	return &Router{
		cfg:      cfg,
		store:    store,
		hub:      hub,
		alerts:   alerts,
		commands: commands,
		chat:     chat,
		speech:   speech,
	}
}

// RegisterHandlers attaches the two consuming handlers to the bus router.
func (r *Router) RegisterHandlers(busRouter *eventbus.Router, subscriber message.Subscriber) {
	busRouter.AddConsumerHandler("notification-router", eventbus.TopicNotifications, subscriber, r.HandleNotification)
	busRouter.AddConsumerHandler("reconciliation-router", eventbus.TopicReconciliation, subscriber, r.HandleReconciliation)
}

// Drain blocks until all in-flight fan-out goroutines finish.
func (r *Router) Drain() {
	r.wg.Wait()
}

// HandleNotification processes one raw EventSub notification. Translation
// failures are deterministic and dropped with a log; persistence failures
// are returned so the bus middleware retries and eventually poisons.
func (r *Router) HandleNotification(msg *message.Message) error {
	subType := msg.Metadata.Get("subscription_type")

	receivedAt := time.Now().UTC()
	if raw := msg.Metadata.Get("timestamp"); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			receivedAt = ts
		}
	}

	ev, chatMessageID, err := translateNotification(subType, msg.Payload, r.cfg.ChannelID, receivedAt)
	if err != nil {
		metrics.RouterErrors.WithLabelValues("translate").Inc()
		logging.Warn().
			Err(err).
			Str("subscription_type", subType).
			Str("message_id", msg.UUID).
			Msg("dropping untranslatable notification")
		return nil
	}

	return r.dispatch(msg.Context(), ev, chatMessageID)
}

// HandleReconciliation processes one poller batch. The whole batch persists
// in a single transaction before any fan-out, so a mid-batch failure never
// announces half a cycle.
func (r *Router) HandleReconciliation(msg *message.Message) error {
	batch, err := eventbus.DecodeEvents(msg)
	if err != nil {
		metrics.RouterErrors.WithLabelValues("decode").Inc()
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("dropping undecodable reconciliation batch")
		return nil
	}

	ctx := msg.Context()
	refs := make([]*models.CanonicalEvent, 0, len(batch))
	for i := range batch {
		ev := &batch[i]
		if err := r.prepare(ctx, ev); err != nil {
			metrics.RouterErrors.WithLabelValues("persist").Inc()
			return fmt.Errorf("prepare reconciliation event %s: %w", ev.Type, err)
		}
		refs = append(refs, ev)
	}

	if err := r.store.RecordEventsBatch(ctx, refs); err != nil {
		metrics.RouterErrors.WithLabelValues("persist").Inc()
		return fmt.Errorf("record reconciliation batch: %w", err)
	}

	for i := range batch {
		metrics.EventsRouted.WithLabelValues(string(batch[i].Type), string(batch[i].Origin)).Inc()
		r.fanOut(batch[i], "")
	}
	return nil
}

// dispatch runs the full pipeline for a single event: persist sequentially,
// then fan out.
func (r *Router) dispatch(ctx context.Context, ev models.CanonicalEvent, chatMessageID string) error {
	if err := r.prepare(ctx, &ev); err != nil {
		metrics.RouterErrors.WithLabelValues("persist").Inc()
		return fmt.Errorf("persist %s event: %w", ev.Type, err)
	}
	if ev.Type == models.EventChatMessage {
		if err := r.insertChat(ctx, ev, chatMessageID); err != nil {
			metrics.RouterErrors.WithLabelValues("persist").Inc()
			return err
		}
	}
	if _, err := r.store.RecordEvent(ctx, &ev); err != nil {
		metrics.RouterErrors.WithLabelValues("persist").Inc()
		return fmt.Errorf("record %s event: %w", ev.Type, err)
	}

	metrics.EventsRouted.WithLabelValues(string(ev.Type), string(ev.Origin)).Inc()
	r.fanOut(ev, chatMessageID)
	return nil
}

// prepare runs persistence steps 1 and 2: upsert the subject viewer, then
// apply the state mutation implied by the event type. Mutations are UPSERTs
// or DELETEs, so duplicate delivery converges on the same final state.
func (r *Router) prepare(ctx context.Context, ev *models.CanonicalEvent) error {
	if ev.ViewerID != "" {
		if _, err := r.store.UpsertViewer(ctx, ev.ViewerID, ev.ViewerLogin, ev.ViewerName); err != nil {
			return fmt.Errorf("upsert viewer %s: %w", ev.ViewerID, err)
		}
	}
	return r.applyMutation(ctx, ev)
}

func (r *Router) applyMutation(ctx context.Context, ev *models.CanonicalEvent) error {
	switch ev.Type {
	case models.EventFollow:
		return r.store.SetFollower(ctx, ev.ViewerID, ev.ChannelID, ev.CreatedAt, true)

	case models.EventUnfollow:
		return r.store.SetFollower(ctx, ev.ViewerID, ev.ChannelID, ev.CreatedAt, false)

	case models.EventSubscribe, models.EventResubscribe:
		if err := r.store.SetSubscriptionStatus(ctx, ev.ViewerID, ev.ChannelID, ev.Tier, ev.IsGift, true); err != nil {
			return err
		}
		return r.store.ApplyRoleChange(ctx, ev.ViewerID, models.RoleSubscriber, true, ev.ChannelID)

	case models.EventUnsubscribe:
		if err := r.store.SetSubscriptionStatus(ctx, ev.ViewerID, ev.ChannelID, ev.Tier, ev.IsGift, false); err != nil {
			return err
		}
		return r.store.ApplyRoleChange(ctx, ev.ViewerID, models.RoleSubscriber, false, ev.ChannelID)

	case models.EventModGranted, models.EventModRevoked, models.EventVIPGranted, models.EventVIPRevoked:
		role, granted, ok := events.RoleForEvent(ev.Type)
		if !ok {
			return fmt.Errorf("no role mapping for %s", ev.Type)
		}
		return r.store.ApplyRoleChange(ctx, ev.ViewerID, role, granted, ev.ChannelID)

	case models.EventBan:
		return r.store.RecordModerationAction(ctx, ev.ViewerID, ev.ChannelID,
			models.ModerationBanned, ev.Reason, ev.ModeratorID, nil, ev.CreatedAt)

	case models.EventTimeout:
		expiresAt := ev.CreatedAt.Add(ev.TimeoutDuration)
		return r.store.RecordModerationAction(ctx, ev.ViewerID, ev.ChannelID,
			models.ModerationTimedOut, ev.Reason, ev.ModeratorID, &expiresAt, ev.CreatedAt)

	case models.EventUnban, models.EventTimeoutLifted:
		return r.store.ResolveModerationAction(ctx, ev.ViewerID, ev.ChannelID)

	default:
		// chat_message, raid, stream_online/offline and generic carry no
		// membership mutation; the event fact itself is the record.
		return nil
	}
}

func (r *Router) insertChat(ctx context.Context, ev models.CanonicalEvent, chatMessageID string) error {
	if chatMessageID == "" {
		chatMessageID = uuid.NewString()
	}
	if err := r.store.InsertChatMessage(ctx, chatMessageID, ev.ViewerID, ev.ChannelID, ev.Message, ev.CreatedAt); err != nil {
		return fmt.Errorf("insert chat message %s: %w", chatMessageID, err)
	}
	return nil
}

// fanOut runs the downstream steps after persistence committed. The steps
// run concurrently with each other and with the next inbound event; none of
// them can fail the pipeline.
func (r *Router) fanOut(ev models.CanonicalEvent, chatMessageID string) {
	if r.hub != nil {
		r.hub.BroadcastEvent(ev)
	}

	if r.alerts != nil {
		r.spawn(func() { r.processAlert(ev) })
	}

	if ev.Type != models.EventChatMessage {
		return
	}

	if r.commands != nil && strings.HasPrefix(ev.Message, r.cfg.CommandPrefix) {
		cmdEv := ev
		r.spawn(func() { r.runCommand(cmdEv) })
	}

	// The speech path is fed only by push-origin chat messages. The
	// reconcile path never carries chat, but the origin guard stays as the
	// contract against double-speaking.
	if r.speech != nil && ev.Origin == models.OriginPush {
		login := ev.ViewerLogin
		r.spawn(func() {
			defer r.recoverPanic("speech pipeline")
			r.speech.HandleChatMessage(login, ev.Message, ev.ViewerID)
			metrics.SpeechForwarded.Inc()
		})
	}
}

func (r *Router) spawn(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

func (r *Router) processAlert(ev models.CanonicalEvent) {
	defer r.recoverPanic("alert processor")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := r.alerts.Process(ctx, ev); err != nil {
		metrics.RouterErrors.WithLabelValues("alert").Inc()
		logging.Warn().Err(err).Str("event_type", string(ev.Type)).Msg("alert processor failed")
	}
}

func (r *Router) runCommand(ev models.CanonicalEvent) {
	defer r.recoverPanic("command engine")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply, err := r.commands.HandleMessage(ctx, ev.Message, ev.ViewerID, ev.ViewerLogin)
	if err != nil {
		metrics.RouterErrors.WithLabelValues("command").Inc()
		logging.Warn().Err(err).Str("viewer_id", ev.ViewerID).Msg("command handling failed")
		return
	}
	if reply == "" || r.chat == nil {
		return
	}

	if err := r.chat.SendChatMessage(ctx, reply); err != nil {
		metrics.RouterErrors.WithLabelValues("chat_send").Inc()
		logging.Warn().Err(err).Msg("failed to send command reply")
		return
	}
	metrics.ChatCommandReplies.Inc()
}

func (r *Router) recoverPanic(stage string) {
	if rec := recover(); rec != nil {
		metrics.RouterErrors.WithLabelValues("panic").Inc()
		logging.Error().Interface("panic", rec).Str("stage", stage).Msg("downstream consumer panicked")
	}
}
