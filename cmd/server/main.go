// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

// Command server runs the Castellan process: the EventSub session client,
// the reconciliation poller, the event router, the dashboard hub and the
// ops HTTP server, all under one supervisor tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rmellis/castellan/internal/api"
	"github.com/rmellis/castellan/internal/config"
	"github.com/rmellis/castellan/internal/database"
	"github.com/rmellis/castellan/internal/eventbus"
	"github.com/rmellis/castellan/internal/eventsub"
	"github.com/rmellis/castellan/internal/helix"
	"github.com/rmellis/castellan/internal/logging"
	"github.com/rmellis/castellan/internal/poller"
	"github.com/rmellis/castellan/internal/router"
	"github.com/rmellis/castellan/internal/supervisor"
	"github.com/rmellis/castellan/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Timestamp: true,
	})

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("castellan exited with error")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("database close failed")
		}
	}()

	if err := db.SetCurrentSession(ctx, cfg.Twitch.BroadcasterID, cfg.Twitch.BotUserID); err != nil {
		return fmt.Errorf("record channel session: %w", err)
	}

	bus, err := eventbus.New(&cfg.Bus)
	if err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Warn().Err(err).Msg("bus close failed")
		}
	}()

	breaker := helix.NewCircuitBreakerClient(&cfg.Twitch)
	hub := websocket.NewHub()

	session := eventsub.New(&cfg.EventSub, &cfg.Twitch, breaker.Inner(), bus, hub)
	reconciler := poller.New(breaker, db, bus, hub, cfg.Twitch.BroadcasterID)

	eventRouter := router.New(router.Config{
		ChannelID:     cfg.Twitch.BroadcasterID,
		CommandPrefix: cfg.Twitch.CommandPrefix,
	}, db, hub, nil, nil, breaker.Inner(), nil)

	busRouter, err := eventbus.NewRouter(eventbus.DefaultRouterConfig(), bus.Publisher(), bus.Logger())
	if err != nil {
		return fmt.Errorf("build bus router: %w", err)
	}
	eventRouter.RegisterHandlers(busRouter, bus.Subscriber())

	handler := api.NewHandler(session, reconciler, db, hub, cfg.Twitch.BroadcasterID)
	server := api.NewServer(&cfg.Server, handler)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(supervisor.NewServiceFunc("ui-hub", hub.RunWithContext))
	tree.AddMessagingService(supervisor.NewServiceFunc("bus-router", busRouter.Run))
	tree.AddIngestService(supervisor.NewService("eventsub-session", session, eventsub.ErrReconnectExhausted))
	tree.AddIngestService(supervisor.NewService("reconciliation-poller", reconciler))
	tree.AddAPIService(supervisor.NewService("ops-server", server))

	logging.Info().
		Str("channel_id", cfg.Twitch.BroadcasterID).
		Str("bus_transport", cfg.Bus.Transport).
		Msg("castellan starting")

	err = tree.Serve(ctx)

	// Let in-flight fan-out (alerts, command replies, speech) finish before
	// the deferred bus and database closes run.
	eventRouter.Drain()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("castellan stopped")
	return nil
}
