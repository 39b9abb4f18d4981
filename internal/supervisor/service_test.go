// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package supervisor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/rmellis/castellan/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

var errExhausted = errors.New("retries exhausted")

type runFunc func(ctx context.Context) error

func (f runFunc) Run(ctx context.Context) error { return f(ctx) }

func TestServiceFatalErrorTerminatesTree(t *testing.T) {
	svc := NewService("doomed", runFunc(func(context.Context) error {
		return errExhausted
	}), errExhausted)

	err := svc.Serve(context.Background())
	if !errors.Is(err, suture.ErrTerminateSupervisorTree) {
		t.Fatalf("fatal error must request tree termination, got %v", err)
	}
	if !errors.Is(err, errExhausted) {
		t.Fatal("original error must stay inspectable")
	}
}

func TestServiceOrdinaryErrorRestarts(t *testing.T) {
	svc := NewService("flaky", runFunc(func(context.Context) error {
		return errors.New("transient")
	}), errExhausted)

	if err := svc.Serve(context.Background()); errors.Is(err, suture.ErrTerminateSupervisorTree) {
		t.Fatal("ordinary errors must not terminate the tree")
	}
}

func TestTreeServesAndStops(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{})

	started := make(chan struct{})
	tree.AddMessagingService(NewServiceFunc("blocker", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tree.Serve(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("service never started")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
}
