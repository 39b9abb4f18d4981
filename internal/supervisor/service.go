// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package supervisor

import (
	"context"
	"errors"

	"github.com/thejerf/suture/v4"
)

// Runner is the run-until-cancelled shape shared by the hub, the session
// client, the poller, the bus router and the ops server.
type Runner interface {
	Run(ctx context.Context) error
}

// Service adapts a Runner to suture.Service. Errors listed as fatal stop
// the whole tree instead of restarting the service; reconnect exhaustion
// is the canonical example, since restarting without operator attention
// would just burn the retry budget again.
type Service struct {
	name  string
	run   func(ctx context.Context) error
	fatal []error
}

// NewService wraps a Runner.
func NewService(name string, r Runner, fatalErrs ...error) *Service {
	return &Service{name: name, run: r.Run, fatal: fatalErrs}
}

// NewServiceFunc wraps a bare run function.
func NewServiceFunc(name string, run func(ctx context.Context) error, fatalErrs ...error) *Service {
	return &Service{name: name, run: run, fatal: fatalErrs}
}

// Serve implements suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	err := s.run(ctx)
	for _, fatal := range s.fatal {
		if errors.Is(err, fatal) {
			return errors.Join(err, suture.ErrTerminateSupervisorTree)
		}
	}
	return err
}

// String implements fmt.Stringer for suture's event log.
func (s *Service) String() string {
	return s.name
}
