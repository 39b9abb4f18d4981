// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the singleton validator instance. validator caches
// struct metadata, so sharing one instance is both safe and faster.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags plus the cross-field rules the tags cannot
// express. Called by Load after all layers are merged.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, ve := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", ve.Namespace(), ve.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if err := c.validateEventSub(); err != nil {
		return err
	}

	return c.validateBus()
}

// validateEventSub checks the backoff shape and timer relationships.
func (c *Config) validateEventSub() error {
	es := c.EventSub

	if es.ReconnectBase <= 0 {
		return errors.New("eventsub.reconnect_base must be positive")
	}
	if es.ReconnectCap < es.ReconnectBase {
		return fmt.Errorf("eventsub.reconnect_cap %s is below reconnect_base %s", es.ReconnectCap, es.ReconnectBase)
	}
	if es.HandshakeTimeout <= 0 {
		return errors.New("eventsub.handshake_timeout must be positive")
	}
	if es.KeepaliveSlack <= 0 {
		return errors.New("eventsub.keepalive_slack must be positive")
	}

	return nil
}

// validateBus checks NATS settings when the NATS transport is selected.
func (c *Config) validateBus() error {
	if c.Bus.Transport != "nats" {
		return nil
	}

	if !c.Bus.EmbeddedServer && c.Bus.URL == "" {
		return errors.New("bus.url is required when bus.transport=nats without an embedded server")
	}
	if c.Bus.EmbeddedServer && c.Bus.StoreDir == "" {
		return errors.New("bus.store_dir is required for the embedded NATS server")
	}

	return nil
}
