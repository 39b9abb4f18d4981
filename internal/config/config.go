// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

// Package config loads and validates Castellan's configuration from
// defaults, an optional YAML file and environment variables, in that
// precedence order (env wins).
package config

import (
	"time"
)

// Config is the root configuration for the Castellan daemon.
type Config struct {
	Twitch   TwitchConfig   `koanf:"twitch" validate:"required"`
	EventSub EventSubConfig `koanf:"eventsub"`
	Bus      BusConfig      `koanf:"bus"`
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// TwitchConfig identifies the channel, the authenticated bot user and the
// credentials used for both the push channel and the Helix REST surface.
// Token acquisition and refresh live outside Castellan; the token arrives
// here fully formed.
type TwitchConfig struct {
	// ClientID and AccessToken authenticate every Helix call.
	ClientID    string `koanf:"client_id" validate:"required"`
	AccessToken string `koanf:"access_token" validate:"required"`

	// BroadcasterID is the channel whose state is synchronized.
	BroadcasterID string `koanf:"broadcaster_id" validate:"required,numeric"`

	// BotUserID is the authenticated user; some subscription conditions
	// require it instead of the broadcaster id.
	BotUserID string `koanf:"bot_user_id" validate:"required,numeric"`

	// HelixURL and EventSubURL default to the public endpoints and are
	// overridable for tests and mock servers.
	HelixURL    string `koanf:"helix_url" validate:"url"`
	EventSubURL string `koanf:"eventsub_url" validate:"url"`

	// EnabledEvents is the user-configurable list of EventSub subscription
	// types to register after each session handshake.
	EnabledEvents []string `koanf:"enabled_events"`

	// CommandPrefix marks chat messages handed to the command engine.
	CommandPrefix string `koanf:"command_prefix"`
}

// EventSubConfig tunes the push-channel session client.
type EventSubConfig struct {
	// HandshakeTimeout bounds the wait for a welcome after dialing.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`

	// KeepaliveSlack is added to the server-advertised keepalive cadence
	// to form the liveness deadline, tolerating delivery jitter.
	KeepaliveSlack time.Duration `koanf:"keepalive_slack"`

	// ReconnectBase and ReconnectCap shape the exponential backoff
	// min(base * 2^(n-1), cap).
	ReconnectBase time.Duration `koanf:"reconnect_base"`
	ReconnectCap  time.Duration `koanf:"reconnect_cap"`

	// MaxReconnectAttempts bounds retries before surfacing a fatal error.
	MaxReconnectAttempts int `koanf:"max_reconnect_attempts" validate:"min=1"`
}

// BusConfig selects the Watermill transport between the ingestion paths and
// the router. The gochannel transport is the default; the NATS transport
// runs an embedded JetStream server for durable delivery.
type BusConfig struct {
	// Transport is "gochannel" or "nats".
	Transport string `koanf:"transport" validate:"oneof=gochannel nats"`

	// BufferSize bounds the gochannel queues (backpressure boundary).
	BufferSize int `koanf:"buffer_size" validate:"min=1"`

	// NATS settings, used only when Transport is "nats".
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	RetryCount     int           `koanf:"retry_count"`
	RetryInterval  time.Duration `koanf:"retry_interval"`
	CloseTimeout   time.Duration `koanf:"close_timeout"`
}

// DatabaseConfig configures the DuckDB datastore.
type DatabaseConfig struct {
	Path      string `koanf:"path" validate:"required"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// ServerConfig configures the ops HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures the zerolog pipeline.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// defaultConfig returns a Config with every default applied. File and env
// layers override these values.
func defaultConfig() *Config {
	return &Config{
		Twitch: TwitchConfig{
			HelixURL:    "https://api.twitch.tv/helix",
			EventSubURL: "wss://eventsub.wss.twitch.tv/ws",
			EnabledEvents: []string{
				"channel.follow",
				"channel.subscribe",
				"channel.subscription.end",
				"channel.subscription.message",
				"channel.moderator.add",
				"channel.moderator.remove",
				"channel.vip.add",
				"channel.vip.remove",
				"channel.ban",
				"channel.unban",
				"channel.chat.message",
				"channel.raid",
				"stream.online",
				"stream.offline",
			},
			CommandPrefix: "~",
		},
		EventSub: EventSubConfig{
			HandshakeTimeout:     10 * time.Second,
			KeepaliveSlack:       10 * time.Second,
			ReconnectBase:        time.Second,
			ReconnectCap:         60 * time.Second,
			MaxReconnectAttempts: 10,
		},
		Bus: BusConfig{
			Transport:      "gochannel",
			BufferSize:     256,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			RetryCount:     3,
			RetryInterval:  100 * time.Millisecond,
			CloseTimeout:   30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/castellan.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            4170,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
