// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

// Package config loads Bustrack configuration for the server, driver and
// viewer binaries.
//
// Values are layered with Koanf v2, later layers winning:
//
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH, ./config.yaml, /etc/bustrack/config.yaml)
//  3. Mapped environment variables (see envTransformFunc)
//
// Config is immutable after Load and safe for concurrent reads.
package config

import (
	"time"
)

// Config is the complete configuration. Each binary reads the sections it
// needs: the server uses Server, Broker, EventBus, Snapshot and Security;
// the driver uses Publisher; the viewer uses Viewer.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Broker    BrokerConfig    `koanf:"broker"`
	EventBus  EventBusConfig  `koanf:"eventbus"`
	Snapshot  SnapshotConfig  `koanf:"snapshot"`
	Publisher PublisherConfig `koanf:"publisher"`
	Viewer    ViewerConfig    `koanf:"viewer"`
	Security  SecurityConfig  `koanf:"security"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// BrokerConfig tunes fan-out and subscription bookkeeping.
//
// Environment Variables:
//   - BROKER_SESSION_QUEUE: per-session outbound queue length (default: 256)
//   - BROKER_MAX_SUBSCRIPTIONS: vehicles one session may watch (default: 64)
//   - BROKER_WELCOME_SNAPSHOT: push the latest location on subscribe (default: true)
type BrokerConfig struct {
	SessionQueueSize           int  `koanf:"session_queue_size" validate:"min=1,max=65536"`
	MaxSubscriptionsPerSession int  `koanf:"max_subscriptions_per_session" validate:"min=1"`
	WelcomeSnapshot            bool `koanf:"welcome_snapshot"`
}

// EventBusConfig selects the transport between publish and fan-out.
// "memory" uses a Watermill GoChannel; "nats" requires the nats build tag.
type EventBusConfig struct {
	Mode          string        `koanf:"mode" validate:"oneof=memory nats"`
	Topic         string        `koanf:"topic" validate:"required"`
	NATSURL       string        `koanf:"nats_url"`
	Embedded      bool          `koanf:"embedded"`
	EmbeddedHost  string        `koanf:"embedded_host"`
	EmbeddedPort  int           `koanf:"embedded_port"`
	StoreDir      string        `koanf:"store_dir"`
	StreamName    string        `koanf:"stream_name"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// SnapshotConfig selects where last known vehicle state is kept.
type SnapshotConfig struct {
	Backend     string `koanf:"backend" validate:"oneof=memory badger postgres"`
	BadgerPath  string `koanf:"badger_path"`
	DatabaseURL string `koanf:"database_url"`
	RecentLimit int    `koanf:"recent_limit" validate:"min=1,max=500"`
}

// PublisherConfig configures the driver binary.
//
// Source is one of:
//   - sim: replay RouteFile waypoints every SampleInterval
//   - gtfsrt: poll a GTFS-Realtime vehicle positions feed
//   - manual: positions typed by the operator ("pos <lat> <lng>")
type PublisherConfig struct {
	VehicleID       string        `koanf:"vehicle_id"`
	ServerURL       string        `koanf:"server_url"`
	Interval        time.Duration `koanf:"interval"`
	Source          string        `koanf:"source" validate:"oneof=sim gtfsrt manual"`
	RouteFile       string        `koanf:"route_file"`
	SampleInterval  time.Duration `koanf:"sample_interval"`
	GTFSRTURL       string        `koanf:"gtfsrt_url"`
	GTFSRTVehicleID string        `koanf:"gtfsrt_vehicle_id"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	MaxFailures     int           `koanf:"max_failures"`
}

// ViewerConfig configures the viewer binary.
type ViewerConfig struct {
	VehicleID         string        `koanf:"vehicle_id"`
	ServerURL         string        `koanf:"server_url"`
	TrailCapacity     int           `koanf:"trail_capacity" validate:"min=1"`
	FeedCapacity      int           `koanf:"feed_capacity" validate:"min=1"`
	DefaultLat        float64       `koanf:"default_lat" validate:"latitude"`
	DefaultLng        float64       `koanf:"default_lng" validate:"longitude"`
	FetchTimeout      time.Duration `koanf:"fetch_timeout"`
	ReconnectInterval time.Duration `koanf:"reconnect_interval"`
}

// SecurityConfig holds CORS and rate limiting settings. Publisher
// authentication is out of scope; drivers are trusted clients.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	InboundRate       float64       `koanf:"inbound_rate"`
	InboundBurst      int           `koanf:"inbound_burst"`
}

// LoggingConfig mirrors logging.Config.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Load loads configuration. It is the entry point used by every binary.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
