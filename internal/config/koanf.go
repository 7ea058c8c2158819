// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations in priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/bustrack/config.yaml",
	"/etc/bustrack/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            3857,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Broker: BrokerConfig{
			SessionQueueSize:           256,
			MaxSubscriptionsPerSession: 64,
			WelcomeSnapshot:            true,
		},
		EventBus: EventBusConfig{
			Mode:          "memory",
			Topic:         "bustrack.events",
			NATSURL:       "nats://127.0.0.1:4222",
			Embedded:      true,
			EmbeddedHost:  "127.0.0.1",
			EmbeddedPort:  4222,
			StoreDir:      "/data/nats",
			StreamName:    "BUSTRACK",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Snapshot: SnapshotConfig{
			Backend:     "memory",
			BadgerPath:  "/data/snapshots",
			RecentLimit: 20,
		},
		Publisher: PublisherConfig{
			ServerURL:      "http://localhost:3857",
			Interval:       10 * time.Second,
			Source:         "sim",
			SampleInterval: 2 * time.Second,
			PollInterval:   15 * time.Second,
			MaxFailures:    3,
		},
		Viewer: ViewerConfig{
			ServerURL:         "http://localhost:3857",
			TrailCapacity:     100,
			FeedCapacity:      50,
			DefaultLat:        23.8103,
			DefaultLng:        90.4125,
			FetchTimeout:      5 * time.Second,
			ReconnectInterval: 2 * time.Second,
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			InboundRate:     5,
			InboundBurst:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads defaults, the optional YAML file, then environment
// variables, and validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma-separated env values into string slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_idle_timeout":     "server.idle_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",

	"broker_session_queue":     "broker.session_queue_size",
	"broker_max_subscriptions": "broker.max_subscriptions_per_session",
	"broker_welcome_snapshot":  "broker.welcome_snapshot",

	"eventbus_mode":       "eventbus.mode",
	"eventbus_topic":      "eventbus.topic",
	"nats_url":            "eventbus.nats_url",
	"nats_embedded":       "eventbus.embedded",
	"nats_embedded_host":  "eventbus.embedded_host",
	"nats_embedded_port":  "eventbus.embedded_port",
	"nats_store_dir":      "eventbus.store_dir",
	"nats_stream":         "eventbus.stream_name",
	"nats_max_reconnects": "eventbus.max_reconnects",
	"nats_reconnect_wait": "eventbus.reconnect_wait",

	"snapshot_backend":      "snapshot.backend",
	"snapshot_badger_path":  "snapshot.badger_path",
	"database_url":          "snapshot.database_url",
	"snapshot_recent_limit": "snapshot.recent_limit",

	"driver_vehicle_id":        "publisher.vehicle_id",
	"driver_server_url":        "publisher.server_url",
	"driver_interval":          "publisher.interval",
	"driver_source":            "publisher.source",
	"driver_route_file":        "publisher.route_file",
	"driver_sample_interval":   "publisher.sample_interval",
	"driver_gtfsrt_url":        "publisher.gtfsrt_url",
	"driver_gtfsrt_vehicle_id": "publisher.gtfsrt_vehicle_id",
	"driver_poll_interval":     "publisher.poll_interval",
	"driver_max_failures":      "publisher.max_failures",

	"viewer_vehicle_id":         "viewer.vehicle_id",
	"viewer_server_url":         "viewer.server_url",
	"viewer_trail_capacity":     "viewer.trail_capacity",
	"viewer_feed_capacity":      "viewer.feed_capacity",
	"viewer_default_lat":        "viewer.default_lat",
	"viewer_default_lng":        "viewer.default_lng",
	"viewer_fetch_timeout":      "viewer.fetch_timeout",
	"viewer_reconnect_interval": "viewer.reconnect_interval",

	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"inbound_rate":        "security.inbound_rate",
	"inbound_burst":       "security.inbound_burst",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable to its config key.
// Unmapped variables return "" and are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
