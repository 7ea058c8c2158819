// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package config

import (
	"fmt"
	"net/url"

	"github.com/tomtom215/bustrack/internal/validation"
)

// Validate checks the sections shared by every binary.
func (c *Config) Validate() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}
	if err := c.validateEventBus(); err != nil {
		return err
	}
	if err := c.validateSnapshot(); err != nil {
		return err
	}
	return c.validateSecurity()
}

func (c *Config) validateEventBus() error {
	if c.EventBus.Mode != "nats" {
		return nil
	}
	if !c.EventBus.Embedded && c.EventBus.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required when EVENTBUS_MODE=nats and NATS_EMBEDDED=false")
	}
	if c.EventBus.StreamName == "" {
		return fmt.Errorf("NATS_STREAM is required when EVENTBUS_MODE=nats")
	}
	return nil
}

func (c *Config) validateSnapshot() error {
	switch c.Snapshot.Backend {
	case "badger":
		if c.Snapshot.BadgerPath == "" {
			return fmt.Errorf("SNAPSHOT_BADGER_PATH is required when SNAPSHOT_BACKEND=badger")
		}
	case "postgres":
		if c.Snapshot.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SNAPSHOT_BACKEND=postgres")
		}
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs <= 0 || c.Security.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive")
	}
	if c.Security.InboundRate <= 0 || c.Security.InboundBurst <= 0 {
		return fmt.Errorf("INBOUND_RATE and INBOUND_BURST must be positive")
	}
	return nil
}

// ValidateDriver checks the publisher section for the driver binary.
func (c *Config) ValidateDriver() error {
	p := c.Publisher
	if p.VehicleID == "" {
		return fmt.Errorf("DRIVER_VEHICLE_ID is required")
	}
	if err := validateServerURL("DRIVER_SERVER_URL", p.ServerURL); err != nil {
		return err
	}
	if p.Interval <= 0 {
		return fmt.Errorf("DRIVER_INTERVAL must be positive")
	}
	switch p.Source {
	case "sim":
		// An empty RouteFile replays the built-in campus loop.
		if p.SampleInterval <= 0 {
			return fmt.Errorf("DRIVER_SAMPLE_INTERVAL must be positive")
		}
	case "gtfsrt":
		if p.GTFSRTURL == "" {
			return fmt.Errorf("DRIVER_GTFSRT_URL is required when DRIVER_SOURCE=gtfsrt")
		}
		if p.PollInterval <= 0 || p.MaxFailures <= 0 {
			return fmt.Errorf("DRIVER_POLL_INTERVAL and DRIVER_MAX_FAILURES must be positive")
		}
	}
	return nil
}

// ValidateViewer checks the viewer section for the viewer binary.
func (c *Config) ValidateViewer() error {
	if c.Viewer.VehicleID == "" {
		return fmt.Errorf("VIEWER_VEHICLE_ID is required")
	}
	if c.Viewer.FetchTimeout <= 0 || c.Viewer.ReconnectInterval <= 0 {
		return fmt.Errorf("VIEWER_FETCH_TIMEOUT and VIEWER_RECONNECT_INTERVAL must be positive")
	}
	return validateServerURL("VIEWER_SERVER_URL", c.Viewer.ServerURL)
}

func validateServerURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", name, u.Scheme)
	}
	return nil
}

// WebSocketURL converts an http(s) server URL to the ws(s) socket endpoint.
func WebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/ws"
	return u.String(), nil
}
