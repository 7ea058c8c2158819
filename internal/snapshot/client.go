// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/bustrack/internal/logging"
	"github.com/tomtom215/bustrack/internal/models"
)

// maxSnapshotBody caps the response body read by FetchSnapshot.
const maxSnapshotBody = 1 << 20

// ClientConfig configures a snapshot Client.
type ClientConfig struct {
	// BaseURL is the server root, e.g. http://localhost:3857.
	BaseURL string

	// Timeout bounds a single fetch. Zero means 5s.
	Timeout time.Duration

	// FailureThreshold is the consecutive failures that open the breaker.
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before a trial request.
	OpenTimeout time.Duration

	HTTPClient *http.Client
}

// Client fetches vehicle snapshots over HTTP behind a circuit breaker, so a
// down server fails fast instead of stalling every reconnect.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[models.Snapshot]
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient validates cfg.BaseURL and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid snapshot base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	logger := logging.WithComponent("snapshot-client")
	settings := gobreaker.Settings{
		Name:        "snapshot-fetch",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, models.ErrVehicleNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Snapshot circuit breaker state changed")
		},
	}

	return &Client{
		base:    base,
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		cb:      gobreaker.NewCircuitBreaker[models.Snapshot](settings),
	}, nil
}

// FetchSnapshot returns the server's snapshot of vehicle. A vehicle the
// server has never seen yields models.ErrVehicleNotFound; every other
// failure wraps models.ErrSnapshotFetchFailed.
func (c *Client) FetchSnapshot(ctx context.Context, vehicle models.VehicleID) (models.Snapshot, error) {
	s, err := c.cb.Execute(func() (models.Snapshot, error) {
		return c.fetch(ctx, vehicle)
	})
	if err == nil || errors.Is(err, models.ErrVehicleNotFound) || errors.Is(err, models.ErrSnapshotFetchFailed) {
		return s, err
	}
	// Breaker rejections (open or too many half-open requests).
	return models.Snapshot{}, fmt.Errorf("%w: %w", models.ErrSnapshotFetchFailed, err)
}

// BreakerState reports the circuit breaker state for status output.
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

func (c *Client) fetch(ctx context.Context, vehicle models.VehicleID) (models.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.base.JoinPath("api", "v1", "vehicles", string(vehicle))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), http.NoBody)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: %w", models.ErrSnapshotFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: %w", models.ErrSnapshotFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBody))
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: read body: %w", models.ErrSnapshotFetchFailed, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return models.Snapshot{}, fmt.Errorf("%w: %s", models.ErrVehicleNotFound, vehicle)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Snapshot{}, fmt.Errorf("%w: unexpected status %d", models.ErrSnapshotFetchFailed, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: decode envelope: %w", models.ErrSnapshotFetchFailed, err)
	}
	if !env.Success {
		msg := "unsuccessful response"
		if env.Error != nil {
			msg = env.Error.Code + ": " + env.Error.Message
		}
		return models.Snapshot{}, fmt.Errorf("%w: %s", models.ErrSnapshotFetchFailed, msg)
	}

	var s models.Snapshot
	if err := json.Unmarshal(env.Data, &s); err != nil {
		return models.Snapshot{}, fmt.Errorf("%w: decode snapshot: %w", models.ErrSnapshotFetchFailed, err)
	}
	if s.VehicleID == "" {
		s.VehicleID = vehicle
	}
	if s.RecentNotifications == nil {
		s.RecentNotifications = []models.NotificationEvent{}
	}
	return s, nil
}
