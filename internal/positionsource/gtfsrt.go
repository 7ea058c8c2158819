// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package positionsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/tomtom215/bustrack/internal/logging"
	"github.com/tomtom215/bustrack/internal/models"
)

// errVehicleNotInFeed marks a poll that succeeded but carried no position
// for the tracked vehicle. It does not count as a failure.
var errVehicleNotInFeed = errors.New("vehicle not in feed")

// GTFSRTConfig configures a GTFS-Realtime vehicle positions poller.
type GTFSRTConfig struct {
	URL string
	// VehicleID matches VehicleDescriptor.id, or .label when no id matches.
	VehicleID    string
	PollInterval time.Duration
	// MaxFailures consecutive failed polls end the watch.
	MaxFailures int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// GTFSRT polls a GTFS-Realtime VehiclePositions feed and emits the position
// of one vehicle whenever the feed reports a newer one.
type GTFSRT struct {
	cfg  GTFSRTConfig
	http *http.Client
}

// NewGTFSRT validates cfg and applies defaults: 10s poll, 3 failures, 10s timeout.
func NewGTFSRT(cfg GTFSRTConfig) (*GTFSRT, error) {
	if cfg.URL == "" {
		return nil, errors.New("gtfs-rt source requires a feed url")
	}
	if cfg.VehicleID == "" {
		return nil, errors.New("gtfs-rt source requires a feed vehicle id")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &GTFSRT{cfg: cfg, http: client}, nil
}

// Watch polls immediately and then every PollInterval.
func (g *GTFSRT) Watch(ctx context.Context, out chan<- models.Position) error {
	logger := logging.WithComponent("gtfsrt-source")
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	var last time.Time
	failures := 0
	for {
		p, err := g.poll(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errVehicleNotInFeed):
			logger.Debug().Str("feed_vehicle", g.cfg.VehicleID).Msg("Vehicle not present in feed")
		case err != nil:
			failures++
			logger.Warn().Err(err).Int("failures", failures).Msg("GTFS-RT poll failed")
			if failures >= g.cfg.MaxFailures {
				return fmt.Errorf("%w: %d consecutive feed failures: %w", models.ErrPositionUnavailable, failures, err)
			}
		default:
			failures = 0
			if p.ObservedAt.After(last) {
				last = p.ObservedAt
				if !send(ctx, out, p) {
					return nil
				}
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (g *GTFSRT) poll(ctx context.Context) (models.Position, error) {
	feed, err := g.fetchFeed(ctx)
	if err != nil {
		return models.Position{}, err
	}
	p, ok := FindVehicle(feed, g.cfg.VehicleID)
	if !ok {
		return models.Position{}, errVehicleNotInFeed
	}
	return p, nil
}

func (g *GTFSRT) fetchFeed(ctx context.Context) (*gtfsrtpb.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/x-protobuf")

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %s", resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	var fm gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(b, &fm); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return &fm, nil
}

// FindVehicle returns the position the feed reports for vehicleID, matched
// on the descriptor id first and the label second. ObservedAt is the
// vehicle timestamp, falling back to the feed header timestamp.
func FindVehicle(fm *gtfsrtpb.FeedMessage, vehicleID string) (models.Position, bool) {
	var byLabel *gtfsrtpb.VehiclePosition
	for _, e := range fm.GetEntity() {
		vp := e.GetVehicle()
		if vp == nil || vp.GetPosition() == nil {
			continue
		}
		desc := vp.GetVehicle()
		if desc.GetId() == vehicleID {
			return toPosition(fm, vp), true
		}
		if byLabel == nil && desc.GetLabel() == vehicleID {
			byLabel = vp
		}
	}
	if byLabel != nil {
		return toPosition(fm, byLabel), true
	}
	return models.Position{}, false
}

func toPosition(fm *gtfsrtpb.FeedMessage, vp *gtfsrtpb.VehiclePosition) models.Position {
	ts := vp.GetTimestamp()
	if ts == 0 {
		ts = fm.GetHeader().GetTimestamp()
	}
	observed := time.Now().UTC()
	if ts > 0 {
		observed = time.Unix(int64(ts), 0).UTC()
	}

	desc := ""
	if trip := vp.GetTrip(); trip.GetRouteId() != "" {
		desc = "Route " + trip.GetRouteId()
	}
	return models.Position{
		Lat:         float64(vp.GetPosition().GetLatitude()),
		Lng:         float64(vp.GetPosition().GetLongitude()),
		Description: desc,
		ObservedAt:  observed,
	}
}
