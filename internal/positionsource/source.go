// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

// Package positionsource provides the device position feeds a tracking
// publisher samples: a simulated route replay, a GTFS-Realtime vehicle
// positions poller and a manually fed source.
package positionsource

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/bustrack/internal/models"
)

// Source kinds accepted by New.
const (
	KindSimulated = "sim"
	KindGTFSRT    = "gtfsrt"
	KindManual    = "manual"
)

// Source is a continuous position feed.
//
// Watch sends samples to out until ctx ends, returning nil. A failure of
// the underlying feed ends the watch with an error wrapping
// models.ErrPositionUnavailable. Watch never closes out.
type Source interface {
	Watch(ctx context.Context, out chan<- models.Position) error
}

// Options selects and configures a Source.
type Options struct {
	Kind string

	// Simulated
	RouteFile      string
	SampleInterval time.Duration

	// GTFS-Realtime
	FeedURL      string
	FeedVehicle  string
	PollInterval time.Duration
	MaxFailures  int
}

// New builds the Source named by opts.Kind.
func New(opts Options) (Source, error) {
	switch opts.Kind {
	case KindSimulated, "":
		route := DefaultRoute()
		if opts.RouteFile != "" {
			r, err := LoadRoute(opts.RouteFile)
			if err != nil {
				return nil, err
			}
			route = r
		}
		return NewSimulated(route, opts.SampleInterval), nil
	case KindGTFSRT:
		return NewGTFSRT(GTFSRTConfig{
			URL:          opts.FeedURL,
			VehicleID:    opts.FeedVehicle,
			PollInterval: opts.PollInterval,
			MaxFailures:  opts.MaxFailures,
		})
	case KindManual:
		return NewManual(), nil
	default:
		return nil, fmt.Errorf("unknown position source %q", opts.Kind)
	}
}

// send delivers p unless ctx ends first.
func send(ctx context.Context, out chan<- models.Position, p models.Position) bool {
	select {
	case out <- p:
		return true
	case <-ctx.Done():
		return false
	}
}
