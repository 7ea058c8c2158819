// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package positionsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/validation"
)

// Waypoint is one point of a simulated route.
type Waypoint struct {
	Name string  `yaml:"name" json:"name"`
	Lat  float64 `yaml:"lat" json:"lat" validate:"latitude"`
	Lng  float64 `yaml:"lng" json:"lng" validate:"longitude"`
}

// Route is a named loop of waypoints, as read from a YAML route file:
//
//	name: Campus Loop
//	waypoints:
//	  - {name: Main Gate, lat: 23.8103, lng: 90.4125}
//	  - {name: Library, lat: 23.8118, lng: 90.4139}
type Route struct {
	Name      string     `yaml:"name" json:"name"`
	Waypoints []Waypoint `yaml:"waypoints" json:"waypoints" validate:"min=1,dive"`
}

// DefaultRoute is used when no route file is configured.
func DefaultRoute() Route {
	return Route{
		Name: "Campus Loop",
		Waypoints: []Waypoint{
			{Name: "Main Gate", Lat: 23.8103, Lng: 90.4125},
			{Name: "Science Building", Lat: 23.8110, Lng: 90.4131},
			{Name: "Library", Lat: 23.8118, Lng: 90.4139},
			{Name: "Student Center", Lat: 23.8126, Lng: 90.4133},
			{Name: "Dormitories", Lat: 23.8121, Lng: 90.4119},
			{Name: "Sports Complex", Lat: 23.8109, Lng: 90.4112},
		},
	}
}

// LoadRoute reads and validates a YAML route file.
func LoadRoute(path string) (Route, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Route{}, fmt.Errorf("read route file: %w", err)
	}
	var r Route
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Route{}, fmt.Errorf("parse route file %s: %w", path, err)
	}
	if verr := validation.ValidateStruct(r); verr != nil {
		return Route{}, fmt.Errorf("invalid route file %s: %w", path, verr)
	}
	return r, nil
}

// Simulated replays a route in a loop, one waypoint per interval.
type Simulated struct {
	route    Route
	interval time.Duration
	now      func() time.Time
}

// NewSimulated creates a simulated source. A non-positive interval means 2s.
func NewSimulated(route Route, interval time.Duration) *Simulated {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Simulated{route: route, interval: interval, now: time.Now}
}

// Watch emits the first waypoint immediately and the next one every interval.
func (s *Simulated) Watch(ctx context.Context, out chan<- models.Position) error {
	if len(s.route.Waypoints) == 0 {
		return fmt.Errorf("%w: route %q has no waypoints", models.ErrPositionUnavailable, s.route.Name)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i := 0; ; i = (i + 1) % len(s.route.Waypoints) {
		wp := s.route.Waypoints[i]
		p := models.Position{Lat: wp.Lat, Lng: wp.Lng, Description: wp.Name, ObservedAt: s.now().UTC()}
		if !send(ctx, out, p) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

// errManualClosed is returned by Manual after Close.
var errManualClosed = errors.New("manual source closed")

// Manual is fed by its owner through Push and Fail, e.g. from operator
// input or a test.
type Manual struct {
	samples chan models.Position
	failure chan error
}

// NewManual creates an empty manual source.
func NewManual() *Manual {
	return &Manual{
		samples: make(chan models.Position, 16),
		failure: make(chan error, 1),
	}
}

// Push queues a sample. A zero ObservedAt is set to now. It reports false
// when the queue is full.
func (m *Manual) Push(p models.Position) bool {
	if p.ObservedAt.IsZero() {
		p.ObservedAt = time.Now().UTC()
	}
	select {
	case m.samples <- p:
		return true
	default:
		return false
	}
}

// Fail makes the active (or next) Watch return err wrapped in
// models.ErrPositionUnavailable.
func (m *Manual) Fail(err error) {
	if err == nil {
		err = errManualClosed
	}
	select {
	case m.failure <- err:
	default:
	}
}

// Watch forwards pushed samples until ctx ends or Fail is called.
func (m *Manual) Watch(ctx context.Context, out chan<- models.Position) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-m.failure:
			return fmt.Errorf("%w: %w", models.ErrPositionUnavailable, err)
		case p := <-m.samples:
			if !send(ctx, out, p) {
				return nil
			}
		}
	}
}
