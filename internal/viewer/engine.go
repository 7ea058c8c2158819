// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package viewer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/bustrack/internal/logging"
	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/wsclient"
)

// Source tells where the current marker position came from.
type Source string

const (
	SourceNone     Source = ""
	SourceLive     Source = "live"
	SourceSnapshot Source = "snapshot"
	SourceDefault  Source = "default"
)

// SnapshotFetcher is the fallback data source consulted on cold start.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, vehicle models.VehicleID) (models.Snapshot, error)
}

// Connection is the live event transport. *wsclient.Manager implements it.
type Connection interface {
	Subscribe(vehicle models.VehicleID) error
	Unsubscribe(vehicle models.VehicleID) error
	Messages() <-chan models.Message
	Events() <-chan wsclient.ConnEvent
}

// Config configures an Engine.
type Config struct {
	TrailCapacity int
	FeedCapacity  int
	// DefaultPosition is shown when no snapshot is available.
	DefaultPosition models.Position
	FetchTimeout    time.Duration
}

// View is an immutable projection of the engine state for rendering.
type View struct {
	VehicleID models.VehicleID
	// Marker is nil until a position is known.
	Marker *models.Position
	Trail  []models.Position
	Feed   []models.NotificationEvent
	// Stale is true while the marker comes from a snapshot or the default
	// position and no live update has arrived yet.
	Stale  bool
	Source Source
	// FallbackReason explains a default position, e.g. the fetch error.
	FallbackReason string
}

// Engine is the viewer reconciliation engine of one viewer session. It owns
// its Trail and Feed; state changes are announced on Updates.
type Engine struct {
	cfg      Config
	snapshot SnapshotFetcher
	conn     Connection
	logger   zerolog.Logger

	mu       sync.Mutex
	vehicle  models.VehicleID
	gen      uint64
	trail    *Trail
	feed     *Feed
	marker   *models.Position
	source   Source
	fallback string

	updates chan View
}

// NewEngine creates an engine with no vehicle of interest. conn may be nil
// for an engine fed only through OnLocationUpdate and OnNotification.
func NewEngine(cfg Config, snapshot SnapshotFetcher, conn Connection) *Engine {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		snapshot: snapshot,
		conn:     conn,
		logger:   logging.WithComponent("viewer"),
		trail:    NewTrail(cfg.TrailCapacity),
		feed:     NewFeed(cfg.FeedCapacity),
		updates:  make(chan View, 1),
	}
}

// Updates delivers the latest View after every state change. Only the most
// recent view is buffered; a slow reader skips intermediate ones.
func (e *Engine) Updates() <-chan View {
	return e.updates
}

// Vehicle returns the vehicle of interest.
func (e *Engine) Vehicle() models.VehicleID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vehicle
}

// Watch switches interest to vehicle: the previous vehicle is unsubscribed,
// trail and feed are reset, the new vehicle is subscribed and cold started.
func (e *Engine) Watch(ctx context.Context, vehicle models.VehicleID) error {
	e.mu.Lock()
	previous := e.vehicle
	e.vehicle = vehicle
	e.gen++
	e.trail.Reset(nil)
	e.feed.Reset()
	e.marker = nil
	e.source = SourceNone
	e.fallback = ""
	e.mu.Unlock()

	if e.conn != nil {
		if previous != "" && previous != vehicle {
			if err := e.conn.Unsubscribe(previous); err != nil {
				e.logger.Warn().Err(err).Str("vehicle_id", string(previous)).Msg("Unsubscribe failed")
			}
		}
		if err := e.conn.Subscribe(vehicle); err != nil {
			return err
		}
	}

	e.ColdStart(ctx)
	return nil
}

// ColdStart seeds the view from the fallback data source: a snapshot
// position becomes the single trail entry, and a failed fetch falls back to
// the configured default position. Live state that arrived meanwhile wins.
func (e *Engine) ColdStart(ctx context.Context) {
	e.mu.Lock()
	vehicle, gen := e.vehicle, e.gen
	e.mu.Unlock()
	if vehicle == "" {
		return
	}

	var (
		snap models.Snapshot
		err  = models.ErrSnapshotFetchFailed
	)
	if e.snapshot != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
		snap, err = e.snapshot.FetchSnapshot(fetchCtx, vehicle)
		cancel()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}

	if err == nil {
		for i := len(snap.RecentNotifications) - 1; i >= 0; i-- {
			e.feed.Insert(snap.RecentNotifications[i])
		}
	}
	if e.source == SourceLive {
		e.publishLocked()
		return
	}

	switch {
	case err == nil && snap.Position != nil:
		if e.source == SourceSnapshot && e.marker != nil && snap.Position.ObservedAt.Before(e.marker.ObservedAt) {
			break
		}
		p := *snap.Position
		e.trail.Reset(&p)
		e.marker = &p
		e.source = SourceSnapshot
		e.fallback = ""
	case e.source == SourceSnapshot:
		// A welcome snapshot arrived while the fetch was failing.
	default:
		reason := "no position recorded"
		if err != nil {
			reason = err.Error()
			if !errors.Is(err, models.ErrVehicleNotFound) {
				e.logger.Warn().Err(err).Str("vehicle_id", string(vehicle)).Msg("Snapshot unavailable, using default position")
			}
		}
		p := e.cfg.DefaultPosition
		e.trail.Reset(nil)
		e.marker = &p
		e.source = SourceDefault
		e.fallback = reason
	}
	e.publishLocked()
}

// OnLocationUpdate applies a live update for the vehicle of interest and
// reports whether the view changed. Updates for other vehicles are ignored.
// An update older than the newest trail entry returns
// models.ErrOutOfOrderPosition and changes nothing.
func (e *Engine) OnLocationUpdate(u models.LocationUpdate) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u.VehicleID != e.vehicle {
		return false, nil
	}

	p := u.Position()
	appended, err := e.trail.Add(p)
	if err != nil {
		return false, err
	}

	changed := appended || e.source != SourceLive
	if appended {
		e.marker = &p
	} else if e.marker == nil || !e.marker.SameCoordinates(p) {
		// Coalesced against the trail but the marker shows a default position.
		e.marker = &p
		changed = true
	}
	e.source = SourceLive
	e.fallback = ""
	if changed {
		e.publishLocked()
	}
	return changed, nil
}

// OnSnapshotLocation seeds the view from a recorded position pushed by the
// broker on subscribe. The view stays stale until a live update arrives, and
// it is ignored once live state exists or when older than the current
// snapshot marker.
func (e *Engine) OnSnapshotLocation(u models.LocationUpdate) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if u.VehicleID != e.vehicle || e.source == SourceLive {
		return false
	}
	p := u.Position()
	if e.source == SourceSnapshot && e.marker != nil && p.ObservedAt.Before(e.marker.ObservedAt) {
		return false
	}
	e.trail.Reset(&p)
	e.marker = &p
	e.source = SourceSnapshot
	e.fallback = ""
	e.publishLocked()
	return true
}

// OnNotification inserts a notification for the vehicle of interest unless
// its id is already known. It reports whether the feed changed.
func (e *Engine) OnNotification(n models.NotificationEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n.VehicleID != e.vehicle {
		return false
	}
	if !e.feed.Insert(n) {
		return false
	}
	e.publishLocked()
	return true
}

// Render returns the current view without changing state.
func (e *Engine) Render() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renderLocked()
}

// Run applies live events from the connection until ctx ends or the
// connection's message channel closes. A reconnect clears the trail and
// re-runs cold start; missed history is not reconstructed.
func (e *Engine) Run(ctx context.Context) error {
	if e.conn == nil {
		return errors.New("viewer engine has no connection")
	}
	msgs, events := e.conn.Messages(), e.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			e.Apply(msg)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.onConnEvent(ctx, ev)
		}
	}
}

// Apply dispatches one decoded frame.
func (e *Engine) Apply(msg models.Message) {
	if msg.Type == models.EventLocationSnapshot {
		if u, ok := msg.Data.(models.LocationUpdate); ok {
			e.OnSnapshotLocation(u)
		}
		return
	}
	switch d := msg.Data.(type) {
	case models.LocationUpdate:
		if _, err := e.OnLocationUpdate(d); err != nil {
			e.logger.Debug().Err(err).Str("vehicle_id", string(d.VehicleID)).Msg("Dropped location update")
		}
	case models.NotificationMessage:
		e.OnNotification(d.Event())
	case models.ErrorPayload:
		e.logger.Warn().Str("code", d.Code).Str("message", d.Message).Msg("Server rejected a frame")
	}
}

func (e *Engine) onConnEvent(ctx context.Context, ev wsclient.ConnEvent) {
	switch ev.Kind {
	case wsclient.EventDisconnected:
		e.logger.Warn().Err(ev.Err).Msg("Live connection lost")
	case wsclient.EventReconnected:
		e.mu.Lock()
		e.gen++
		e.trail.Reset(nil)
		e.source = SourceNone
		e.mu.Unlock()
		e.ColdStart(ctx)
	}
}

func (e *Engine) renderLocked() View {
	v := View{
		VehicleID:      e.vehicle,
		Trail:          e.trail.Points(),
		Feed:           e.feed.Entries(),
		Source:         e.source,
		Stale:          e.source == SourceSnapshot || e.source == SourceDefault,
		FallbackReason: e.fallback,
	}
	if e.marker != nil {
		m := *e.marker
		v.Marker = &m
	}
	return v
}

// publishLocked replaces any unread view with the current one.
func (e *Engine) publishLocked() {
	v := e.renderLocked()
	select {
	case <-e.updates:
	default:
	}
	select {
	case e.updates <- v:
	default:
	}
}
