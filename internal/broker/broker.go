// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

// Package broker fans location updates and notifications out to the viewer
// sessions subscribed to a vehicle.
//
// Publishing validates the event, records it in the snapshot store and
// hands it to the event bus; the bus consumer calls Deliver, which looks up
// the vehicle's subscribers in the channel registry and enqueues the event
// on each session without blocking. A full or closed session loses that one
// delivery and nothing else. Without a bus, Publish fans out directly.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/bustrack/internal/eventbus"
	"github.com/tomtom215/bustrack/internal/logging"
	"github.com/tomtom215/bustrack/internal/metrics"
	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/registry"
	"github.com/tomtom215/bustrack/internal/snapshot"
	"github.com/tomtom215/bustrack/internal/validation"
)

// Session is one connected viewer or driver as seen by the broker.
type Session interface {
	ID() registry.SessionID

	// Deliver enqueues msg without blocking. It reports false when the
	// message was dropped because the session is backed up or closed.
	Deliver(msg models.Message) bool
}

// Config tunes the broker.
type Config struct {
	// MaxSubscriptionsPerSession caps the vehicles one session may watch.
	MaxSubscriptionsPerSession int

	// WelcomeSnapshot pushes the latest known location on subscribe.
	WelcomeSnapshot bool
}

// Broker routes events from publishers to subscribed sessions.
type Broker struct {
	registry *registry.Registry
	store    snapshot.Store
	bus      eventbus.Bus
	welcome  bool
	now      func() time.Time
	logger   zerolog.Logger

	mu       sync.RWMutex
	sessions map[registry.SessionID]Session

	latestMu sync.RWMutex
	latest   map[models.VehicleID]models.LocationUpdate
}

// New creates a Broker. store may be nil, in which case nothing is recorded
// and Snapshot always reports models.ErrVehicleNotFound.
func New(store snapshot.Store, cfg Config) *Broker {
	return &Broker{
		registry: registry.New(cfg.MaxSubscriptionsPerSession),
		store:    store,
		welcome:  cfg.WelcomeSnapshot,
		now:      time.Now,
		logger:   logging.WithComponent("broker"),
		sessions: make(map[registry.SessionID]Session),
		latest:   make(map[models.VehicleID]models.LocationUpdate),
	}
}

// SetBus routes publishes through bus. The caller must run bus.Run(ctx, b)
// so that consumed events reach Deliver.
func (b *Broker) SetBus(bus eventbus.Bus) {
	b.bus = bus
}

// Registry exposes the channel registry, mainly for stats.
func (b *Broker) Registry() *registry.Registry {
	return b.registry
}

// Attach makes s reachable for fan-out.
func (b *Broker) Attach(s Session) {
	b.mu.Lock()
	b.sessions[s.ID()] = s
	n := len(b.sessions)
	b.mu.Unlock()

	metrics.SessionsConnected.Set(float64(n))
}

// Detach forgets the session and removes every subscription it held. It
// must run on every disconnect, graceful or not.
func (b *Broker) Detach(id registry.SessionID) {
	b.mu.Lock()
	delete(b.sessions, id)
	n := len(b.sessions)
	b.mu.Unlock()

	vehicles := b.registry.OnSessionClosed(id)
	metrics.SessionsConnected.Set(float64(n))

	if len(vehicles) > 0 {
		b.logger.Debug().
			Str("session_id", string(id)).
			Int("subscriptions", len(vehicles)).
			Msg("Released subscriptions of closed session")
	}
}

// Subscribe registers the session for vehicle and, when enabled, sends it
// the latest known location of that vehicle as a location-snapshot frame.
func (b *Broker) Subscribe(vehicle models.VehicleID, id registry.SessionID) error {
	if verr := validation.ValidateStruct(models.VehicleRef{VehicleID: vehicle}); verr != nil {
		return verr
	}
	if err := b.registry.Subscribe(vehicle, id); err != nil {
		return err
	}
	if !b.welcome {
		return nil
	}

	b.latestMu.RLock()
	update, ok := b.latest[vehicle]
	b.latestMu.RUnlock()
	if !ok {
		return nil
	}

	b.mu.RLock()
	s := b.sessions[id]
	b.mu.RUnlock()
	if s != nil && !s.Deliver(models.Message{Type: models.EventLocationSnapshot, Data: update}) {
		metrics.RecordDrop(metrics.DropQueueFull)
	}
	return nil
}

// Unsubscribe removes the session from vehicle's subscribers.
func (b *Broker) Unsubscribe(vehicle models.VehicleID, id registry.SessionID) {
	b.registry.Unsubscribe(vehicle, id)
}

// PublishLocation validates and publishes a location-update. A zero
// timestamp is set to the current time.
func (b *Broker) PublishLocation(ctx context.Context, update models.LocationUpdate) error {
	if verr := validation.ValidateStruct(update); verr != nil {
		metrics.RecordInboundRejected("invalid")
		return verr
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = b.now().UTC()
	}

	b.latestMu.Lock()
	if prev, ok := b.latest[update.VehicleID]; !ok || !update.Timestamp.Before(prev.Timestamp) {
		b.latest[update.VehicleID] = update
	}
	b.latestMu.Unlock()

	if b.store != nil {
		if err := b.store.RecordLocation(ctx, update.VehicleID, update.Position()); err != nil {
			metrics.SnapshotWriteErrors.Inc()
			b.logger.Warn().Err(err).Str("vehicle_id", update.VehicleID.String()).Msg("Failed to record location snapshot")
		}
	}

	return b.publish(ctx, update.VehicleID, models.Message{Type: models.EventLocationUpdate, Data: update})
}

// PublishNotification validates and publishes a notification. A missing id
// is replaced by a fresh one and a zero timestamp by the current time; the
// event as published is returned.
func (b *Broker) PublishNotification(ctx context.Context, e models.NotificationEvent) (models.NotificationEvent, error) {
	if e.ID == "" {
		e.ID = models.NewNotificationID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = b.now().UTC()
	}
	payload := models.NewNotificationMessage(e)
	if verr := validation.ValidateStruct(payload); verr != nil {
		metrics.RecordInboundRejected("invalid")
		return e, verr
	}

	if b.store != nil {
		if err := b.store.RecordNotification(ctx, e); err != nil {
			metrics.SnapshotWriteErrors.Inc()
			b.logger.Warn().Err(err).Str("vehicle_id", e.VehicleID.String()).Msg("Failed to record notification snapshot")
		}
	}

	return e, b.publish(ctx, e.VehicleID, models.Message{Type: models.EventNotification, Data: payload})
}

func (b *Broker) publish(ctx context.Context, vehicle models.VehicleID, msg models.Message) error {
	metrics.RecordPublish(msg.Type)
	if b.bus == nil {
		b.Deliver(ctx, msg)
		return nil
	}
	return b.bus.Publish(ctx, vehicle, msg)
}

// Deliver fans msg out to the current subscribers of its vehicle. It never
// blocks on a session.
func (b *Broker) Deliver(_ context.Context, msg models.Message) {
	vehicle := models.VehicleOf(msg)
	if vehicle == "" {
		return
	}

	start := time.Now()
	subscribers := b.registry.SubscribersOf(vehicle)
	delivered := 0

	b.mu.RLock()
	for _, id := range subscribers {
		s, ok := b.sessions[id]
		if !ok {
			metrics.RecordDrop(metrics.DropSessionClosed)
			continue
		}
		if !s.Deliver(msg) {
			metrics.RecordDrop(metrics.DropQueueFull)
			b.logger.Debug().
				Str("vehicle_id", vehicle.String()).
				Str("session_id", string(id)).
				Str("type", msg.Type).
				Msg("Delivery dropped")
			continue
		}
		delivered++
	}
	b.mu.RUnlock()

	metrics.RecordFanOut(msg.Type, delivered, time.Since(start))
}

// Snapshot returns the recorded state of vehicle.
func (b *Broker) Snapshot(ctx context.Context, vehicle models.VehicleID) (models.Snapshot, error) {
	if b.store == nil {
		return models.Snapshot{}, models.ErrVehicleNotFound
	}
	return b.store.Get(ctx, vehicle)
}

// Stats reports registry counts.
func (b *Broker) Stats() registry.Stats {
	return b.registry.Stats()
}
