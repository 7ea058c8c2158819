// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

// Package snapshot implements the fallback data source: the last known
// position and recent notifications of every vehicle.
//
// The server side records state through a Store (memory, BadgerDB or
// Postgres) and serves it at GET /api/v1/vehicles/{vehicleId}. Viewers read
// it through Client on cold start and after a connectivity gap.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/bustrack/internal/models"
)

// DefaultRecentLimit is how many notifications a snapshot keeps per vehicle.
const DefaultRecentLimit = 20

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Store persists last known vehicle state. Implementations are safe for
// concurrent use.
type Store interface {
	// Get returns the snapshot of vehicle, or models.ErrVehicleNotFound.
	Get(ctx context.Context, vehicle models.VehicleID) (models.Snapshot, error)

	// RecordLocation stores p unless the stored position is newer.
	RecordLocation(ctx context.Context, vehicle models.VehicleID, p models.Position) error

	// RecordNotification prepends e, ignoring an id already stored, and
	// trims the list to the store's limit.
	RecordNotification(ctx context.Context, e models.NotificationEvent) error

	Close() error
}

// Options selects and configures a Store.
type Options struct {
	Backend     string
	BadgerPath  string
	DatabaseURL string
	RecentLimit int
}

// Open creates the Store named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = DefaultRecentLimit
	}
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemoryStore(opts.RecentLimit), nil
	case BackendBadger:
		return OpenBadgerStore(opts.BadgerPath, opts.RecentLimit)
	case BackendPostgres:
		return OpenPostgresStore(ctx, opts.DatabaseURL, opts.RecentLimit)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", opts.Backend)
	}
}

// applyLocation updates s with p. It reports false when the stored
// position is newer than p.
func applyLocation(s *models.Snapshot, p models.Position, now time.Time) bool {
	if s.Position != nil && p.ObservedAt.Before(s.Position.ObservedAt) {
		return false
	}
	pos := p
	s.Position = &pos
	s.UpdatedAt = now
	return true
}

// applyNotification prepends e to s. It reports false for a known id.
func applyNotification(s *models.Snapshot, e models.NotificationEvent, limit int, now time.Time) bool {
	for i := range s.RecentNotifications {
		if s.RecentNotifications[i].ID == e.ID {
			return false
		}
	}
	recent := make([]models.NotificationEvent, 0, min(len(s.RecentNotifications)+1, limit))
	recent = append(recent, e)
	for _, n := range s.RecentNotifications {
		if len(recent) == limit {
			break
		}
		recent = append(recent, n)
	}
	s.RecentNotifications = recent
	s.UpdatedAt = now
	return true
}

func cloneSnapshot(s models.Snapshot) models.Snapshot {
	out := s
	if s.Position != nil {
		p := *s.Position
		out.Position = &p
	}
	out.RecentNotifications = append([]models.NotificationEvent(nil), s.RecentNotifications...)
	if out.RecentNotifications == nil {
		out.RecentNotifications = []models.NotificationEvent{}
	}
	return out
}
