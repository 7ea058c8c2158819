// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/bustrack/internal/models"
)

// MemoryStore keeps snapshots in process memory. State is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	limit    int
	vehicles map[models.VehicleID]models.Snapshot
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(recentLimit int) *MemoryStore {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return &MemoryStore{
		limit:    recentLimit,
		vehicles: make(map[models.VehicleID]models.Snapshot),
		now:      time.Now,
	}
}

// Get returns a copy of the vehicle's snapshot.
func (m *MemoryStore) Get(_ context.Context, vehicle models.VehicleID) (models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.vehicles[vehicle]
	if !ok {
		return models.Snapshot{}, models.ErrVehicleNotFound
	}
	return cloneSnapshot(s), nil
}

// RecordLocation stores p unless a newer position is held.
func (m *MemoryStore) RecordLocation(_ context.Context, vehicle models.VehicleID, p models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.vehicles[vehicle]
	s.VehicleID = vehicle
	if applyLocation(&s, p, m.now()) {
		m.vehicles[vehicle] = s
	}
	return nil
}

// RecordNotification prepends e unless its id is already held.
func (m *MemoryStore) RecordNotification(_ context.Context, e models.NotificationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.vehicles[e.VehicleID]
	s.VehicleID = e.VehicleID
	if applyNotification(&s, e, m.limit, m.now()) {
		m.vehicles[e.VehicleID] = s
	}
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
