// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

// Package registry maps vehicles to the sessions watching them.
//
// The registry keeps a forward index (vehicle -> sessions) for fan-out and a
// reverse index (session -> vehicles) so that OnSessionClosed runs in
// O(subscriptions held by that session). Both indexes change under one
// mutex, so every call is linearizable with respect to the others.
package registry

import (
	"sort"
	"sync"

	"github.com/tomtom215/bustrack/internal/metrics"
	"github.com/tomtom215/bustrack/internal/models"
)

// SessionID identifies one live viewer or driver connection.
type SessionID string

// Stats is a point-in-time view of registry size.
type Stats struct {
	Vehicles      int `json:"vehicles"`
	Sessions      int `json:"sessions"`
	Subscriptions int `json:"subscriptions"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	byVehicle     map[models.VehicleID]map[SessionID]struct{}
	bySession     map[SessionID]map[models.VehicleID]struct{}
	subscriptions int

	// maxPerSession caps vehicles per session. Zero means unlimited.
	maxPerSession int
}

// New creates an empty registry. maxPerSession <= 0 disables the cap.
func New(maxPerSession int) *Registry {
	return &Registry{
		byVehicle:     make(map[models.VehicleID]map[SessionID]struct{}),
		bySession:     make(map[SessionID]map[models.VehicleID]struct{}),
		maxPerSession: maxPerSession,
	}
}

// Subscribe adds session to the subscribers of vehicle. It is idempotent.
// It returns models.ErrTooManySubscriptions when the session already holds
// the maximum number of distinct vehicles.
func (r *Registry) Subscribe(vehicle models.VehicleID, session SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.bySession[session]
	if _, ok := held[vehicle]; ok {
		return nil
	}
	if r.maxPerSession > 0 && len(held) >= r.maxPerSession {
		return models.ErrTooManySubscriptions
	}

	if held == nil {
		held = make(map[models.VehicleID]struct{})
		r.bySession[session] = held
	}
	held[vehicle] = struct{}{}

	subs := r.byVehicle[vehicle]
	if subs == nil {
		subs = make(map[SessionID]struct{})
		r.byVehicle[vehicle] = subs
	}
	subs[session] = struct{}{}

	r.subscriptions++
	metrics.Subscriptions.Set(float64(r.subscriptions))
	return nil
}

// Unsubscribe removes session from the subscribers of vehicle. It is idempotent.
func (r *Registry) Unsubscribe(vehicle models.VehicleID, session SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remove(vehicle, session) {
		metrics.Subscriptions.Set(float64(r.subscriptions))
	}
}

// OnSessionClosed drops every subscription held by session and returns the
// vehicles it was watching.
func (r *Registry) OnSessionClosed(session SessionID) []models.VehicleID {
	r.mu.Lock()
	defer r.mu.Unlock()

	held := r.bySession[session]
	if len(held) == 0 {
		delete(r.bySession, session)
		return nil
	}

	vehicles := make([]models.VehicleID, 0, len(held))
	for v := range held {
		vehicles = append(vehicles, v)
	}
	for _, v := range vehicles {
		r.remove(v, session)
	}
	metrics.Subscriptions.Set(float64(r.subscriptions))

	sort.Slice(vehicles, func(i, j int) bool { return vehicles[i] < vehicles[j] })
	return vehicles
}

// remove deletes one pair and prunes empty sets. Caller holds mu.
func (r *Registry) remove(vehicle models.VehicleID, session SessionID) bool {
	subs, ok := r.byVehicle[vehicle]
	if !ok {
		return false
	}
	if _, ok := subs[session]; !ok {
		return false
	}

	delete(subs, session)
	if len(subs) == 0 {
		delete(r.byVehicle, vehicle)
	}

	if held := r.bySession[session]; held != nil {
		delete(held, vehicle)
		if len(held) == 0 {
			delete(r.bySession, session)
		}
	}

	r.subscriptions--
	return true
}

// SubscribersOf returns a sorted copy of the sessions subscribed to vehicle.
func (r *Registry) SubscribersOf(vehicle models.VehicleID) []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.byVehicle[vehicle]
	if len(subs) == 0 {
		return nil
	}
	out := make([]SessionID, 0, len(subs))
	for s := range subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsSubscribed reports whether session currently watches vehicle.
func (r *Registry) IsSubscribed(vehicle models.VehicleID, session SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byVehicle[vehicle][session]
	return ok
}

// VehiclesOf returns a sorted copy of the vehicles session watches.
func (r *Registry) VehiclesOf(session SessionID) []models.VehicleID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	held := r.bySession[session]
	out := make([]models.VehicleID, 0, len(held))
	for v := range held {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats returns current registry counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		Vehicles:      len(r.byVehicle),
		Sessions:      len(r.bySession),
		Subscriptions: r.subscriptions,
	}
}
