// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package models

import (
	"time"
)

// VehicleID identifies a tracked vehicle. It is never reused across
// distinct vehicles.
type VehicleID string

// String implements fmt.Stringer.
func (v VehicleID) String() string {
	return string(v)
}

// Position is one observed location of a vehicle.
type Position struct {
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Description string    `json:"description,omitempty"`
	ObservedAt  time.Time `json:"observedAt"`
}

// SameCoordinates reports whether p and o share lat and lng.
func (p Position) SameCoordinates(o Position) bool {
	return p.Lat == o.Lat && p.Lng == o.Lng
}

// Snapshot is the last known state of a vehicle as held by the snapshot
// store. Position is nil when only notifications have been recorded.
type Snapshot struct {
	VehicleID           VehicleID           `json:"vehicleId"`
	Position            *Position           `json:"position,omitempty"`
	RecentNotifications []NotificationEvent `json:"recentNotifications"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}
