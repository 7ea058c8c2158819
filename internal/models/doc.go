// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

/*
Package models defines the data structures shared by every Bustrack component.

Domain Types:

  - VehicleID: opaque, stable identifier of a tracked bus
  - Position: WGS-84 coordinates, a short human label and the observation time
  - NotificationEvent: operator notice (delay, detour, ...) with a unique id
  - Snapshot: last known persisted state of a vehicle, served on cold start

Wire Types:

All frames exchanged over the websocket and the event bus use the Message
envelope {"type": ..., "data": ...}. The data shapes are:

	subscribe-to-vehicle      { vehicleId }
	unsubscribe-from-vehicle  { vehicleId }
	location-update           { vehicleId, location: { lat, lng, description }, timestamp }
	notification              { vehicleId, notification: { type, message, timestamp, id } }
	location-snapshot         same as location-update; recorded state sent on subscribe

DecodeMessage turns a raw frame into a Message whose Data holds the typed
payload, so callers switch on Type and assert Data once.

Errors:

errors.go holds the sentinel errors matched with errors.Is across packages.
*/
package models
