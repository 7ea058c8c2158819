// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package models

import "errors"

var (
	// ErrPositionUnavailable means the device position source failed or was denied.
	ErrPositionUnavailable = errors.New("position unavailable")

	// ErrNoPositionAvailable means no position has been sampled yet.
	ErrNoPositionAvailable = errors.New("no position available")

	// ErrDeliveryDropped means a single fan-out delivery was dropped.
	ErrDeliveryDropped = errors.New("delivery dropped")

	// ErrSnapshotFetchFailed means the fallback snapshot could not be fetched.
	ErrSnapshotFetchFailed = errors.New("snapshot fetch failed")

	// ErrVehicleNotFound means no state is known for the vehicle.
	ErrVehicleNotFound = errors.New("vehicle not found")

	// ErrOutOfOrderPosition means an update is older than the trail's last entry.
	ErrOutOfOrderPosition = errors.New("out of order position")

	ErrInvalidEvent            = errors.New("invalid event")
	ErrInvalidNotificationType = errors.New("invalid notification type")
	ErrUnknownEventType        = errors.New("unknown event type")

	ErrNotTracking     = errors.New("not tracking")
	ErrAlreadyTracking = errors.New("already tracking")

	ErrTooManySubscriptions = errors.New("too many subscriptions")

	// ErrClosed is returned by components used after shutdown.
	ErrClosed = errors.New("closed")
)
