// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies an operator notification.
type NotificationType string

// Notification types accepted on the wire.
const (
	NotificationDelay          NotificationType = "delay"
	NotificationDetour         NotificationType = "detour"
	NotificationCancellation   NotificationType = "cancellation"
	NotificationScheduleChange NotificationType = "schedule_change"
	NotificationUpdate         NotificationType = "update"
)

// NotificationTypes lists every valid NotificationType.
var NotificationTypes = []NotificationType{
	NotificationDelay,
	NotificationDetour,
	NotificationCancellation,
	NotificationScheduleChange,
	NotificationUpdate,
}

// Valid reports whether t is one of NotificationTypes.
func (t NotificationType) Valid() bool {
	for _, known := range NotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseNotificationType converts operator input to a NotificationType.
func ParseNotificationType(s string) (NotificationType, error) {
	t := NotificationType(s)
	if !t.Valid() {
		return "", ErrInvalidNotificationType
	}
	return t, nil
}

// NotificationEvent is a notice emitted by a vehicle operator. ID is unique
// per notification and is the viewer-side de-duplication key.
type NotificationEvent struct {
	ID        string           `json:"id"`
	VehicleID VehicleID        `json:"vehicleId"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"createdAt"`
}

// NewNotificationID returns a fresh notification id.
func NewNotificationID() string {
	return uuid.NewString()
}
