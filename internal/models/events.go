// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package models

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Event type names carried in Message.Type.
const (
	EventSubscribe      = "subscribe-to-vehicle"
	EventUnsubscribe    = "unsubscribe-from-vehicle"
	EventLocationUpdate = "location-update"
	EventNotification   = "notification"
	EventPing           = "ping"
	EventPong           = "pong"
	EventError          = "error"

	// EventLocationSnapshot carries a LocationUpdate replayed from the
	// broker's latest-location cache on subscribe. It is recorded state,
	// not a live sample.
	EventLocationSnapshot = "location-snapshot"
)

// Message is the envelope for every frame on the websocket and event bus.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// VehicleRef is the payload of subscribe-to-vehicle and unsubscribe-from-vehicle.
type VehicleRef struct {
	VehicleID VehicleID `json:"vehicleId" validate:"required,vehicle_id"`
}

// Location is the wire form of a position inside a location-update.
type Location struct {
	Lat         float64 `json:"lat" validate:"latitude"`
	Lng         float64 `json:"lng" validate:"longitude"`
	Description string  `json:"description" validate:"max=200"`
}

// LocationUpdate is the payload of a location-update event.
type LocationUpdate struct {
	VehicleID VehicleID `json:"vehicleId" validate:"required,vehicle_id"`
	Location  Location  `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLocationUpdate packages p for vehicle v.
func NewLocationUpdate(v VehicleID, p Position) LocationUpdate {
	return LocationUpdate{
		VehicleID: v,
		Location:  Location{Lat: p.Lat, Lng: p.Lng, Description: p.Description},
		Timestamp: p.ObservedAt,
	}
}

// Position converts the update to a Position.
func (u LocationUpdate) Position() Position {
	return Position{
		Lat:         u.Location.Lat,
		Lng:         u.Location.Lng,
		Description: u.Location.Description,
		ObservedAt:  u.Timestamp,
	}
}

// Notification is the wire form of a NotificationEvent.
type Notification struct {
	Type      NotificationType `json:"type" validate:"required,notification_type"`
	Message   string           `json:"message" validate:"required,max=500"`
	Timestamp time.Time        `json:"timestamp"`
	ID        string           `json:"id,omitempty" validate:"omitempty,max=128"`
}

// NotificationMessage is the payload of a notification event.
type NotificationMessage struct {
	VehicleID    VehicleID    `json:"vehicleId" validate:"required,vehicle_id"`
	Notification Notification `json:"notification"`
}

// NewNotificationMessage packages e for the wire.
func NewNotificationMessage(e NotificationEvent) NotificationMessage {
	return NotificationMessage{
		VehicleID: e.VehicleID,
		Notification: Notification{
			Type:      e.Type,
			Message:   e.Message,
			Timestamp: e.CreatedAt,
			ID:        e.ID,
		},
	}
}

// Event converts the payload to a NotificationEvent.
func (n NotificationMessage) Event() NotificationEvent {
	return NotificationEvent{
		ID:        n.Notification.ID,
		VehicleID: n.VehicleID,
		Type:      n.Notification.Type,
		Message:   n.Notification.Message,
		CreatedAt: n.Notification.Timestamp,
	}
}

// ErrorPayload is the payload of an error frame sent to a session.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VehicleOf returns the vehicle a location-update or notification
// message refers to, or "" for other message types.
func VehicleOf(msg Message) VehicleID {
	switch d := msg.Data.(type) {
	case LocationUpdate:
		return d.VehicleID
	case NotificationMessage:
		return d.VehicleID
	case VehicleRef:
		return d.VehicleID
	}
	return ""
}

type rawMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeMessage parses a frame. Data is set to the value type matching
// Type (VehicleRef, LocationUpdate, NotificationMessage, ErrorPayload).
func DecodeMessage(b []byte) (Message, error) {
	var raw rawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}

	msg := Message{Type: raw.Type}
	switch raw.Type {
	case EventPing, EventPong:
		return msg, nil
	case EventSubscribe, EventUnsubscribe:
		var ref VehicleRef
		if err := decodeData(raw, &ref); err != nil {
			return msg, err
		}
		msg.Data = ref
	case EventLocationUpdate, EventLocationSnapshot:
		var u LocationUpdate
		if err := decodeData(raw, &u); err != nil {
			return msg, err
		}
		msg.Data = u
	case EventNotification:
		var n NotificationMessage
		if err := decodeData(raw, &n); err != nil {
			return msg, err
		}
		msg.Data = n
	case EventError:
		var e ErrorPayload
		if err := decodeData(raw, &e); err != nil {
			return msg, err
		}
		msg.Data = e
	default:
		return msg, fmt.Errorf("%w: %q", ErrUnknownEventType, raw.Type)
	}
	return msg, nil
}

func decodeData(raw rawMessage, v interface{}) error {
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return fmt.Errorf("%w: %s without data", ErrInvalidEvent, raw.Type)
	}
	if err := json.Unmarshal(raw.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidEvent, raw.Type, err)
	}
	return nil
}
