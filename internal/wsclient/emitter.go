// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package wsclient

import (
	"context"

	"github.com/tomtom215/bustrack/internal/models"
)

// Emitter sends publisher events as websocket frames. Delivery is fire and
// forget: the server reports rejections as error frames on Messages.
type Emitter struct {
	m *Manager
}

// NewEmitter wraps m for use as a publisher emitter.
func NewEmitter(m *Manager) *Emitter {
	return &Emitter{m: m}
}

// PublishLocation sends a location-update frame.
func (e *Emitter) PublishLocation(ctx context.Context, update models.LocationUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.m.Send(models.Message{Type: models.EventLocationUpdate, Data: update})
}

// PublishNotification sends a notification frame. The id is assigned here
// when missing so the caller knows what viewers will see.
func (e *Emitter) PublishNotification(ctx context.Context, n models.NotificationEvent) (models.NotificationEvent, error) {
	if err := ctx.Err(); err != nil {
		return models.NotificationEvent{}, err
	}
	if n.ID == "" {
		n.ID = models.NewNotificationID()
	}
	if err := e.m.Send(models.Message{Type: models.EventNotification, Data: models.NewNotificationMessage(n)}); err != nil {
		return models.NotificationEvent{}, err
	}
	return n, nil
}
