// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package services

import (
	"context"
	"fmt"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/bustrack/internal/eventbus"
)

// EventBusService consumes the event bus and hands every event to sink,
// normally the broker's fan-out. The bus itself is closed by its owner
// after the tree stops.
type EventBusService struct {
	bus  eventbus.Bus
	sink eventbus.Sink
}

// NewEventBusService creates the consumer service.
func NewEventBusService(bus eventbus.Bus, sink eventbus.Sink) *EventBusService {
	return &EventBusService{bus: bus, sink: sink}
}

// Serve implements suture.Service. A consumer error is returned so the
// supervisor restarts it; a closed bus stops the service for good.
func (s *EventBusService) Serve(ctx context.Context) error {
	err := s.bus.Run(ctx, s.sink)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("event bus consumer: %w", err)
	}
	return suture.ErrDoNotRestart
}

func (s *EventBusService) String() string {
	return "event-bus-consumer"
}
