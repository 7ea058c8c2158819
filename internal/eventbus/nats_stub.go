// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

//go:build !nats

package eventbus

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/tomtom215/bustrack/internal/models"
)

var errNATSUnavailable = fmt.Errorf("NATS event bus not available: build with -tags=nats")

// NATSBus is a stub when NATS dependencies are not compiled in.
type NATSBus struct{}

// NewNATSBus returns an error. Build with -tags=nats for the real bus.
func NewNATSBus(cfg Config, logger watermill.LoggerAdapter) (*NATSBus, error) {
	return nil, errNATSUnavailable
}

// Publish is a stub that returns an error.
func (b *NATSBus) Publish(context.Context, models.VehicleID, models.Message) error {
	return errNATSUnavailable
}

// Run is a stub that returns an error.
func (b *NATSBus) Run(context.Context, Sink) error {
	return errNATSUnavailable
}

// Close is a no-op stub.
func (b *NATSBus) Close() error {
	return nil
}
