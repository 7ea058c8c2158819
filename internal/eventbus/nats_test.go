// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

//go:build nats

package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/bustrack/internal/models"
)

func TestNATSBus_EmbeddedRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeNATS
	cfg.Embedded = true
	cfg.EmbeddedPort = -1
	cfg.StoreDir = t.TempDir()
	cfg.MaxReconnects = 2
	cfg.ReconnectWait = 100 * time.Millisecond

	bus, err := NewNATSBus(cfg, nil)
	if err != nil {
		t.Fatalf("NewNATSBus() error = %v", err)
	}
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := newRecordingSink()
	go func() { _ = bus.Run(ctx, sink) }()

	// Give the JetStream consumer a moment to bind before publishing;
	// DeliverNew skips anything published earlier.
	time.Sleep(300 * time.Millisecond)

	const n = 5
	for i := 0; i < n; i++ {
		if err := bus.Publish(ctx, "CE-101", locationMsg("CE-101", i)); err != nil {
			t.Fatalf("Publish(%d) error = %v", i, err)
		}
	}

	msgs := sink.wait(t, n)
	for i, msg := range msgs {
		u, ok := msg.Data.(models.LocationUpdate)
		if !ok {
			t.Fatalf("msgs[%d].Data = %T", i, msg.Data)
		}
		if u.VehicleID != "CE-101" {
			t.Errorf("msgs[%d] vehicle = %q", i, u.VehicleID)
		}
	}
}
