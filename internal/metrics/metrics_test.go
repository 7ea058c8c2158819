// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPublishAndFanOut(t *testing.T) {
	before := testutil.ToFloat64(EventsPublished.WithLabelValues("location-update"))
	beforeDeliveries := testutil.ToFloat64(Deliveries.WithLabelValues("location-update"))

	RecordPublish("location-update")
	RecordFanOut("location-update", 3, time.Millisecond)
	RecordFanOut("location-update", 0, time.Millisecond)

	if got := testutil.ToFloat64(EventsPublished.WithLabelValues("location-update")) - before; got != 1 {
		t.Errorf("published delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(Deliveries.WithLabelValues("location-update")) - beforeDeliveries; got != 3 {
		t.Errorf("deliveries delta = %v, want 3", got)
	}
}

func TestRecordDrop(t *testing.T) {
	before := testutil.ToFloat64(DeliveriesDropped.WithLabelValues(DropQueueFull))
	RecordDrop(DropQueueFull)
	RecordDrop(DropQueueFull)
	if got := testutil.ToFloat64(DeliveriesDropped.WithLabelValues(DropQueueFull)) - before; got != 2 {
		t.Errorf("drop delta = %v, want 2", got)
	}
}

func TestRecordEventBus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		result string
	}{
		{"success", nil, "ok"},
		{"failure", errors.New("nats down"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := EventBusMessages.WithLabelValues("publish", tt.result)
			before := testutil.ToFloat64(c)
			RecordEventBus("publish", tt.err)
			if got := testutil.ToFloat64(c) - before; got != 1 {
				t.Errorf("delta = %v, want 1", got)
			}
		})
	}
}

func TestRecordAPIRequest(t *testing.T) {
	c := APIRequestsTotal.WithLabelValues("GET", "/api/v1/vehicles/{vehicleId}", "200")
	before := testutil.ToFloat64(c)
	RecordAPIRequest("GET", "/api/v1/vehicles/{vehicleId}", "200", 5*time.Millisecond)
	if got := testutil.ToFloat64(c) - before; got != 1 {
		t.Errorf("delta = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(APIRequestDuration); n == 0 {
		t.Error("expected duration histogram series")
	}
}

func TestCountersByLabel(t *testing.T) {
	RecordSnapshotRequest("hit")
	RecordInboundRejected("invalid")
	if testutil.ToFloat64(SnapshotRequests.WithLabelValues("hit")) < 1 {
		t.Error("expected snapshot hit counted")
	}
	if testutil.ToFloat64(InboundRejected.WithLabelValues("invalid")) < 1 {
		t.Error("expected inbound rejection counted")
	}
}
