// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/viewer"
)

func TestRenderer(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out)

	r.Render(viewer.View{VehicleID: "CE-101"})
	if !strings.Contains(out.String(), "== CE-101 ==") || !strings.Contains(out.String(), "waiting for first position") {
		t.Errorf("empty view: %q", out.String())
	}

	out.Reset()
	marker := models.Position{Lat: 23.81, Lng: 90.41, Description: "Campus"}
	r.Render(viewer.View{
		VehicleID:      "CE-101",
		Marker:         &marker,
		Source:         viewer.SourceDefault,
		Stale:          true,
		FallbackReason: "snapshot fetch failed",
	})
	got := out.String()
	if !strings.Contains(got, "23.810000, 90.410000  Campus") || !strings.Contains(got, "[default]") {
		t.Errorf("marker line: %q", got)
	}
	if !strings.Contains(got, "(snapshot fetch failed)") {
		t.Errorf("stale banner missing: %q", got)
	}

	feed := []models.NotificationEvent{
		{ID: "n2", Type: models.NotificationDetour, Message: "Via north gate", CreatedAt: time.Now()},
		{ID: "n1", Type: models.NotificationDelay, Message: "Running late", CreatedAt: time.Now()},
	}
	live := models.Position{Lat: 23.82, Lng: 90.42, ObservedAt: time.Now()}
	out.Reset()
	r.Render(viewer.View{VehicleID: "CE-101", Marker: &live, Trail: []models.Position{live}, Feed: feed, Source: viewer.SourceLive})
	got = out.String()
	if strings.Index(got, "Running late") > strings.Index(got, "Via north gate") {
		t.Errorf("notifications not oldest first: %q", got)
	}
	if strings.Contains(got, "showing last known") {
		t.Errorf("live view rendered as stale: %q", got)
	}

	out.Reset()
	r.Render(viewer.View{VehicleID: "CE-101", Marker: &live, Trail: []models.Position{live}, Feed: feed, Source: viewer.SourceLive})
	if strings.Contains(out.String(), "Running late") {
		t.Errorf("notification printed twice: %q", out.String())
	}
}
