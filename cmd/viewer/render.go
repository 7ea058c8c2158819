// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/viewer"
)

// renderer prints a View as text. Notifications already printed for the
// current vehicle are not repeated.
type renderer struct {
	out     io.Writer
	vehicle models.VehicleID
	shown   map[string]struct{}
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, shown: make(map[string]struct{})}
}

func (r *renderer) Render(v viewer.View) {
	if v.VehicleID != r.vehicle {
		r.vehicle = v.VehicleID
		r.shown = make(map[string]struct{})
		fmt.Fprintf(r.out, "== %s ==\n", v.VehicleID)
	}

	switch {
	case v.Marker == nil:
		fmt.Fprintln(r.out, "waiting for first position")
	default:
		m := v.Marker
		line := fmt.Sprintf("%.6f, %.6f", m.Lat, m.Lng)
		if m.Description != "" {
			line += "  " + m.Description
		}
		if !m.ObservedAt.IsZero() {
			line += "  @" + m.ObservedAt.Local().Format(time.Kitchen)
		}
		fmt.Fprintf(r.out, "%s  trail=%d  [%s]\n", line, len(v.Trail), v.Source)
	}

	if v.Stale {
		banner := "showing last known position, waiting for live updates"
		if v.FallbackReason != "" {
			banner += " (" + v.FallbackReason + ")"
		}
		fmt.Fprintf(r.out, "! %s\n", banner)
	}

	// Feed is newest first; print oldest unseen first.
	for i := len(v.Feed) - 1; i >= 0; i-- {
		n := v.Feed[i]
		key := n.ID
		if key == "" {
			key = n.CreatedAt.String() + n.Message
		}
		if _, ok := r.shown[key]; ok {
			continue
		}
		r.shown[key] = struct{}{}
		fmt.Fprintf(r.out, "* [%s] %s\n", n.Type, n.Message)
	}
}
