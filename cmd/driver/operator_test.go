// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/positionsource"
	"github.com/tomtom215/bustrack/internal/publisher"
)

type fakeTracker struct {
	state    publisher.State
	nextStop string
	sent     int
	notes    []models.NotificationEvent
	latest   *models.Position
}

func (f *fakeTracker) Start(context.Context) error {
	if f.state == publisher.StateTracking {
		return models.ErrAlreadyTracking
	}
	f.state = publisher.StateTracking
	return nil
}

func (f *fakeTracker) Stop() { f.state = publisher.StateIdle }

func (f *fakeTracker) SendNow(context.Context) error {
	if f.latest == nil {
		return models.ErrNoPositionAvailable
	}
	f.sent++
	return nil
}

func (f *fakeTracker) SendNotification(_ context.Context, t models.NotificationType, msg string) (models.NotificationEvent, error) {
	e := models.NotificationEvent{ID: "n1", Type: t, Message: msg}
	f.notes = append(f.notes, e)
	return e, nil
}

func (f *fakeTracker) SetNextStop(text string) { f.nextStop = text }

func (f *fakeTracker) State() publisher.State { return f.state }

func (f *fakeTracker) Latest() (models.Position, bool) {
	if f.latest == nil {
		return models.Position{}, false
	}
	return *f.latest, true
}

func TestOperator_Commands(t *testing.T) {
	ctx := context.Background()
	pub := &fakeTracker{}
	var out bytes.Buffer
	op := newOperator(pub, nil, &out)

	if err := op.handle(ctx, "start"); err != nil || pub.state != publisher.StateTracking {
		t.Fatalf("start: err=%v state=%v", err, pub.state)
	}
	if err := op.handle(ctx, "start"); !errors.Is(err, models.ErrAlreadyTracking) {
		t.Errorf("second start: %v", err)
	}
	if err := op.handle(ctx, "send"); !errors.Is(err, models.ErrNoPositionAvailable) {
		t.Errorf("send without position: %v", err)
	}

	pub.latest = &models.Position{Lat: 1, Lng: 2, ObservedAt: time.Now()}
	if err := op.handle(ctx, "send"); err != nil || pub.sent != 1 {
		t.Errorf("send: err=%v sent=%d", err, pub.sent)
	}

	if err := op.handle(ctx, "notify delay Running 5 minutes late"); err != nil {
		t.Fatal(err)
	}
	if len(pub.notes) != 1 || pub.notes[0].Message != "Running 5 minutes late" || pub.notes[0].Type != models.NotificationDelay {
		t.Errorf("notes = %+v", pub.notes)
	}

	if err := op.handle(ctx, "next Science Building"); err != nil || pub.nextStop != "Science Building" {
		t.Errorf("next: err=%v stop=%q", err, pub.nextStop)
	}

	if err := op.handle(ctx, "stop"); err != nil || pub.state != publisher.StateIdle {
		t.Errorf("stop: err=%v state=%v", err, pub.state)
	}

	out.Reset()
	if err := op.handle(ctx, "status"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "state: idle") || !strings.Contains(out.String(), "1.000000, 2.000000") {
		t.Errorf("status output: %q", out.String())
	}

	if err := op.handle(ctx, "quit"); !errors.Is(err, errQuit) {
		t.Errorf("quit: %v", err)
	}
}

func TestOperator_Rejections(t *testing.T) {
	op := newOperator(&fakeTracker{}, nil, &bytes.Buffer{})

	tests := []struct {
		line string
		want string
	}{
		{"notify delay", "usage: notify"},
		{"notify party now", "invalid notification type"},
		{"pos 1 2", "DRIVER_SOURCE=manual"},
		{"fly", "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := op.handle(context.Background(), tt.line)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("handle(%q) = %v, want error containing %q", tt.line, err, tt.want)
			}
		})
	}

	if err := op.handle(context.Background(), "   "); err != nil {
		t.Errorf("blank line: %v", err)
	}
}

func TestOperator_ManualPositions(t *testing.T) {
	manual := positionsource.NewManual()
	op := newOperator(&fakeTracker{}, manual, &bytes.Buffer{})

	if err := op.handle(context.Background(), "pos 23.81 90.41"); err != nil {
		t.Fatal(err)
	}
	if err := op.handle(context.Background(), "pos 95 90"); !errors.Is(err, models.ErrInvalidEvent) {
		t.Errorf("out of range: %v", err)
	}
	if err := op.handle(context.Background(), "pos north 90"); err == nil {
		t.Error("expected parse error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan models.Position, 1)
	go func() { _ = manual.Watch(ctx, out) }()

	select {
	case p := <-out:
		if p.Lat != 23.81 || p.Lng != 90.41 {
			t.Errorf("pushed %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("manual position not delivered")
	}
}

func TestOperator_RunStopsOnQuit(t *testing.T) {
	pub := &fakeTracker{}
	var out bytes.Buffer
	op := newOperator(pub, nil, &out)

	done := make(chan struct{})
	go func() {
		op.run(context.Background(), strings.NewReader("start\nbogus\nquit\nstop\n"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return on quit")
	}
	if pub.state != publisher.StateTracking {
		t.Error("commands after quit were executed")
	}
	if !strings.Contains(out.String(), `error: unknown command "bogus"`) {
		t.Errorf("output: %q", out.String())
	}
}
