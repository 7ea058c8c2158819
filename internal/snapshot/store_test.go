// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/bustrack/internal/models"
)

type storeFactory struct {
	name string
	open func(t *testing.T, limit int) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{
			name: "memory",
			open: func(t *testing.T, limit int) Store {
				return NewMemoryStore(limit)
			},
		},
		{
			name: "badger",
			open: func(t *testing.T, limit int) Store {
				t.Helper()
				db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
				if err != nil {
					t.Fatalf("open in-memory badger: %v", err)
				}
				t.Cleanup(func() { db.Close() })
				return NewBadgerStore(db, limit)
			},
		},
	}
}

var baseTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func notification(id string, vehicle models.VehicleID, offset time.Duration) models.NotificationEvent {
	return models.NotificationEvent{
		ID:        id,
		VehicleID: vehicle,
		Type:      models.NotificationDelay,
		Message:   "running late " + id,
		CreatedAt: baseTime.Add(offset),
	}
}

func TestStore_UnknownVehicle(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t, 0)
			_, err := s.Get(context.Background(), "CE-404")
			if !errors.Is(err, models.ErrVehicleNotFound) {
				t.Fatalf("Get() error = %v, want ErrVehicleNotFound", err)
			}
		})
	}
}

func TestStore_RecordLocation(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.open(t, 0)

			first := models.Position{Lat: 23.81, Lng: 90.41, Description: "Near Library", ObservedAt: baseTime}
			if err := s.RecordLocation(ctx, "CE-101", first); err != nil {
				t.Fatalf("RecordLocation() error = %v", err)
			}

			got, err := s.Get(ctx, "CE-101")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.VehicleID != "CE-101" {
				t.Errorf("VehicleID = %q, want CE-101", got.VehicleID)
			}
			if got.Position == nil || !got.Position.SameCoordinates(first) || got.Position.Description != "Near Library" {
				t.Fatalf("Position = %+v, want %+v", got.Position, first)
			}
			if got.RecentNotifications == nil {
				t.Error("RecentNotifications should be empty, not nil")
			}

			newer := models.Position{Lat: 23.82, Lng: 90.42, ObservedAt: baseTime.Add(10 * time.Second)}
			if err := s.RecordLocation(ctx, "CE-101", newer); err != nil {
				t.Fatalf("RecordLocation(newer) error = %v", err)
			}
			older := models.Position{Lat: 1, Lng: 1, ObservedAt: baseTime.Add(5 * time.Second)}
			if err := s.RecordLocation(ctx, "CE-101", older); err != nil {
				t.Fatalf("RecordLocation(older) error = %v", err)
			}

			got, err = s.Get(ctx, "CE-101")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !got.Position.SameCoordinates(newer) {
				t.Errorf("Position = %+v, older update should not replace %+v", got.Position, newer)
			}
		})
	}
}

func TestStore_RecordNotification(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()
			s := f.open(t, 3)

			for i := 0; i < 5; i++ {
				e := notification(fmt.Sprintf("n%d", i), "CE-101", time.Duration(i)*time.Minute)
				if err := s.RecordNotification(ctx, e); err != nil {
					t.Fatalf("RecordNotification(%d) error = %v", i, err)
				}
			}
			dup := notification("n4", "CE-101", time.Hour)
			dup.Message = "different text"
			if err := s.RecordNotification(ctx, dup); err != nil {
				t.Fatalf("RecordNotification(dup) error = %v", err)
			}

			got, err := s.Get(ctx, "CE-101")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if got.Position != nil {
				t.Errorf("Position = %+v, want nil", got.Position)
			}

			wantIDs := []string{"n4", "n3", "n2"}
			if len(got.RecentNotifications) != len(wantIDs) {
				t.Fatalf("len(RecentNotifications) = %d, want %d", len(got.RecentNotifications), len(wantIDs))
			}
			for i, id := range wantIDs {
				if got.RecentNotifications[i].ID != id {
					t.Errorf("RecentNotifications[%d].ID = %q, want %q", i, got.RecentNotifications[i].ID, id)
				}
			}
			if got.RecentNotifications[0].Message != "running late n4" {
				t.Errorf("duplicate id replaced message: %q", got.RecentNotifications[0].Message)
			}
		})
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	_ = s.RecordLocation(ctx, "CE-101", models.Position{Lat: 1, Lng: 2, ObservedAt: baseTime})

	got, _ := s.Get(ctx, "CE-101")
	got.Position.Lat = 99

	again, _ := s.Get(ctx, "CE-101")
	if again.Position.Lat != 1 {
		t.Errorf("mutating returned snapshot changed store: lat = %v", again.Position.Lat)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory default", func(t *testing.T) {
		s, err := Open(ctx, Options{})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer s.Close()
		if _, ok := s.(*MemoryStore); !ok {
			t.Errorf("Open() = %T, want *MemoryStore", s)
		}
	})

	t.Run("badger on disk", func(t *testing.T) {
		s, err := Open(ctx, Options{Backend: BackendBadger, BadgerPath: t.TempDir()})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if err := s.RecordLocation(ctx, "CE-7", models.Position{Lat: 3, Lng: 4, ObservedAt: baseTime}); err != nil {
			t.Fatalf("RecordLocation() error = %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		if _, err := Open(ctx, Options{Backend: "redis"}); err == nil {
			t.Fatal("Open() expected error for unknown backend")
		}
	})
}
