// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/bustrack/internal/eventbus"
	"github.com/tomtom215/bustrack/internal/metrics"
	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/registry"
	"github.com/tomtom215/bustrack/internal/snapshot"
)

// fakeSession buffers up to cap messages and drops the rest.
type fakeSession struct {
	id  registry.SessionID
	out chan models.Message
}

func newFakeSession(id string, capacity int) *fakeSession {
	return &fakeSession{id: registry.SessionID(id), out: make(chan models.Message, capacity)}
}

func (s *fakeSession) ID() registry.SessionID { return s.id }

func (s *fakeSession) Deliver(msg models.Message) bool {
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

func (s *fakeSession) drain() []models.Message {
	var msgs []models.Message
	for {
		select {
		case m := <-s.out:
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func update(vehicle models.VehicleID, lat, lng float64, offset time.Duration) models.LocationUpdate {
	return models.LocationUpdate{
		VehicleID: vehicle,
		Location:  models.Location{Lat: lat, Lng: lng, Description: "En route"},
		Timestamp: t0.Add(offset),
	}
}

func TestBroker_FanOutReachesExactlySubscribers(t *testing.T) {
	ctx := context.Background()
	b := New(nil, Config{})

	a := newFakeSession("a", 8)
	c := newFakeSession("c", 8)
	other := newFakeSession("other", 8)
	for _, s := range []*fakeSession{a, c, other} {
		b.Attach(s)
	}

	for _, s := range []*fakeSession{a, c} {
		if err := b.Subscribe("CE-101", s.ID()); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", s.ID(), err)
		}
	}
	if err := b.Subscribe("CE-202", other.ID()); err != nil {
		t.Fatalf("Subscribe(other) error = %v", err)
	}

	if err := b.PublishLocation(ctx, update("CE-101", 23.81, 90.41, 0)); err != nil {
		t.Fatalf("PublishLocation() error = %v", err)
	}

	for _, s := range []*fakeSession{a, c} {
		msgs := s.drain()
		if len(msgs) != 1 {
			t.Fatalf("session %s received %d messages, want 1", s.ID(), len(msgs))
		}
		u := msgs[0].Data.(models.LocationUpdate)
		if u.VehicleID != "CE-101" || u.Location.Lat != 23.81 {
			t.Errorf("session %s got %+v", s.ID(), u)
		}
	}
	if msgs := other.drain(); len(msgs) != 0 {
		t.Errorf("non-subscriber received %d messages", len(msgs))
	}
}

func TestBroker_DisconnectReleasesAllSubscriptions(t *testing.T) {
	ctx := context.Background()
	b := New(nil, Config{})

	s := newFakeSession("viewer", 8)
	b.Attach(s)
	vehicles := []models.VehicleID{"CE-101", "CE-202", "CE-303"}
	for _, v := range vehicles {
		if err := b.Subscribe(v, s.ID()); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", v, err)
		}
	}

	b.Detach(s.ID())

	for i, v := range vehicles {
		if subs := b.Registry().SubscribersOf(v); len(subs) != 0 {
			t.Errorf("SubscribersOf(%s) = %v after disconnect", v, subs)
		}
		if err := b.PublishLocation(ctx, update(v, 1, 1, time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("PublishLocation(%s) error = %v", v, err)
		}
	}
	if msgs := s.drain(); len(msgs) != 0 {
		t.Errorf("disconnected session received %d messages", len(msgs))
	}
	if got := b.Stats().Subscriptions; got != 0 {
		t.Errorf("Stats().Subscriptions = %d, want 0", got)
	}
}

func TestBroker_SlowSessionDoesNotAffectOthers(t *testing.T) {
	ctx := context.Background()
	b := New(nil, Config{})

	slow := newFakeSession("slow", 1)
	fast := newFakeSession("fast", 16)
	b.Attach(slow)
	b.Attach(fast)
	_ = b.Subscribe("CE-101", slow.ID())
	_ = b.Subscribe("CE-101", fast.ID())

	before := testutil.ToFloat64(metrics.DeliveriesDropped.WithLabelValues(metrics.DropQueueFull))

	for i := 0; i < 5; i++ {
		if err := b.PublishLocation(ctx, update("CE-101", float64(i), 1, time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("PublishLocation(%d) error = %v", i, err)
		}
	}

	if got := len(fast.drain()); got != 5 {
		t.Errorf("fast session received %d, want 5", got)
	}
	if got := len(slow.drain()); got != 1 {
		t.Errorf("slow session received %d, want 1", got)
	}
	after := testutil.ToFloat64(metrics.DeliveriesDropped.WithLabelValues(metrics.DropQueueFull))
	if after-before != 4 {
		t.Errorf("queue_full drops = %v, want 4", after-before)
	}
}

func TestBroker_WelcomeSnapshot(t *testing.T) {
	ctx := context.Background()

	for _, enabled := range []bool{true, false} {
		t.Run(fmt.Sprintf("enabled=%v", enabled), func(t *testing.T) {
			b := New(nil, Config{WelcomeSnapshot: enabled})
			if err := b.PublishLocation(ctx, update("CE-101", 23.81, 90.41, 0)); err != nil {
				t.Fatalf("PublishLocation() error = %v", err)
			}

			s := newFakeSession("late", 4)
			b.Attach(s)
			if err := b.Subscribe("CE-101", s.ID()); err != nil {
				t.Fatalf("Subscribe() error = %v", err)
			}

			msgs := s.drain()
			want := 0
			if enabled {
				want = 1
			}
			if len(msgs) != want {
				t.Fatalf("received %d welcome messages, want %d", len(msgs), want)
			}
			if enabled && msgs[0].Type != models.EventLocationSnapshot {
				t.Errorf("welcome type = %q", msgs[0].Type)
			}
		})
	}
}

func TestBroker_WelcomeKeepsNewest(t *testing.T) {
	ctx := context.Background()
	b := New(nil, Config{WelcomeSnapshot: true})
	_ = b.PublishLocation(ctx, update("CE-101", 2, 2, time.Minute))
	_ = b.PublishLocation(ctx, update("CE-101", 1, 1, 0))

	s := newFakeSession("late", 4)
	b.Attach(s)
	_ = b.Subscribe("CE-101", s.ID())

	msgs := s.drain()
	if len(msgs) != 1 {
		t.Fatalf("received %d messages, want 1", len(msgs))
	}
	if got := msgs[0].Data.(models.LocationUpdate).Location.Lat; got != 2 {
		t.Errorf("welcome lat = %v, want newest (2)", got)
	}
}

func TestBroker_PublishValidation(t *testing.T) {
	ctx := context.Background()
	b := New(nil, Config{})

	tests := []struct {
		name string
		fn   func() error
	}{
		{"latitude out of range", func() error {
			return b.PublishLocation(ctx, update("CE-101", 91, 0, 0))
		}},
		{"longitude out of range", func() error {
			return b.PublishLocation(ctx, update("CE-101", 0, 181, 0))
		}},
		{"empty vehicle", func() error {
			return b.PublishLocation(ctx, update("", 0, 0, 0))
		}},
		{"unknown notification type", func() error {
			_, err := b.PublishNotification(ctx, models.NotificationEvent{VehicleID: "CE-101", Type: "party", Message: "x"})
			return err
		}},
		{"empty notification message", func() error {
			_, err := b.PublishNotification(ctx, models.NotificationEvent{VehicleID: "CE-101", Type: models.NotificationDelay})
			return err
		}},
		{"subscribe invalid vehicle id", func() error {
			return b.Subscribe("bad id with spaces", "s1")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, models.ErrInvalidEvent) {
				t.Errorf("error = %v, want ErrInvalidEvent", err)
			}
		})
	}
}

func TestBroker_PublishNotificationAssignsID(t *testing.T) {
	ctx := context.Background()
	store := snapshot.NewMemoryStore(0)
	b := New(store, Config{})

	s := newFakeSession("viewer", 4)
	b.Attach(s)
	_ = b.Subscribe("CE-101", s.ID())

	e, err := b.PublishNotification(ctx, models.NotificationEvent{
		VehicleID: "CE-101",
		Type:      models.NotificationDetour,
		Message:   "Detour via Gate 3",
	})
	if err != nil {
		t.Fatalf("PublishNotification() error = %v", err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("event not completed: %+v", e)
	}

	msgs := s.drain()
	if len(msgs) != 1 {
		t.Fatalf("received %d messages, want 1", len(msgs))
	}
	n := msgs[0].Data.(models.NotificationMessage)
	if n.Notification.ID != e.ID {
		t.Errorf("delivered id = %q, want %q", n.Notification.ID, e.ID)
	}

	snap, err := b.Snapshot(ctx, "CE-101")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(snap.RecentNotifications) != 1 || snap.RecentNotifications[0].ID != e.ID {
		t.Errorf("snapshot notifications = %+v", snap.RecentNotifications)
	}
}

func TestBroker_RecordsLocationSnapshot(t *testing.T) {
	ctx := context.Background()
	b := New(snapshot.NewMemoryStore(0), Config{})

	if _, err := b.Snapshot(ctx, "CE-101"); !errors.Is(err, models.ErrVehicleNotFound) {
		t.Fatalf("Snapshot() error = %v, want ErrVehicleNotFound", err)
	}
	if err := b.PublishLocation(ctx, update("CE-101", 23.81, 90.41, 0)); err != nil {
		t.Fatalf("PublishLocation() error = %v", err)
	}
	snap, err := b.Snapshot(ctx, "CE-101")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.Position == nil || snap.Position.Lat != 23.81 {
		t.Errorf("Position = %+v", snap.Position)
	}
}

func TestBroker_SubscriptionLimit(t *testing.T) {
	b := New(nil, Config{MaxSubscriptionsPerSession: 2})
	s := newFakeSession("s", 1)
	b.Attach(s)

	_ = b.Subscribe("V1", s.ID())
	_ = b.Subscribe("V2", s.ID())
	if err := b.Subscribe("V3", s.ID()); !errors.Is(err, models.ErrTooManySubscriptions) {
		t.Errorf("Subscribe(V3) error = %v, want ErrTooManySubscriptions", err)
	}
}

func TestBroker_ThroughMemoryBusKeepsOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus, err := eventbus.NewMemoryBus(eventbus.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewMemoryBus() error = %v", err)
	}
	defer bus.Close()

	b := New(nil, Config{})
	b.SetBus(bus)
	go func() { _ = bus.Run(ctx, b) }()

	s := newFakeSession("viewer", 64)
	b.Attach(s)
	_ = b.Subscribe("CE-101", s.ID())

	const n = 20
	for i := 0; i < n; i++ {
		if err := b.PublishLocation(ctx, update("CE-101", float64(i), 0, time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("PublishLocation(%d) error = %v", i, err)
		}
	}

	// The memory bus acks only after Deliver returns, so every message is
	// already enqueued once PublishLocation returns.
	msgs := s.drain()
	if len(msgs) != n {
		t.Fatalf("received %d messages, want %d", len(msgs), n)
	}
	for i, m := range msgs {
		if lat := m.Data.(models.LocationUpdate).Location.Lat; lat != float64(i) {
			t.Errorf("msgs[%d].lat = %v, want %d", i, lat, i)
		}
	}
}

func TestBroker_ConcurrentPublishAndSubscribe(t *testing.T) {
	ctx := context.Background()
	b := New(nil, Config{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		s := newFakeSession(fmt.Sprintf("s%d", i), 256)
		b.Attach(s)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = b.Subscribe("CE-101", s.ID())
				b.Unsubscribe("CE-101", s.ID())
			}
		}()
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = b.PublishLocation(ctx, update("CE-101", 1, 1, time.Duration(i*50+j)*time.Millisecond))
			}
		}(i)
	}
	wg.Wait()

	if got := b.Stats().Subscriptions; got != 0 {
		t.Errorf("Stats().Subscriptions = %d, want 0", got)
	}
}
