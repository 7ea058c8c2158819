// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/bustrack/internal/broker"
	"github.com/tomtom215/bustrack/internal/models"
)

// createTestClient builds a client without a connection; only Deliver and
// the hub lifecycle may be exercised on it.
func createTestClient(hub *Hub) *Client {
	return NewClient(hub, nil)
}

func startHub(t *testing.T, b Broker, cfg Config) (*Hub, context.CancelFunc, <-chan error) {
	t.Helper()
	hub := NewHub(b, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.RunWithContext(ctx) }()
	t.Cleanup(cancel)
	return hub, cancel, errCh
}

func waitForClientCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.GetClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", hub.GetClientCount(), want)
}

func TestNewHub_Defaults(t *testing.T) {
	hub := NewHub(broker.New(nil, broker.Config{}), Config{})
	if hub.cfg.SendQueueSize != 256 {
		t.Errorf("SendQueueSize = %d, want 256", hub.cfg.SendQueueSize)
	}
	if hub.cfg.InboundRate != 5 || hub.cfg.InboundBurst != 10 {
		t.Errorf("inbound limits = %v/%d", hub.cfg.InboundRate, hub.cfg.InboundBurst)
	}
	if hub.GetClientCount() != 0 {
		t.Errorf("GetClientCount() = %d, want 0", hub.GetClientCount())
	}
}

func TestHub_RegisterAttachesAndUnregisterDetaches(t *testing.T) {
	b := broker.New(nil, broker.Config{})
	hub, _, _ := startHub(t, b, Config{})

	client := createTestClient(hub)
	hub.Register <- client
	waitForClientCount(t, hub, 1)

	if err := b.Subscribe("CE-101", client.ID()); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := b.Subscribe("CE-202", client.ID()); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	hub.Unregister <- client
	waitForClientCount(t, hub, 0)

	if got := b.Registry().VehiclesOf(client.ID()); len(got) != 0 {
		t.Errorf("VehiclesOf() = %v after unregister", got)
	}
	if client.Deliver(models.Message{Type: models.EventPong}) {
		t.Error("Deliver() on closed client should report false")
	}
}

func TestHub_UnregisterUnknownClient(t *testing.T) {
	hub, _, _ := startHub(t, broker.New(nil, broker.Config{}), Config{})

	client := createTestClient(hub)
	hub.Unregister <- client
	time.Sleep(20 * time.Millisecond)

	if hub.GetClientCount() != 0 {
		t.Errorf("GetClientCount() = %d, want 0", hub.GetClientCount())
	}
}

func TestHub_RunWithContext(t *testing.T) {
	oldLevel := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.Disabled)
	defer zerolog.SetGlobalLevel(oldLevel)

	t.Run("shuts down on context cancellation", func(t *testing.T) {
		_, cancel, errCh := startHub(t, broker.New(nil, broker.Config{}), Config{})
		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(time.Second):
			t.Error("RunWithContext did not return after context cancellation")
		}
	})

	t.Run("shuts down on context deadline", func(t *testing.T) {
		hub := NewHub(broker.New(nil, broker.Config{}), Config{})
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- hub.RunWithContext(ctx) }()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("expected context.DeadlineExceeded, got %v", err)
			}
		case <-time.After(time.Second):
			t.Error("RunWithContext did not return after deadline")
		}
	})

	t.Run("closes all clients on shutdown", func(t *testing.T) {
		b := broker.New(nil, broker.Config{})
		hub, cancel, errCh := startHub(t, b, Config{})

		clients := make([]*Client, 3)
		for i := range clients {
			clients[i] = createTestClient(hub)
			hub.Register <- clients[i]
			_ = b.Subscribe("CE-101", clients[i].ID())
		}
		waitForClientCount(t, hub, 3)

		cancel()
		select {
		case <-errCh:
		case <-time.After(time.Second):
			t.Fatal("RunWithContext did not return after context cancellation")
		}

		if hub.GetClientCount() != 0 {
			t.Errorf("expected 0 clients after shutdown, got %d", hub.GetClientCount())
		}
		if subs := b.Registry().SubscribersOf("CE-101"); len(subs) != 0 {
			t.Errorf("SubscribersOf() = %v after shutdown", subs)
		}
		for _, c := range clients {
			select {
			case <-c.done:
			default:
				t.Errorf("client %s not closed", c.ID())
			}
		}
	})
}

func TestGetShutdownReason(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if got := getShutdownReason(canceled); got != ShutdownReasonContextCanceled {
		t.Errorf("canceled reason = %s", got)
	}

	expired, cancel2 := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel2()
	<-expired.Done()
	if got := getShutdownReason(expired); got != ShutdownReasonContextDeadline {
		t.Errorf("deadline reason = %s", got)
	}
}

func TestHub_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"missing origin", []string{"*"}, "", false},
		{"wildcard", []string{"*"}, "http://campus.example", true},
		{"listed", []string{"http://campus.example"}, "http://campus.example", true},
		{"unlisted", []string{"http://campus.example"}, "http://evil.example", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(broker.New(nil, broker.Config{}), Config{AllowedOrigins: tt.allowed})
			r := httptest.NewRequest(http.MethodGet, "/api/v1/ws", http.NoBody)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := hub.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_DeliverDropsWhenFull(t *testing.T) {
	hub := NewHub(broker.New(nil, broker.Config{}), Config{SendQueueSize: 2})
	c := createTestClient(hub)

	for i := 0; i < 2; i++ {
		if !c.Deliver(models.Message{Type: models.EventPong}) {
			t.Fatalf("Deliver(%d) = false, want true", i)
		}
	}
	if c.Deliver(models.Message{Type: models.EventPong}) {
		t.Error("Deliver() on full queue = true, want false")
	}

	c.close()
	c.close()
	if c.Deliver(models.Message{Type: models.EventPong}) {
		t.Error("Deliver() after close = true, want false")
	}
}

var _ broker.Session = (*Client)(nil)
var _ Broker = (*broker.Broker)(nil)
