// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package supervisor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// countingService fails the first failures runs, then blocks until canceled.
type countingService struct {
	name     string
	failures int32
	starts   atomic.Int32
	running  chan struct{}
	once     sync.Once
}

func newCountingService(name string, failures int32) *countingService {
	return &countingService{name: name, failures: failures, running: make(chan struct{})}
}

func (s *countingService) Serve(ctx context.Context) error {
	if n := s.starts.Add(1); n <= s.failures {
		return errors.New("simulated failure")
	}
	s.once.Do(func() { close(s.running) })
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) String() string { return s.name }

func waitRunning(t *testing.T, s *countingService) {
	t.Helper()
	select {
	case <-s.running:
	case <-time.After(3 * time.Second):
		t.Fatalf("%s never reached steady state (starts=%d)", s.name, s.starts.Load())
	}
}

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	if cfg.FailureThreshold != 5 || cfg.FailureDecay != 30 {
		t.Errorf("unexpected failure settings: %+v", cfg)
	}
	if cfg.FailureBackoff != 15*time.Second || cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("unexpected durations: %+v", cfg)
	}
}

func TestTree_RunsAndStopsServices(t *testing.T) {
	tree := NewTree(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), TreeConfig{ShutdownTimeout: time.Second})

	hub := newCountingService("websocket-hub", 0)
	httpSrv := newCountingService("http-server", 0)
	tree.AddMessagingService(hub)
	tree.AddAPIService(httpSrv)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	waitRunning(t, hub)
	waitRunning(t, httpSrv)

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}

	report, err := tree.UnstoppedServiceReport()
	if err != nil {
		t.Fatal(err)
	}
	if len(report) != 0 {
		t.Errorf("unstopped services: %v", report)
	}
}

func TestTree_RestartsFailingServiceAndLogs(t *testing.T) {
	var logs syncBuffer
	tree := NewTree(slog.New(slog.NewTextHandler(&logs, nil)), TreeConfig{
		FailureThreshold: 10,
		FailureBackoff:   10 * time.Millisecond,
		ShutdownTimeout:  time.Second,
	})

	flaky := newCountingService("event-bus-consumer", 2)
	steady := newCountingService("http-server", 0)
	tree.AddMessagingService(flaky)
	tree.AddAPIService(steady)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	waitRunning(t, flaky)
	waitRunning(t, steady)
	if got := flaky.starts.Load(); got != 3 {
		t.Errorf("flaky service started %d times, want 3", got)
	}
	if got := steady.starts.Load(); got != 1 {
		t.Errorf("api layer restarted by messaging failure: %d starts", got)
	}

	cancel()
	<-errCh
	if !strings.Contains(logs.String(), "event-bus-consumer") {
		t.Errorf("supervisor events not logged: %s", logs.String())
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
