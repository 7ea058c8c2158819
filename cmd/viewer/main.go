// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

/*
Command viewer follows one vehicle in the terminal. It cold starts from the
server snapshot, then applies live updates and prints the marker, the trail
length and new notifications on every change.

Type "watch <vehicleId>" on stdin to switch vehicles; "quit" exits.
*/
package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tomtom215/bustrack/internal/config"
	"github.com/tomtom215/bustrack/internal/logging"
	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/snapshot"
	"github.com/tomtom215/bustrack/internal/viewer"
	"github.com/tomtom215/bustrack/internal/wsclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	if err := cfg.ValidateViewer(); err != nil {
		logging.Fatal().Err(err).Msg("Invalid viewer configuration")
	}
	vc := cfg.Viewer

	wsURL, err := config.WebSocketURL(vc.ServerURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid server URL")
	}
	conn, err := wsclient.New(wsclient.Config{URL: wsURL, ReconnectInterval: vc.ReconnectInterval})
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid websocket configuration")
	}
	snapshots, err := snapshot.NewClient(snapshot.ClientConfig{BaseURL: vc.ServerURL, Timeout: vc.FetchTimeout})
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid snapshot client configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := viewer.NewEngine(viewer.Config{
		TrailCapacity:   vc.TrailCapacity,
		FeedCapacity:    vc.FeedCapacity,
		DefaultPosition: models.Position{Lat: vc.DefaultLat, Lng: vc.DefaultLng, Description: "Campus"},
		FetchTimeout:    vc.FetchTimeout,
	}, snapshots, conn)

	// Watch before dialing: the subscription is remembered and sent once a
	// connection exists, and cold start shows the snapshot meanwhile.
	if err := engine.Watch(ctx, models.VehicleID(vc.VehicleID)); err != nil {
		logging.Warn().Err(err).Msg("Subscribe failed, will retry on reconnect")
	}
	go connect(ctx, conn, wsURL, vc.ReconnectInterval)
	defer conn.Shutdown()

	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			logging.Error().Err(err).Msg("Viewer engine stopped")
		}
	}()
	go readCommands(ctx, engine, stop)

	r := newRenderer(os.Stdout)
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-engine.Updates():
			r.Render(v)
		}
	}
}

// connect retries the first dial until it succeeds; afterwards the
// connection manager handles reconnects itself.
func connect(ctx context.Context, conn *wsclient.Manager, url string, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		err := conn.Init(ctx)
		if err == nil || errors.Is(err, models.ErrClosed) {
			return
		}
		logging.Warn().Err(err).Str("url", url).Msg("Server unreachable, showing fallback position")
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func readCommands(ctx context.Context, engine *viewer.Engine, quit context.CancelFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "watch":
			if len(fields) != 2 {
				logging.Warn().Msg("usage: watch <vehicleId>")
				continue
			}
			if err := engine.Watch(ctx, models.VehicleID(fields[1])); err != nil {
				logging.Warn().Err(err).Str("vehicle_id", fields[1]).Msg("Watch failed")
			}
		case "quit", "exit":
			quit()
			return
		default:
			logging.Warn().Str("command", fields[0]).Msg("Unknown command")
		}
	}
}
