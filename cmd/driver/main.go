// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

/*
Command driver is the tracking-device client. It samples a position source
and publishes the vehicle's location to the server every DRIVER_INTERVAL
while tracking, and forwards operator notifications.

Operator commands are read from stdin:

	start                    begin periodic updates
	stop                     stop periodic updates
	send                     publish the latest position now
	notify <type> <message>  delay, detour, cancellation, schedule_change, update
	next <stop>              description attached to following updates
	pos <lat> <lng>          feed a position (DRIVER_SOURCE=manual)
	status                   show state and last position
	quit
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/bustrack/internal/config"
	"github.com/tomtom215/bustrack/internal/logging"
	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/positionsource"
	"github.com/tomtom215/bustrack/internal/publisher"
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
	if err := cfg.ValidateDriver(); err != nil {
		logging.Fatal().Err(err).Msg("Invalid driver configuration")
	}
	pc := cfg.Publisher

	wsURL, err := config.WebSocketURL(pc.ServerURL)
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid server URL")
	}
	conn, err := wsclient.New(wsclient.Config{URL: wsURL})
	if err != nil {
		logging.Fatal().Err(err).Msg("Invalid websocket configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := conn.Init(ctx); err != nil {
		logging.Fatal().Err(err).Str("url", wsURL).Msg("Failed to connect to server")
	}
	defer conn.Shutdown()

	feedVehicle := pc.GTFSRTVehicleID
	if feedVehicle == "" {
		feedVehicle = pc.VehicleID
	}
	source, err := positionsource.New(positionsource.Options{
		Kind:           pc.Source,
		RouteFile:      pc.RouteFile,
		SampleInterval: pc.SampleInterval,
		FeedURL:        pc.GTFSRTURL,
		FeedVehicle:    feedVehicle,
		PollInterval:   pc.PollInterval,
		MaxFailures:    pc.MaxFailures,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create position source")
	}

	pub := publisher.New(publisher.Config{
		VehicleID: models.VehicleID(pc.VehicleID),
		Interval:  pc.Interval,
	}, source, wsclient.NewEmitter(conn))
	defer pub.Stop()

	logging.Info().
		Str("vehicle_id", pc.VehicleID).
		Str("source", pc.Source).
		Dur("interval", pc.Interval).
		Str("server", wsURL).
		Msg("Driver ready, type 'start' to begin tracking")

	go watchConnection(ctx, conn, pub)

	var manual positionFeed
	if m, ok := source.(*positionsource.Manual); ok {
		manual = m
	}
	op := newOperator(pub, manual, os.Stdout)
	op.run(ctx, os.Stdin)
}

// watchConnection logs connection changes, server error frames and
// publisher failures until ctx ends.
func watchConnection(ctx context.Context, conn *wsclient.Manager, pub *publisher.Publisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				return
			}
			if ev.Kind == wsclient.EventDisconnected {
				logging.Warn().Err(ev.Err).Msg("Lost connection to server, updates fail until reconnected")
			} else {
				logging.Info().Msg("Reconnected to server")
			}
		case msg, ok := <-conn.Messages():
			if !ok {
				return
			}
			if e, isErr := msg.Data.(models.ErrorPayload); isErr {
				logging.Warn().Str("code", e.Code).Str("message", e.Message).Msg("Server rejected a frame")
			}
		case err := <-pub.Errors():
			logging.Error().Err(err).Msg("Tracking stopped")
		}
	}
}
