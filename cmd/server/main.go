// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/bustrack/internal/api"
	"github.com/tomtom215/bustrack/internal/broker"
	"github.com/tomtom215/bustrack/internal/config"
	"github.com/tomtom215/bustrack/internal/eventbus"
	"github.com/tomtom215/bustrack/internal/logging"
	"github.com/tomtom215/bustrack/internal/snapshot"
	"github.com/tomtom215/bustrack/internal/supervisor"
	"github.com/tomtom215/bustrack/internal/supervisor/services"
	ws "github.com/tomtom215/bustrack/internal/websocket"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

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
	logging.Info().
		Str("version", version).
		Str("eventbus", cfg.EventBus.Mode).
		Str("snapshot_backend", cfg.Snapshot.Backend).
		Msg("Starting Bustrack server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := snapshot.Open(ctx, snapshot.Options{
		Backend:     cfg.Snapshot.Backend,
		BadgerPath:  cfg.Snapshot.BadgerPath,
		DatabaseURL: cfg.Snapshot.DatabaseURL,
		RecentLimit: cfg.Snapshot.RecentLimit,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open snapshot store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing snapshot store")
		}
	}()

	bus, err := eventbus.New(busConfig(cfg), logging.NewWatermillLogger())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize event bus")
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	b := broker.New(store, broker.Config{
		MaxSubscriptionsPerSession: cfg.Broker.MaxSubscriptionsPerSession,
		WelcomeSnapshot:            cfg.Broker.WelcomeSnapshot,
	})
	b.SetBus(bus)

	hub := ws.NewHub(b, ws.Config{
		SendQueueSize:  cfg.Broker.SessionQueueSize,
		InboundRate:    cfg.Security.InboundRate,
		InboundBurst:   cfg.Security.InboundBurst,
		AllowedOrigins: cfg.Security.CORSOrigins,
	})

	mw := api.NewChiMiddleware(&api.ChiMiddlewareConfig{
		CORSAllowedOrigins: cfg.Security.CORSOrigins,
		CORSAllowedMethods: []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		CORSMaxAge:         86400,
		RateLimitRequests:  cfg.Security.RateLimitReqs,
		RateLimitWindow:    cfg.Security.RateLimitWindow,
		RateLimitDisabled:  cfg.Security.RateLimitDisabled,
	})
	router := api.NewRouter(api.NewHandler(b, hub, version), hub, mw)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(services.NewEventBusService(bus, b))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Bustrack server stopped")
}

func busConfig(cfg *config.Config) eventbus.Config {
	bc := eventbus.DefaultConfig()
	bc.Mode = cfg.EventBus.Mode
	bc.Topic = cfg.EventBus.Topic
	bc.NATSURL = cfg.EventBus.NATSURL
	bc.Embedded = cfg.EventBus.Embedded
	bc.EmbeddedHost = cfg.EventBus.EmbeddedHost
	bc.EmbeddedPort = cfg.EventBus.EmbeddedPort
	bc.StoreDir = cfg.EventBus.StoreDir
	bc.StreamName = cfg.EventBus.StreamName
	bc.MaxReconnects = cfg.EventBus.MaxReconnects
	bc.ReconnectWait = cfg.EventBus.ReconnectWait
	return bc
}
