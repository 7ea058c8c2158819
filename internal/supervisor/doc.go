// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

/*
Package supervisor runs the Bustrack server components under a suture v4
supervisor tree.

Usage:

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
	    ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddMessagingService(services.NewHubService(hub))
	tree.AddMessagingService(services.NewEventBusService(bus, broker))
	tree.AddAPIService(services.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))

	errCh := tree.ServeBackground(ctx)

A failing service is restarted with backoff; after FailureThreshold
failures within the decay window its supervisor pauses for FailureBackoff.
On shutdown UnstoppedServiceReport names services that did not stop in time.
*/
package supervisor
