// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

/*
Command server runs the Bustrack broker: websocket sessions for drivers and
viewers, the HTTP snapshot and publish API, and Prometheus metrics.

Startup order:

 1. Load configuration (defaults, config.yaml, environment)
 2. Open the snapshot store (memory, badger or postgres)
 3. Create the event bus (memory, or nats when built with -tags nats)
 4. Wire broker, websocket hub and chi router
 5. Run hub, event bus consumer and HTTP server under the supervisor tree

SIGINT or SIGTERM cancels the tree; the hub closes every session and the
HTTP server drains for server.shutdown_timeout.

Common environment variables:

	HTTP_PORT=3857
	EVENTBUS_MODE=memory|nats
	SNAPSHOT_BACKEND=memory|badger|postgres
	DATABASE_URL=postgres://...
	LOG_LEVEL=info
*/
package main
