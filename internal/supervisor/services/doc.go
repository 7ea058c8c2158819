// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

/*
Package services adapts Bustrack server components to suture.Service.

	HTTPServerService   *http.Server, graceful Shutdown on cancel
	HubService          websocket.Hub RunWithContext
	EventBusService     eventbus.Bus Run feeding the broker

Each wrapper implements fmt.Stringer so suture events name the service.
*/
package services
