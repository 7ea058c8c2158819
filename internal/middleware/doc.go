// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

/*
Package middleware provides HTTP instrumentation shared by the Bustrack
routers.

PrometheusMetrics records bustrack_api_requests_total and
bustrack_api_request_duration_seconds labelled by method, chi route pattern
and status code. It must run inside a chi router so the pattern is known:

	r.Route("/api/v1", func(r chi.Router) {
	    r.Use(middleware.PrometheusMetrics)
	    r.Get("/vehicles/{vehicleId}", h.GetVehicle)
	})

The wrapper supports http.Hijacker, so the websocket endpoint can sit
behind it.
*/
package middleware
