// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/bustrack/internal/middleware"
)

// Router builds the chi route tree.
type Router struct {
	handler       *Handler
	websocket     http.Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a Router. ws serves the websocket upgrade and may be nil
// to leave /api/v1/ws unrouted.
func NewRouter(handler *Handler, ws http.Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{
		handler:       handler,
		websocket:     ws,
		chiMiddleware: mw,
	}
}

// Setup returns the HTTP handler for the whole server.
//
//	GET  /metrics
//	GET  /api/v1/health
//	GET  /api/v1/health/live
//	GET  /api/v1/ws
//	GET  /api/v1/vehicles/{vehicleId}
//	POST /api/v1/vehicles/{vehicleId}/location
//	POST /api/v1/vehicles/{vehicleId}/notifications
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // global so OPTIONS preflight is answered

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)

		r.Route("/health", func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimitHealth())
			r.Use(APISecurityHeaders())
			r.Get("/", router.handler.Health)
			r.Get("/live", router.handler.HealthLive)
		})

		if router.websocket != nil {
			r.With(router.chiMiddleware.RateLimitWebSocket()).Get("/ws", router.websocket.ServeHTTP)
		}

		r.Route("/vehicles/{vehicleId}", func(r chi.Router) {
			r.Use(APISecurityHeaders())
			r.With(router.chiMiddleware.RateLimit()).Get("/", router.handler.GetVehicle)

			r.Group(func(r chi.Router) {
				r.Use(router.chiMiddleware.RateLimitWrite())
				r.Post("/location", router.handler.PublishLocation)
				r.Post("/notifications", router.handler.PublishNotification)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	return r
}
