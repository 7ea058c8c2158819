// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

// Package metrics holds the Prometheus instrumentation of the Bustrack server.
// Collectors register with the default registry through promauto and are
// exposed at GET /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for DeliveriesDropped.
const (
	DropQueueFull     = "queue_full"
	DropSessionClosed = "session_closed"
)

var (
	// Channel registry
	Subscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bustrack_subscriptions",
			Help: "Current number of (vehicle, session) subscriptions",
		},
	)

	SessionsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bustrack_sessions_connected",
			Help: "Current number of connected websocket sessions",
		},
	)

	// Broker
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bustrack_events_published_total",
			Help: "Total events accepted for fan-out",
		},
		[]string{"type"}, // "location-update", "notification"
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bustrack_deliveries_total",
			Help: "Total events enqueued to subscriber sessions",
		},
		[]string{"type"},
	)

	DeliveriesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bustrack_deliveries_dropped_total",
			Help: "Total fan-out deliveries dropped without retry",
		},
		[]string{"reason"},
	)

	FanOutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bustrack_fanout_duration_seconds",
			Help:    "Time to enqueue one event to all subscribers",
			Buckets: []float64{.00005, .0001, .0005, .001, .005, .01, .05},
		},
	)

	// Event bus
	EventBusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bustrack_eventbus_messages_total",
			Help: "Messages passed through the event bus",
		},
		[]string{"direction", "result"}, // direction: "publish", "consume"
	)

	// Snapshot store and HTTP endpoint
	SnapshotRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bustrack_snapshot_requests_total",
			Help: "Snapshot lookups by result",
		},
		[]string{"result"}, // "hit", "not_found", "error"
	)

	SnapshotWriteErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bustrack_snapshot_write_errors_total",
			Help: "Failed snapshot store writes",
		},
	)

	// Inbound validation
	InboundRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bustrack_inbound_rejected_total",
			Help: "Inbound frames or requests rejected before publish",
		},
		[]string{"reason"}, // "invalid", "rate_limited", "subscription_limit"
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bustrack_api_requests_total",
			Help: "Total HTTP API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bustrack_api_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

// RecordPublish counts an event accepted for fan-out.
func RecordPublish(eventType string) {
	EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordFanOut records one completed fan-out.
func RecordFanOut(eventType string, delivered int, duration time.Duration) {
	if delivered > 0 {
		Deliveries.WithLabelValues(eventType).Add(float64(delivered))
	}
	FanOutDuration.Observe(duration.Seconds())
}

// RecordDrop counts a dropped delivery.
func RecordDrop(reason string) {
	DeliveriesDropped.WithLabelValues(reason).Inc()
}

// RecordEventBus counts an event bus message.
func RecordEventBus(direction string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventBusMessages.WithLabelValues(direction, result).Inc()
}

// RecordSnapshotRequest counts a snapshot lookup.
func RecordSnapshotRequest(result string) {
	SnapshotRequests.WithLabelValues(result).Inc()
}

// RecordInboundRejected counts a rejected inbound frame or request.
func RecordInboundRejected(reason string) {
	InboundRejected.WithLabelValues(reason).Inc()
}

// RecordAPIRequest records an API request.
func RecordAPIRequest(method, endpoint, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
