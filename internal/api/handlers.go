// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/bustrack/internal/logging"
	"github.com/tomtom215/bustrack/internal/metrics"
	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/registry"
	"github.com/tomtom215/bustrack/internal/validation"
)

// maxRequestBody caps publish request bodies.
const maxRequestBody = 64 << 10

// Broker is the part of *broker.Broker the handlers use.
type Broker interface {
	Snapshot(ctx context.Context, vehicle models.VehicleID) (models.Snapshot, error)
	PublishLocation(ctx context.Context, update models.LocationUpdate) error
	PublishNotification(ctx context.Context, e models.NotificationEvent) (models.NotificationEvent, error)
	Stats() registry.Stats
}

// SessionCounter reports connected websocket sessions. *websocket.Hub
// implements it.
type SessionCounter interface {
	GetClientCount() int
}

// Handler holds the dependencies of the HTTP handlers.
type Handler struct {
	broker    Broker
	sessions  SessionCounter
	version   string
	startTime time.Time
}

// NewHandler creates a Handler. sessions may be nil.
func NewHandler(b Broker, sessions SessionCounter, version string) *Handler {
	return &Handler{
		broker:    b,
		sessions:  sessions,
		version:   version,
		startTime: time.Now(),
	}
}

// HealthStatus is the payload of GET /api/v1/health.
type HealthStatus struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Uptime        float64 `json:"uptime_seconds"`
	Sessions      int     `json:"sessions"`
	Vehicles      int     `json:"vehicles"`
	Subscriptions int     `json:"subscriptions"`
}

// Health reports process status and registry counts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats := h.broker.Stats()
	sessions := stats.Sessions
	if h.sessions != nil {
		sessions = h.sessions.GetClientCount()
	}

	NewResponseWriter(w, r).Success(HealthStatus{
		Status:        "healthy",
		Version:       h.version,
		Uptime:        time.Since(h.startTime).Seconds(),
		Sessions:      sessions,
		Vehicles:      stats.Vehicles,
		Subscriptions: stats.Subscriptions,
	})
}

// HealthLive is the liveness probe. It never touches dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{"status": "alive"})
}

// GetVehicle returns the last known snapshot of a vehicle, or 404 when the
// vehicle has never published.
func (h *Handler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	vehicle, ok := vehicleParam(rw, r)
	if !ok {
		return
	}

	snap, err := h.broker.Snapshot(r.Context(), vehicle)
	switch {
	case errors.Is(err, models.ErrVehicleNotFound):
		metrics.RecordSnapshotRequest("not_found")
		rw.NotFound("No state recorded for vehicle " + string(vehicle))
	case err != nil:
		metrics.RecordSnapshotRequest("error")
		rw.StoreError(err)
	default:
		metrics.RecordSnapshotRequest("hit")
		rw.Success(snap)
	}
}

// locationRequest is the body of POST /vehicles/{vehicleId}/location.
type locationRequest struct {
	Lat         *float64   `json:"lat" validate:"required,latitude"`
	Lng         *float64   `json:"lng" validate:"required,longitude"`
	Description string     `json:"description" validate:"max=200"`
	Timestamp   *time.Time `json:"timestamp"`
}

// PublishLocation accepts a location from a device that cannot hold a
// websocket and publishes it to the vehicle's subscribers.
func (h *Handler) PublishLocation(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	vehicle, ok := vehicleParam(rw, r)
	if !ok {
		return
	}

	var req locationRequest
	if !decodeBody(rw, w, r, &req) {
		return
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		metrics.RecordInboundRejected("invalid")
		writeValidationError(rw, verr)
		return
	}

	update := models.LocationUpdate{
		VehicleID: vehicle,
		Location: models.Location{
			Lat:         *req.Lat,
			Lng:         *req.Lng,
			Description: strings.TrimSpace(req.Description),
		},
	}
	if req.Timestamp != nil {
		update.Timestamp = req.Timestamp.UTC()
	}

	if err := h.broker.PublishLocation(r.Context(), update); err != nil {
		h.publishFailed(rw, r, vehicle, err)
		return
	}
	rw.Accepted(update)
}

// notificationRequest is the body of POST /vehicles/{vehicleId}/notifications.
type notificationRequest struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	Timestamp *time.Time `json:"timestamp"`
}

// PublishNotification publishes an operator notification. A missing id is
// assigned by the broker and returned in the response.
func (h *Handler) PublishNotification(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	vehicle, ok := vehicleParam(rw, r)
	if !ok {
		return
	}

	var req notificationRequest
	if !decodeBody(rw, w, r, &req) {
		return
	}

	event := models.NotificationEvent{
		ID:        strings.TrimSpace(req.ID),
		VehicleID: vehicle,
		Type:      models.NotificationType(strings.TrimSpace(req.Type)),
		Message:   strings.TrimSpace(req.Message),
	}
	if req.Timestamp != nil {
		event.CreatedAt = req.Timestamp.UTC()
	}

	published, err := h.broker.PublishNotification(r.Context(), event)
	if err != nil {
		h.publishFailed(rw, r, vehicle, err)
		return
	}
	rw.Created(published)
}

func (h *Handler) publishFailed(rw *ResponseWriter, r *http.Request, vehicle models.VehicleID, err error) {
	var verr *validation.RequestValidationError
	if errors.As(err, &verr) {
		writeValidationError(rw, verr)
		return
	}
	logging.Ctx(r.Context()).Error().Err(err).Str("vehicle_id", string(vehicle)).Msg("Publish failed")
	if errors.Is(err, models.ErrClosed) {
		rw.ServiceUnavailable("Server is shutting down")
		return
	}
	rw.InternalError("Failed to publish event")
}

func vehicleParam(rw *ResponseWriter, r *http.Request) (models.VehicleID, bool) {
	ref := models.VehicleRef{VehicleID: models.VehicleID(chi.URLParam(r, "vehicleId"))}
	if verr := validation.ValidateStruct(ref); verr != nil {
		writeValidationError(rw, verr)
		return "", false
	}
	return ref.VehicleID, true
}

func decodeBody(rw *ResponseWriter, w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		metrics.RecordInboundRejected("malformed")
		rw.BadRequest("Invalid JSON body: " + err.Error())
		return false
	}
	return true
}

func writeValidationError(rw *ResponseWriter, verr *validation.RequestValidationError) {
	apiErr := verr.ToAPIError()
	rw.ValidationError(apiErr.Message, apiErr.Details)
}
