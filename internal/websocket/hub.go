// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package websocket

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/bustrack/internal/broker"
	"github.com/tomtom215/bustrack/internal/logging"
	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/registry"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful path (SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline may indicate a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Broker is the part of the broker a Hub drives.
type Broker interface {
	Attach(s broker.Session)
	Detach(id registry.SessionID)
	Subscribe(vehicle models.VehicleID, id registry.SessionID) error
	Unsubscribe(vehicle models.VehicleID, id registry.SessionID)
	PublishLocation(ctx context.Context, update models.LocationUpdate) error
	PublishNotification(ctx context.Context, e models.NotificationEvent) (models.NotificationEvent, error)
}

// Config tunes sessions created by the hub.
type Config struct {
	// SendQueueSize bounds each session's outbound queue.
	SendQueueSize int

	// InboundRate and InboundBurst limit publishes per session.
	InboundRate  float64
	InboundBurst int

	// AllowedOrigins lists accepted Origin headers; "*" accepts any.
	AllowedOrigins []string
}

// DefaultConfig returns the default session limits.
func DefaultConfig() Config {
	return Config{
		SendQueueSize:  256,
		InboundRate:    5,
		InboundBurst:   10,
		AllowedOrigins: []string{"*"},
	}
}

// Hub tracks live sessions and ties their lifecycle to the broker.
type Hub struct {
	broker     Broker
	cfg        Config
	clients    map[registry.SessionID]*Client
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a Hub bound to b.
func NewHub(b Broker, cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = def.InboundRate
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = def.InboundBurst
	}
	return &Hub{
		broker:     b,
		cfg:        cfg,
		clients:    make(map[registry.SessionID]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// RunWithContext processes registrations until ctx is canceled, then closes
// every session. Designed for suture supervision.
//
// Shutdown is checked first, then lifecycle events, so client state is
// consistent whenever the loop blocks.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.broker.Attach(c)
	logging.Info().Str("session_id", string(c.id)).Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.broker.Detach(c.id)
	c.close()
	logging.Info().Str("session_id", string(c.id)).Int("total_clients", n).Msg("websocket client disconnected")
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// closeAllClients detaches and closes every session in id order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[registry.SessionID]*Client)
	h.mu.Unlock()

	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, c := range clients {
		h.broker.Detach(c.id)
		c.close()
	}
}

// GetClientCount returns the number of connected sessions.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkOrigin accepts configured origins. Browser websockets always send
// Origin, so an empty header is rejected.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("WebSocket connection rejected: missing Origin header")
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("WebSocket connection rejected from unauthorized origin")
	return false
}

// ServeHTTP upgrades the request and starts a session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := NewClient(h, conn)
	select {
	case h.Register <- client:
		client.Start()
	case <-r.Context().Done():
		_ = conn.Close()
	}
}
