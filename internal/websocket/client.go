// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/bustrack/internal/logging"
	"github.com/tomtom215/bustrack/internal/metrics"
	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/registry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024 // 512 KB
)

// Error codes sent in error frames.
const (
	CodeInvalidEvent         = "INVALID_EVENT"
	CodeUnknownEvent         = "UNKNOWN_EVENT"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeRateLimited          = "TOO_MANY_REQUESTS"
	CodeTooManySubscriptions = "TOO_MANY_SUBSCRIPTIONS"
	CodeInternal             = "INTERNAL_ERROR"
)

// Client is one websocket session: a viewer, a driver, or both.
type Client struct {
	id      registry.SessionID
	hub     *Hub
	conn    *websocket.Conn
	send    chan models.Message
	limiter *rate.Limiter
	ctx     context.Context
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewClient creates a Client with a fresh session id.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	id := registry.SessionID(uuid.NewString())
	ctx := logging.ContextWithSessionID(context.Background(), string(id))
	return &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		send:    make(chan models.Message, hub.cfg.SendQueueSize),
		limiter: rate.NewLimiter(rate.Limit(hub.cfg.InboundRate), hub.cfg.InboundBurst),
		ctx:     ctx,
		logger:  logging.Ctx(ctx).With().Str("component", "websocket-client").Logger(),
		done:    make(chan struct{}),
	}
}

// ID returns the session id.
func (c *Client) ID() registry.SessionID {
	return c.id
}

// Deliver enqueues msg without blocking. It reports false when the queue is
// full or the session is closed.
func (c *Client) Deliver(msg models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close ends the write side. Safe to call more than once.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	close(c.done)
}

func (c *Client) sendError(code, message string) {
	if !c.Deliver(models.Message{Type: models.EventError, Data: models.ErrorPayload{Code: code, Message: message}}) {
		metrics.RecordDrop(metrics.DropQueueFull)
	}
}

// readPump reads frames until the connection fails, then unregisters.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.Unregister <- c:
		case <-c.done:
			// Hub already dropped this client during shutdown.
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("unexpected websocket close error")
			}
			return
		}
		c.handleFrame(data)
	}
}

// handleFrame decodes and dispatches one inbound frame.
func (c *Client) handleFrame(data []byte) {
	msg, err := models.DecodeMessage(data)
	if err != nil {
		metrics.RecordInboundRejected("invalid")
		code := CodeInvalidEvent
		if errors.Is(err, models.ErrUnknownEventType) {
			code = CodeUnknownEvent
		}
		c.sendError(code, err.Error())
		return
	}

	switch msg.Type {
	case models.EventPing:
		c.Deliver(models.Message{Type: models.EventPong})

	case models.EventSubscribe:
		ref := msg.Data.(models.VehicleRef)
		if err := c.hub.broker.Subscribe(ref.VehicleID, c.id); err != nil {
			c.rejectSubscribe(err)
			return
		}
		c.logger.Debug().Str("vehicle_id", ref.VehicleID.String()).Msg("subscribed")

	case models.EventUnsubscribe:
		ref := msg.Data.(models.VehicleRef)
		c.hub.broker.Unsubscribe(ref.VehicleID, c.id)

	case models.EventLocationUpdate:
		if !c.allowPublish() {
			return
		}
		if err := c.hub.broker.PublishLocation(c.ctx, msg.Data.(models.LocationUpdate)); err != nil {
			c.rejectPublish(err)
		}

	case models.EventNotification:
		if !c.allowPublish() {
			return
		}
		n := msg.Data.(models.NotificationMessage)
		if _, err := c.hub.broker.PublishNotification(c.ctx, n.Event()); err != nil {
			c.rejectPublish(err)
		}

	default:
		// pong and error frames from peers carry nothing to act on.
	}
}

func (c *Client) allowPublish() bool {
	if c.limiter.Allow() {
		return true
	}
	metrics.RecordInboundRejected("rate_limited")
	c.sendError(CodeRateLimited, "publish rate exceeded")
	return false
}

func (c *Client) rejectSubscribe(err error) {
	switch {
	case errors.Is(err, models.ErrTooManySubscriptions):
		metrics.RecordInboundRejected("subscription_limit")
		c.sendError(CodeTooManySubscriptions, err.Error())
	case errors.Is(err, models.ErrInvalidEvent):
		metrics.RecordInboundRejected("invalid")
		c.sendError(CodeValidationFailed, err.Error())
	default:
		c.sendError(CodeInternal, err.Error())
	}
}

func (c *Client) rejectPublish(err error) {
	if errors.Is(err, models.ErrInvalidEvent) {
		c.sendError(CodeValidationFailed, err.Error())
		return
	}
	c.logger.Warn().Err(err).Msg("publish failed")
	c.sendError(CodeInternal, "publish failed")
}

// writePump writes queued messages and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			payload, err := json.Marshal(message)
			if err != nil {
				c.logger.Error().Err(err).Str("type", message.Type).Msg("failed to encode message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug().Err(err).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
