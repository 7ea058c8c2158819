// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

/*
Package wsclient is the process-wide connection manager for the Bustrack
websocket endpoint, used by the driver and viewer binaries.

A Manager owns exactly one connection. Init dials it and starts the
listener and keepalive goroutines; Shutdown closes it. The handle is
injected into whatever needs the transport (the publisher emitter, the
viewer engine) instead of living in a package global.

When the connection drops the listener redials, paced by a token bucket
limiter, and replays every active subscription on the new connection
before reporting an EventReconnected.
*/
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/bustrack/internal/logging"
	"github.com/tomtom215/bustrack/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrNotConnected is returned by Send while the connection is down.
var ErrNotConnected = errors.New("websocket not connected")

// EventKind classifies connection lifecycle events.
type EventKind int

const (
	EventDisconnected EventKind = iota + 1
	EventReconnected
)

func (k EventKind) String() string {
	switch k {
	case EventDisconnected:
		return "disconnected"
	case EventReconnected:
		return "reconnected"
	default:
		return "unknown"
	}
}

// ConnEvent reports a connection state change.
type ConnEvent struct {
	Kind EventKind
	Err  error
}

// Config configures a Manager.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:3857/api/v1/ws.
	URL string
	// Origin defaults to the http(s) origin of URL.
	Origin            string
	ReconnectInterval time.Duration
	HandshakeTimeout  time.Duration
	MessageBuffer     int
}

// Manager is a single-owner websocket connection with automatic reconnect.
type Manager struct {
	cfg    Config
	dialer websocket.Dialer
	header http.Header
	redial *rate.Limiter

	conn   *websocket.Conn
	connMu sync.Mutex

	subsMu sync.Mutex
	subs   map[models.VehicleID]struct{}

	// afterReplay runs in connect between the subscription replay and the
	// connection becoming visible to Send. Tests only.
	afterReplay func()

	messages chan models.Message
	events   chan ConnEvent

	lifeMu   sync.Mutex
	started  bool
	shutdown bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New validates cfg and creates an unconnected Manager.
func New(cfg Config) (*Manager, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("invalid websocket url %q", cfg.URL)
	}
	if cfg.Origin == "" {
		scheme := "http"
		if u.Scheme == "wss" {
			scheme = "https"
		}
		cfg.Origin = scheme + "://" + u.Host
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2 * time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.MessageBuffer <= 0 {
		cfg.MessageBuffer = 256
	}

	return &Manager{
		cfg:      cfg,
		dialer:   websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		header:   http.Header{"Origin": []string{cfg.Origin}},
		redial:   rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
		subs:     make(map[models.VehicleID]struct{}),
		messages: make(chan models.Message, cfg.MessageBuffer),
		events:   make(chan ConnEvent, 8),
	}, nil
}

// Init dials the server and starts the listener and keepalive loops. They
// run until Shutdown or ctx cancellation. Calling Init again is a no-op.
func (m *Manager) Init(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.shutdown {
		return models.ErrClosed
	}
	if m.started {
		return nil
	}

	// The first dial consumes the limiter token so a fast failure is not
	// followed by an immediate redial.
	m.redial.Allow()
	if err := m.connect(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true

	m.wg.Add(2)
	go m.listen(runCtx)
	go m.pingLoop(runCtx)
	return nil
}

// Shutdown closes the connection and waits for the background loops. The
// Messages and Events channels are closed afterwards. It is idempotent.
func (m *Manager) Shutdown() {
	m.lifeMu.Lock()
	if m.shutdown {
		m.lifeMu.Unlock()
		return
	}
	m.shutdown = true
	cancel, started := m.cancel, m.started
	m.lifeMu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.closeConnection()
	m.wg.Wait()

	if started {
		close(m.messages)
		close(m.events)
	}
	logging.Info().Str("url", m.cfg.URL).Msg("[wsclient] Connection manager stopped")
}

// Messages delivers every decoded frame received from the server.
func (m *Manager) Messages() <-chan models.Message {
	return m.messages
}

// Events delivers connection state changes. Events are dropped when the
// buffer is full.
func (m *Manager) Events() <-chan ConnEvent {
	return m.events
}

// IsConnected reports whether a connection is currently open.
func (m *Manager) IsConnected() bool {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	return m.conn != nil
}

// Send writes one frame. It fails with ErrNotConnected while reconnecting.
func (m *Manager) Send(msg models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", msg.Type, err)
	}

	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == nil {
		return ErrNotConnected
	}
	if err := m.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("write %s frame: %w", msg.Type, err)
	}
	return nil
}

// Subscribe records the subscription and sends it. While disconnected the
// subscription is only recorded and goes out on reconnect.
func (m *Manager) Subscribe(vehicle models.VehicleID) error {
	m.subsMu.Lock()
	m.subs[vehicle] = struct{}{}
	m.subsMu.Unlock()

	err := m.Send(models.Message{Type: models.EventSubscribe, Data: models.VehicleRef{VehicleID: vehicle}})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Unsubscribe forgets the subscription and tells the server.
func (m *Manager) Unsubscribe(vehicle models.VehicleID) error {
	m.subsMu.Lock()
	delete(m.subs, vehicle)
	m.subsMu.Unlock()

	err := m.Send(models.Message{Type: models.EventUnsubscribe, Data: models.VehicleRef{VehicleID: vehicle}})
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Subscriptions returns the vehicles that will be replayed on reconnect.
func (m *Manager) Subscriptions() []models.VehicleID {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	out := make([]models.VehicleID, 0, len(m.subs))
	for v := range m.subs {
		out = append(out, v)
	}
	return out
}

// connect dials and replays subscriptions. The connection is published to
// Send only after the replay so subscribe frames go out first.
func (m *Manager) connect(ctx context.Context) error {
	conn, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, m.header)
	if resp != nil && resp.Body != nil {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.Debug().Err(cerr).Msg("Failed to close handshake response body")
		}
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// subsMu stays held until the connection is visible to Send: a
	// concurrent Subscribe is either replayed here or sent on the new conn.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for v := range m.subs {
		frame, merr := json.Marshal(models.Message{Type: models.EventSubscribe, Data: models.VehicleRef{VehicleID: v}})
		if merr != nil {
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if werr := conn.WriteMessage(websocket.TextMessage, frame); werr != nil {
			_ = conn.Close()
			return fmt.Errorf("resubscribe %s: %w", v, werr)
		}
	}
	if m.afterReplay != nil {
		m.afterReplay()
	}

	m.connMu.Lock()
	m.conn = conn
	m.connMu.Unlock()

	logging.Info().Str("url", m.cfg.URL).Msg("[wsclient] Connected")
	return nil
}

// listen reads frames and reconnects when the connection is lost.
func (m *Manager) listen(ctx context.Context) {
	defer m.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		m.connMu.Lock()
		conn := m.conn
		m.connMu.Unlock()

		if conn == nil {
			if err := m.redial.Wait(ctx); err != nil {
				return
			}
			if err := m.connect(ctx); err != nil {
				logging.Info().Err(err).Msg("[wsclient] Reconnection failed")
				continue
			}
			m.emit(ConnEvent{Kind: EventReconnected})
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			logging.Debug().Err(err).Msg("Failed to set read deadline")
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info().Msg("[wsclient] Connection closed by server")
			} else {
				logging.Warn().Err(err).Msg("[wsclient] Read error")
			}
			m.dropConnection(conn)
			m.emit(ConnEvent{Kind: EventDisconnected, Err: err})
			continue
		}

		msg, err := models.DecodeMessage(data)
		if err != nil {
			logging.Debug().Err(err).Msg("[wsclient] Ignoring undecodable frame")
			continue
		}
		select {
		case m.messages <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// pingLoop keeps the connection alive with transport pings.
func (m *Manager) pingLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.connMu.Lock()
			conn := m.conn
			var err error
			if conn != nil {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			}
			m.connMu.Unlock()

			if err != nil {
				logging.Info().Err(err).Msg("[wsclient] Keep-alive failed")
				_ = conn.Close()
			}
		}
	}
}

func (m *Manager) emit(e ConnEvent) {
	select {
	case m.events <- e:
	default:
	}
}

// dropConnection forgets conn if it is still the current connection.
func (m *Manager) dropConnection(conn *websocket.Conn) {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	if m.conn == conn {
		m.conn = nil
	}
	_ = conn.Close()
}

// closeConnection sends a close frame and closes the current connection.
func (m *Manager) closeConnection() {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.conn == nil {
		return
	}
	if err := m.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	); err != nil {
		logging.Debug().Err(err).Msg("Failed to send close message")
	}
	if err := m.conn.Close(); err != nil {
		logging.Debug().Err(err).Msg("Failed to close connection")
	}
	m.conn = nil
}
