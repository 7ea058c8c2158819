// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

// Package publisher implements the tracking-device side of Bustrack: a
// per-vehicle Idle/Tracking state machine that samples a position source,
// emits location-update events on a fixed cadence and sends operator
// notifications.
//
// While tracking, two producers feed one consumer goroutine: the position
// source sampler and the period timer. The consumer keeps the most recent
// sample (last-known-good) and emits it on every tick. A tick with no sample
// yet emits nothing.
package publisher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/bustrack/internal/logging"
	"github.com/tomtom215/bustrack/internal/models"
	"github.com/tomtom215/bustrack/internal/positionsource"
)

// DefaultInterval is the emit period used when Config.Interval is unset.
const DefaultInterval = 10 * time.Second

// Emitter delivers publisher events to the broker, in process or over a
// websocket connection.
type Emitter interface {
	PublishLocation(ctx context.Context, update models.LocationUpdate) error
	PublishNotification(ctx context.Context, e models.NotificationEvent) (models.NotificationEvent, error)
}

// State is the tracking state of a Publisher.
type State int

const (
	StateIdle State = iota
	StateTracking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTracking:
		return "tracking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config configures a Publisher.
type Config struct {
	VehicleID models.VehicleID
	Interval  time.Duration
}

// Publisher is the location publisher of one vehicle. All methods are safe
// for concurrent use.
type Publisher struct {
	cfg     Config
	source  positionsource.Source
	emitter Emitter
	logger  zerolog.Logger
	now     func() time.Time
	ticker  func(time.Duration) (<-chan time.Time, func())

	mu       sync.Mutex
	state    State
	latest   *models.Position
	nextStop string
	counter  int
	cancel   context.CancelFunc
	done     chan struct{}

	errs chan error
}

// New creates an idle publisher.
func New(cfg Config, source positionsource.Source, emitter Emitter) *Publisher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Publisher{
		cfg:     cfg,
		source:  source,
		emitter: emitter,
		logger:  logging.WithComponent("publisher").With().Str("vehicle_id", string(cfg.VehicleID)).Logger(),
		now:     time.Now,
		ticker:  newTicker,
		errs:    make(chan error, 4),
	}
}

// Errors reports position source failures. Each one has already moved the
// publisher back to Idle.
func (p *Publisher) Errors() <-chan error {
	return p.errs
}

// State returns the current tracking state.
func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Latest returns the last sampled position. It survives Stop.
func (p *Publisher) Latest() (models.Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return models.Position{}, false
	}
	return *p.latest, true
}

// SetNextStop sets the operator "next stop" text used as the description of
// subsequent updates. An empty string restores the counter description.
func (p *Publisher) SetNextStop(text string) {
	p.mu.Lock()
	p.nextStop = strings.TrimSpace(text)
	p.mu.Unlock()
}

// Start moves Idle to Tracking. The sampler and timer run until Stop, ctx
// cancellation or a source failure.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateTracking {
		return models.ErrAlreadyTracking
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.state = StateTracking
	p.cancel = cancel
	p.done = done

	go p.run(runCtx, cancel, done)

	p.logger.Info().Dur("interval", p.cfg.Interval).Msg("Tracking started")
	return nil
}

// Stop cancels the sampler and timer and waits for them to exit. Calling it
// while Idle does nothing.
func (p *Publisher) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.state = StateIdle
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info().Msg("Tracking stopped")
}

// SendNow emits the latest sampled position immediately, in any state.
func (p *Publisher) SendNow(ctx context.Context) error {
	update, ok := p.nextUpdate()
	if !ok {
		return models.ErrNoPositionAvailable
	}
	return p.emitter.PublishLocation(ctx, update)
}

// SendNotification emits an operator notification with a fresh id.
// Notifications do not depend on the tracking state.
func (p *Publisher) SendNotification(ctx context.Context, t models.NotificationType, message string) (models.NotificationEvent, error) {
	e := models.NotificationEvent{
		ID:        models.NewNotificationID(),
		VehicleID: p.cfg.VehicleID,
		Type:      t,
		Message:   strings.TrimSpace(message),
		CreatedAt: p.now().UTC(),
	}
	sent, err := p.emitter.PublishNotification(ctx, e)
	if err != nil {
		return models.NotificationEvent{}, fmt.Errorf("send notification: %w", err)
	}
	p.logger.Info().Str("notification_id", sent.ID).Str("type", string(sent.Type)).Msg("Notification sent")
	return sent, nil
}

// run is the single consumer of the sampler and the timer.
func (p *Publisher) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)

	samples := make(chan models.Position)
	failed := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.source.Watch(ctx, samples); err != nil {
			failed <- err
		}
	}()
	defer wg.Wait()
	defer cancel()

	ticks, stopTicker := p.ticker(p.cfg.Interval)
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			return
		case pos := <-samples:
			p.mu.Lock()
			p.latest = &pos
			p.mu.Unlock()
		case <-ticks:
			p.tick(ctx)
		case err := <-failed:
			p.fail(done, err)
			return
		}
	}
}

func newTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

func (p *Publisher) tick(ctx context.Context) {
	update, ok := p.nextUpdate()
	if !ok {
		p.logger.Debug().Msg("No position sampled yet, skipping tick")
		return
	}
	if err := p.emitter.PublishLocation(ctx, update); err != nil && ctx.Err() == nil {
		p.logger.Warn().Err(err).Msg("Location update not sent")
	}
}

// fail returns to Idle unless Stop already did, then reports err.
func (p *Publisher) fail(done chan struct{}, err error) {
	p.mu.Lock()
	if p.done == done {
		p.state = StateIdle
		p.cancel, p.done = nil, nil
	}
	p.mu.Unlock()

	p.logger.Error().Err(err).Msg("Position source failed, tracking stopped")
	select {
	case p.errs <- err:
	default:
	}
}

// nextUpdate packages the latest position with the current description.
func (p *Publisher) nextUpdate() (models.LocationUpdate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return models.LocationUpdate{}, false
	}
	p.counter++
	pos := *p.latest
	pos.Description = p.nextStop
	if pos.Description == "" {
		pos.Description = fmt.Sprintf("En route (update #%d)", p.counter)
	}
	return models.NewLocationUpdate(p.cfg.VehicleID, pos), true
}
