// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

package eventbus

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/tomtom215/bustrack/internal/metrics"
	"github.com/tomtom215/bustrack/internal/models"
)

// MemoryBus is an in-process Bus backed by a Watermill GoChannel.
type MemoryBus struct {
	pubsub *gochannel.GoChannel
	topic  string
	msgs   <-chan *message.Message
	logger watermill.LoggerAdapter
	closed atomic.Bool
}

// NewMemoryBus creates the GoChannel and subscribes to the topic right away
// so events published before Run starts are buffered rather than lost.
func NewMemoryBus(cfg Config, logger watermill.LoggerAdapter) (*MemoryBus, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultConfig().Topic
	}
	if cfg.OutputBuffer <= 0 {
		cfg.OutputBuffer = DefaultConfig().OutputBuffer
	}

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            cfg.OutputBuffer,
		BlockPublishUntilSubscriberAck: true,
	}, logger)

	msgs, err := pubsub.Subscribe(context.Background(), cfg.Topic)
	if err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", cfg.Topic, err)
	}

	return &MemoryBus{
		pubsub: pubsub,
		topic:  cfg.Topic,
		msgs:   msgs,
		logger: logger,
	}, nil
}

// Publish hands msg to the GoChannel and returns once the consumer has
// acknowledged it.
func (b *MemoryBus) Publish(_ context.Context, vehicle models.VehicleID, msg models.Message) error {
	if b.closed.Load() {
		return models.ErrClosed
	}

	wm, err := Encode(vehicle, msg)
	if err != nil {
		return err
	}
	err = b.pubsub.Publish(b.topic, wm)
	metrics.RecordEventBus("publish", err)
	return err
}

// Run consumes until ctx ends or the bus is closed. It may be called again
// after returning; the subscription outlives a single Run.
func (b *MemoryBus) Run(ctx context.Context, sink Sink) error {
	return consume(ctx, b.msgs, sink, b.logger)
}

// Close shuts the GoChannel down. Safe to call more than once.
func (b *MemoryBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.pubsub.Close()
}
