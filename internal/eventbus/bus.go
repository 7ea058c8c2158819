// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

// Package eventbus carries accepted events from the broker's publish side to
// its fan-out side over Watermill.
//
// Two transports are available:
//   - memory: a Watermill GoChannel inside the process (default)
//   - nats: NATS JetStream via watermill-nats, optionally with an embedded
//     nats-server (requires the nats build tag)
//
// Both publish every event on a single topic and block the publisher until
// the consumer has acknowledged the previous message, so events from one
// publisher reach the fan-out in publish order.
package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/tomtom215/bustrack/internal/metrics"
	"github.com/tomtom215/bustrack/internal/models"
)

// Transport modes.
const (
	ModeMemory = "memory"
	ModeNATS   = "nats"
)

// Metadata keys set on every bus message.
const (
	MetadataVehicleID = "vehicle_id"
	MetadataEventType = "event_type"
)

// Sink receives events consumed from the bus.
type Sink interface {
	Deliver(ctx context.Context, msg models.Message)
}

// Bus moves events between publish and fan-out.
type Bus interface {
	// Publish hands msg to the transport.
	Publish(ctx context.Context, vehicle models.VehicleID, msg models.Message) error

	// Run consumes the topic and passes each event to sink until ctx ends.
	Run(ctx context.Context, sink Sink) error

	Close() error
}

// Config configures a Bus.
type Config struct {
	Mode  string
	Topic string

	// OutputBuffer is the GoChannel subscriber buffer (memory mode).
	OutputBuffer int64

	// NATS mode.
	NATSURL          string
	Embedded         bool
	EmbeddedHost     string
	EmbeddedPort     int
	StoreDir         string
	StreamName       string
	MaxReconnects    int
	ReconnectWait    time.Duration
	FailureThreshold uint32
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeMemory,
		Topic:            "bustrack.events",
		OutputBuffer:     1024,
		NATSURL:          "nats://127.0.0.1:4222",
		EmbeddedHost:     "127.0.0.1",
		EmbeddedPort:     4222,
		StoreDir:         "/data/nats",
		StreamName:       "BUSTRACK",
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
		FailureThreshold: 5,
	}
}

// New builds the Bus selected by cfg.Mode.
func New(cfg Config, logger watermill.LoggerAdapter) (Bus, error) {
	switch cfg.Mode {
	case ModeMemory, "":
		b, err := NewMemoryBus(cfg, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case ModeNATS:
		b, err := NewNATSBus(cfg, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown event bus mode %q", cfg.Mode)
	}
}

// Encode converts msg into a Watermill message.
func Encode(vehicle models.VehicleID, msg models.Message) (*message.Message, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", msg.Type, err)
	}
	wm := message.NewMessage(watermill.NewUUID(), payload)
	wm.Metadata.Set(MetadataVehicleID, string(vehicle))
	wm.Metadata.Set(MetadataEventType, msg.Type)
	return wm, nil
}

// Decode parses a Watermill message produced by Encode.
func Decode(wm *message.Message) (models.Message, error) {
	return models.DecodeMessage(wm.Payload)
}

// consume drains msgs into sink, acking every message. Undecodable payloads
// are acked too: redelivery cannot fix them.
func consume(ctx context.Context, msgs <-chan *message.Message, sink Sink, logger watermill.LoggerAdapter) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case wm, ok := <-msgs:
			if !ok {
				return nil
			}
			msg, err := Decode(wm)
			metrics.RecordEventBus("consume", err)
			if err != nil {
				logger.Error("Dropping undecodable event", err, watermill.LogFields{
					"message_uuid": wm.UUID,
					"vehicle_id":   wm.Metadata.Get(MetadataVehicleID),
				})
				wm.Ack()
				continue
			}
			sink.Deliver(ctx, msg)
			wm.Ack()
		}
	}
}
