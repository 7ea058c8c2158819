// Bustrack - Campus Bus Location Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/bustrack

//go:build nats

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/bustrack/internal/metrics"
	"github.com/tomtom215/bustrack/internal/models"
)

// NATSBus carries events over NATS JetStream.
type NATSBus struct {
	cfg        Config
	embedded   *EmbeddedServer
	publisher  message.Publisher
	subscriber message.Subscriber
	breaker    *gobreaker.CircuitBreaker[interface{}]
	logger     watermill.LoggerAdapter
	closed     atomic.Bool
}

// NewNATSBus connects to NATS (starting an embedded server when
// cfg.Embedded is set), ensures the stream exists and creates the Watermill
// publisher and subscriber.
func NewNATSBus(cfg Config, logger watermill.LoggerAdapter) (*NATSBus, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	def := DefaultConfig()
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.StreamName == "" {
		cfg.StreamName = def.StreamName
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}

	b := &NATSBus{cfg: cfg, logger: logger}

	if cfg.Embedded {
		srv, err := NewEmbeddedServer(cfg.EmbeddedHost, cfg.EmbeddedPort, cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		b.embedded = srv
		cfg.NATSURL = srv.ClientURL()
		b.cfg.NATSURL = cfg.NATSURL
	}

	if err := ensureStream(cfg); err != nil {
		b.shutdownEmbedded()
		return nil, err
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		b.shutdownEmbedded()
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	b.publisher = pub

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.NATSURL,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     10 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.DeliverNew(),
				natsgo.MaxAckPending(1),
				natsgo.BindStream(cfg.StreamName),
			},
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		b.shutdownEmbedded()
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}
	b.subscriber = sub

	b.breaker = gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "eventbus-publish",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state changed", watermill.LogFields{
				"name": name, "from": from.String(), "to": to.String(),
			})
		},
	})

	return b, nil
}

// ensureStream creates or updates the JetStream stream holding the topic.
func ensureStream(cfg Config) error {
	nc, err := natsgo.Connect(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	streamCfg := jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.Topic},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    time.Hour,
		Storage:   jetstream.FileStorage,
		Discard:   jetstream.DiscardOld,
	}
	_, err = js.Stream(ctx, cfg.StreamName)
	switch {
	case err == nil:
		_, err = js.UpdateStream(ctx, streamCfg)
	case errors.Is(err, jetstream.ErrStreamNotFound):
		_, err = js.CreateStream(ctx, streamCfg)
	}
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}
	return nil
}

// Publish sends msg to JetStream behind the circuit breaker.
func (b *NATSBus) Publish(_ context.Context, vehicle models.VehicleID, msg models.Message) error {
	if b.closed.Load() {
		return models.ErrClosed
	}
	wm, err := Encode(vehicle, msg)
	if err != nil {
		return err
	}
	wm.Metadata.Set(natsgo.MsgIdHdr, wm.UUID)

	_, err = b.breaker.Execute(func() (interface{}, error) {
		return nil, b.publisher.Publish(b.cfg.Topic, wm)
	})
	metrics.RecordEventBus("publish", err)
	return err
}

// Run subscribes and consumes until ctx ends.
func (b *NATSBus) Run(ctx context.Context, sink Sink) error {
	msgs, err := b.subscriber.Subscribe(ctx, b.cfg.Topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.cfg.Topic, err)
	}
	return consume(ctx, msgs, sink, b.logger)
}

// Close closes publisher, subscriber and the embedded server, if any.
func (b *NATSBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := b.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if err := b.subscriber.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close subscriber: %w", err))
	}
	b.shutdownEmbedded()
	return errors.Join(errs...)
}

func (b *NATSBus) shutdownEmbedded() {
	if b.embedded != nil {
		b.embedded.Shutdown()
	}
}

// EmbeddedServer is an in-process NATS server with JetStream enabled.
type EmbeddedServer struct {
	server *server.Server
}

// NewEmbeddedServer starts a NATS server and waits up to 30s for it to
// accept connections. Port -1 picks a random port.
func NewEmbeddedServer(host string, port int, storeDir string) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "bustrack-events",
		Host:       host,
		Port:       port,
		JetStream:  true,
		StoreDir:   storeDir,
		NoLog:      true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within timeout")
	}
	return &EmbeddedServer{server: ns}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.server.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() {
	s.server.Shutdown()
	s.server.WaitForShutdown()
}
