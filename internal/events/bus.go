// Luftdata - Air Quality and Traffic Flow Data Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/luftdata

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/luftdata/internal/logging"
	"github.com/tomtom215/luftdata/internal/metrics"
)

// Backends.
const (
	BackendGoChannel = "gochannel"
	BackendNATS      = "nats"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("event bus is closed")

// Config selects and tunes the pub/sub backend.
type Config struct {
	Backend       string        `koanf:"backend" validate:"oneof=gochannel nats"`
	NATSURL       string        `koanf:"nats_url" validate:"omitempty,url"`
	QueueGroup    string        `koanf:"queue_group"`
	BufferSize    int64         `koanf:"buffer_size" validate:"gte=0"`
	MaxDeliveries int           `koanf:"max_deliveries" validate:"gte=0"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	CloseTimeout  time.Duration `koanf:"close_timeout"`
}

// DefaultConfig returns an in-process bus.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendGoChannel,
		QueueGroup:    "luftdata",
		BufferSize:    64,
		MaxDeliveries: 3,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		CloseTimeout:  10 * time.Second,
	}
}

// Handler processes one event. A returned error nacks the message.
type Handler func(ctx context.Context, e Event) error

// Bus publishes and consumes ingestion events over watermill.
type Bus struct {
	pub           message.Publisher
	sub           message.Subscriber
	backend       string
	maxDeliveries int

	mu       sync.Mutex
	attempts map[string]int
	closed   bool
	wg       sync.WaitGroup
}

// New builds a bus for cfg.Backend.
func New(cfg Config) (*Bus, error) {
	logger := watermill.NewSlogLogger(logging.NewComponentSlogLogger("events"))

	switch cfg.Backend {
	case "", BackendGoChannel:
		return NewGoChannel(cfg, logger), nil
	case BackendNATS:
		return newNATS(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown event backend %q", cfg.Backend)
	}
}

// NewGoChannel returns an in-process bus. Events published while nobody is
// subscribed are dropped.
func NewGoChannel(cfg Config, logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.BufferSize,
	}, logger)
	return newBus(BackendGoChannel, ch, ch, cfg.MaxDeliveries)
}

func newNATS(cfg Config, logger watermill.LoggerAdapter) (*Bus, error) {
	natsOpts := []natsgo.Option{
		natsgo.Name("luftdata"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
	marshaler := &wmNats.NATSMarshaler{}
	// Core NATS: no stream provisioning is needed for a fire-and-forget trigger.
	jetStream := wmNats.JetStreamConfig{Disabled: true}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   marshaler,
		JetStream:   jetStream,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create NATS publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.NATSURL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		CloseTimeout:     cfg.CloseTimeout,
		AckWaitTimeout:   30 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      marshaler,
		JetStream:        jetStream,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create NATS subscriber: %w", err)
	}
	return newBus(BackendNATS, pub, sub, cfg.MaxDeliveries), nil
}

func newBus(backend string, pub message.Publisher, sub message.Subscriber, maxDeliveries int) *Bus {
	if maxDeliveries <= 0 {
		maxDeliveries = 1
	}
	return &Bus{
		pub:           pub,
		sub:           sub,
		backend:       backend,
		maxDeliveries: maxDeliveries,
		attempts:      make(map[string]int),
	}
}

// Backend names the transport in use.
func (b *Bus) Backend() string { return b.backend }

// Publish sends e on TopicIngestionCompleted. The run id doubles as the
// message id.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBusClosed
	}

	payload, err := marshalEvent(e)
	if err != nil {
		return err
	}
	msg := message.NewMessage(e.RunID, payload)
	msg.Metadata.Set(metadataJob, e.Job)
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		msg.Metadata.Set(metadataCorrelationID, id)
	}

	if err := b.pub.Publish(TopicIngestionCompleted, msg); err != nil {
		return fmt.Errorf("publish %s: %w", TopicIngestionCompleted, err)
	}
	metrics.RecordEventPublished(TopicIngestionCompleted)
	logging.Ctx(ctx).Debug().Str("run_id", e.RunID).Str("job", e.Job).Msg("Event published")
	return nil
}

// Subscribe registers h and processes messages in the background until ctx
// is cancelled or the bus is closed. Registration is complete when Subscribe
// returns.
func (b *Bus) Subscribe(ctx context.Context, h Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	b.wg.Add(1)
	b.mu.Unlock()

	messages, err := b.sub.Subscribe(ctx, TopicIngestionCompleted)
	if err != nil {
		b.wg.Done()
		return fmt.Errorf("subscribe to %s: %w", TopicIngestionCompleted, err)
	}

	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				b.process(ctx, msg, h)
			}
		}
	}()
	return nil
}

func (b *Bus) process(ctx context.Context, msg *message.Message, h Handler) {
	if id := msg.Metadata.Get(metadataCorrelationID); id != "" {
		ctx = logging.ContextWithCorrelationID(ctx, id)
	}
	log := logging.Ctx(ctx)

	e, err := unmarshalEvent(msg.Payload)
	if err != nil {
		// Redelivery cannot fix a bad payload.
		log.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping undecodable event")
		metrics.RecordEventHandled(TopicIngestionCompleted, false)
		msg.Ack()
		return
	}

	if err := h(ctx, e); err != nil {
		metrics.RecordEventHandled(TopicIngestionCompleted, false)
		if b.retryAllowed(msg.UUID) {
			log.Warn().Err(err).Str("run_id", e.RunID).Msg("Event handler failed, redelivering")
			msg.Nack()
			return
		}
		log.Error().Err(err).Str("run_id", e.RunID).Int("deliveries", b.maxDeliveries).
			Msg("Event handler failed, giving up")
		msg.Ack()
		return
	}

	b.forget(msg.UUID)
	metrics.RecordEventHandled(TopicIngestionCompleted, true)
	msg.Ack()
}

// retryAllowed counts a failed delivery and reports whether another is allowed.
func (b *Bus) retryAllowed(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts[id]++
	if b.attempts[id] >= b.maxDeliveries {
		delete(b.attempts, id)
		return false
	}
	return true
}

func (b *Bus) forget(id string) {
	b.mu.Lock()
	delete(b.attempts, id)
	b.mu.Unlock()
}

// Close stops publishing, closes the subscriber and waits for in-flight
// handlers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var errs []error
	if err := b.pub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	// gochannel serves both roles from one value.
	if any(b.sub) != any(b.pub) {
		if err := b.sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	b.wg.Wait()
	return errors.Join(errs...)
}
