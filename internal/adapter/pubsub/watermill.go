package pubsub

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-presence-service/internal/domain/event"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	MetadataOrigin = "x-origin"
	MetadataKind   = "x-kind"
)

var _ Bus = (*WatermillBus)(nil)

// WatermillBus runs subscriptions on a watermill Router so consumers get the
// router's middleware chain and graceful shutdown.
type WatermillBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	logger     *slog.Logger
	middleware []message.HandlerMiddleware

	handlers  atomic.Int32
	published metric.Int64Counter
}

type WatermillOption func(*WatermillBus)

// WithMiddleware appends router middleware applied to every subscription.
func WithMiddleware(m ...message.HandlerMiddleware) WatermillOption {
	return func(b *WatermillBus) { b.middleware = append(b.middleware, m...) }
}

func NewWatermillBus(pub message.Publisher, sub message.Subscriber, wlog watermill.LoggerAdapter, logger *slog.Logger, opts ...WatermillOption) (*WatermillBus, error) {
	router, err := message.NewRouter(message.RouterConfig{}, wlog)
	if err != nil {
		return nil, fmt.Errorf("watermill router: %w", err)
	}

	published, _ := otel.Meter(model.MeterName).Int64Counter("fanout_published_total",
		metric.WithDescription("Envelopes handed to the fan-out bus"))

	b := &WatermillBus{
		publisher:  pub,
		subscriber: sub,
		router:     router,
		logger:     logger,
		published:  published,
	}
	for _, opt := range opts {
		opt(b)
	}
	router.AddMiddleware(b.middleware...)
	return b, nil
}

func (b *WatermillBus) Publish(ctx context.Context, channel string, ev *event.Envelope) {
	data, err := event.Marshal(ev)
	if err != nil {
		b.logger.Error("FANOUT_ENCODE_FAILED", slog.Any("err", err))
		return
	}

	msg := message.NewMessage(ev.ID.String(), data)
	msg.Metadata.Set(MetadataOrigin, ev.Origin)
	msg.Metadata.Set(MetadataKind, ev.Kind.String())
	msg.SetContext(ctx)

	if err := b.publisher.Publish(channel, msg); err != nil {
		// [FIRE_AND_FORGET] the sender's outcome never depends on the bus
		b.logger.Warn("FANOUT_PUBLISH_FAILED",
			slog.String("channel", channel),
			slog.String("kind", ev.Kind.String()),
			slog.Any("err", err),
		)
		return
	}
	b.published.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", ev.Kind.String())))
}

func (b *WatermillBus) Subscribe(channel string, h Handler) error {
	name := fmt.Sprintf("fanout_%s_%d", channel, b.handlers.Add(1))

	b.router.AddConsumerHandler(name, channel, b.subscriber, func(msg *message.Message) error {
		ev, err := event.Unmarshal(msg.Payload)
		if err != nil {
			b.logger.Warn("FANOUT_DECODE_FAILED", slog.String("msg_id", msg.UUID), slog.Any("err", err))
			return nil // ACK: poison pill
		}
		if err := h(msg.Context(), ev); err != nil {
			b.logger.Error("FANOUT_HANDLER_FAILED",
				slog.String("msg_id", msg.UUID),
				slog.String("kind", ev.Kind.String()),
				slog.Any("err", err),
			)
		}
		return nil // ACK: at-most-once
	})
	return nil
}

// Run blocks until ctx is cancelled or the router is closed.
func (b *WatermillBus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once every subscription is consuming.
func (b *WatermillBus) Running() chan struct{} {
	return b.router.Running()
}

func (b *WatermillBus) Close() error {
	if err := b.router.Close(); err != nil {
		return err
	}
	return b.publisher.Close()
}
