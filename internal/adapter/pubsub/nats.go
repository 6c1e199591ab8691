package pubsub

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/webitel/im-presence-service/internal/domain/event"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var _ Bus = (*NATSBus)(nil)

// NATSBus broadcasts over plain core NATS subjects: every subscriber on the
// subject gets every envelope, nothing is retained.
type NATSBus struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu   sync.Mutex
	subs []*nats.Subscription

	published metric.Int64Counter
}

func NewNATSBus(conn *nats.Conn, logger *slog.Logger) *NATSBus {
	published, _ := otel.Meter(model.MeterName).Int64Counter("fanout_published_total",
		metric.WithDescription("Envelopes handed to the fan-out bus"))
	return &NATSBus{conn: conn, logger: logger, published: published}
}

func (b *NATSBus) Publish(ctx context.Context, channel string, ev *event.Envelope) {
	data, err := event.Marshal(ev)
	if err != nil {
		b.logger.Error("FANOUT_ENCODE_FAILED", slog.Any("err", err))
		return
	}
	if err := b.conn.Publish(channel, data); err != nil {
		b.logger.Warn("FANOUT_PUBLISH_FAILED",
			slog.String("channel", channel),
			slog.String("kind", ev.Kind.String()),
			slog.Any("err", err),
		)
		return
	}
	b.published.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", ev.Kind.String())))
}

func (b *NATSBus) Subscribe(channel string, h Handler) error {
	sub, err := b.conn.Subscribe(channel, func(m *nats.Msg) {
		ev, err := event.Unmarshal(m.Data)
		if err != nil {
			b.logger.Warn("FANOUT_DECODE_FAILED", slog.String("subject", m.Subject), slog.Any("err", err))
			return
		}
		if err := h(context.Background(), ev); err != nil {
			b.logger.Error("FANOUT_HANDLER_FAILED", slog.String("kind", ev.Kind.String()), slog.Any("err", err))
		}
	})
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for _, s := range b.subs {
		if err := s.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	b.subs = nil
	return errors.Join(errs...)
}
