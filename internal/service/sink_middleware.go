package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/webitel/im-presence-service/internal/domain/model"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SinkMiddleware implements [DECORATOR_PATTERN] to add observability
// to offline dispatch without touching the sink.
type SinkMiddleware struct {
	Next   OfflineSink
	Logger *slog.Logger

	pushes metric.Int64Counter
}

func NewSinkMiddleware(next OfflineSink, logger *slog.Logger) OfflineSink {
	pushes, _ := otel.Meter(model.MeterName).Int64Counter("offline_push_total",
		metric.WithDescription("Offline notification attempts by outcome"))
	return &SinkMiddleware{Next: next, Logger: logger, pushes: pushes}
}

func (m *SinkMiddleware) Send(ctx context.Context, n Notification) (bool, error) {
	start := time.Now()
	ok, err := m.Next.Send(ctx, n)

	outcome := "accepted"
	switch {
	case errors.Is(err, ErrTargetGone):
		outcome = "gone"
		m.Logger.Info("OFFLINE_TARGET_GONE", slog.String("user_id", n.UserID.String()))
	case err != nil:
		outcome = "failed"
		m.Logger.Warn("OFFLINE_SINK_FAILED",
			slog.String("user_id", n.UserID.String()),
			slog.Any("err", err),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	case !ok:
		outcome = "rejected"
	default:
		m.Logger.Debug("OFFLINE_SINK_ACCEPTED",
			slog.String("user_id", n.UserID.String()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}
	if m.pushes != nil {
		m.pushes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
	return ok, err
}
