package push

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/webitel/im-presence-service/config"
	"github.com/webitel/im-presence-service/internal/adapter/pubsub"
	"github.com/webitel/im-presence-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("push",
	fx.Provide(
		func(logger *slog.Logger) *GoneTracker { return NewGoneTracker(DefaultGoneTTL, logger) },
		func(t *GoneTracker) service.GoneHandler { return t },
		NewSink,
	),
)

// NewSink selects the driver named by push.driver.
func NewSink(cfg *config.Config, tr *pubsub.Transport, gone *GoneTracker, logger *slog.Logger) (service.OfflineSink, error) {
	switch cfg.Push.Driver {
	case "log":
		return NewLogSink(logger), nil
	case "outbox":
		if tr == nil {
			return nil, errors.New("push.driver=outbox needs a work-queue transport")
		}
		return NewOutboxSink(tr.Publisher, cfg.Push.Topic, gone), nil
	default:
		return nil, fmt.Errorf("unknown push driver %q", cfg.Push.Driver)
	}
}
