package presence

import (
	"context"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/webitel/im-presence-service/config"
	"github.com/webitel/im-presence-service/internal/domain/registry"
	"go.uber.org/fx"
)

var Module = fx.Module("presence",
	fx.Provide(
		func() clock.Clock { return clock.New() },
		func(cfg *config.Config, reg *registry.Registry, store Store, pub StatusPublisher, clk clock.Clock, logger *slog.Logger) *Supervisor {
			return NewSupervisor(reg, store, pub, logger,
				WithClock(clk),
				WithWindow(cfg.Heartbeat.Window),
				WithIOTimeout(cfg.Presence.IOTimeout),
			)
		},
		func(reg *registry.Registry, store Store, clk clock.Clock, logger *slog.Logger) *Query {
			return NewQuery(reg, store, logger, clk)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Supervisor) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				s.Shutdown() // [GRACEFUL_SHUTDOWN] stop pending heartbeat timers
				return nil
			},
		})
	}),
)
