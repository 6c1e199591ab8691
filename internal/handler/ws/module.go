package ws

import (
	"log/slog"

	"github.com/webitel/im-presence-service/config"
	"github.com/webitel/im-presence-service/internal/domain/presence"
	"github.com/webitel/im-presence-service/internal/domain/registry"
	"github.com/webitel/im-presence-service/internal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ws",
	fx.Provide(
		func(
			cfg *config.Config,
			sup *presence.Supervisor,
			reg *registry.Registry,
			typing *service.Typing,
			store service.EventStore,
			logger *slog.Logger,
		) *Gateway {
			return NewGateway(sup, reg, typing, store, logger, Config{
				HeartbeatInterval: cfg.Heartbeat.Interval,
				ReadLimit:         cfg.WS.ReadLimit,
				WriteTimeout:      cfg.WS.WriteTimeout,
				InboundRate:       cfg.WS.InboundRate,
				InboundBurst:      cfg.WS.InboundBurst,
				AckBatch:          cfg.WS.AckBatch,
				AckInterval:       cfg.WS.AckInterval,
				BackfillLimit:     cfg.WS.BackfillLimit,
			})
		},
	),
)
