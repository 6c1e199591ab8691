package fanout

import (
	"log/slog"

	"github.com/webitel/im-presence-service/config"
	"github.com/webitel/im-presence-service/internal/domain/presence"
	"github.com/webitel/im-presence-service/internal/domain/registry"
	"go.uber.org/fx"
)

var Module = fx.Module("fanout-handler",
	fx.Provide(
		func(cfg *config.Config, reg *registry.Registry, sup *presence.Supervisor, logger *slog.Logger) *Handler {
			return NewHandler(reg, sup, logger, cfg.Node.ID)
		},
	),

	fx.Invoke(Register),
)
