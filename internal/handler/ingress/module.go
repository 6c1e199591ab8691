package ingress

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-presence-service/config"
	"github.com/webitel/im-presence-service/internal/adapter/pubsub"
	"go.uber.org/fx"
)

var Module = fx.Module("ingress-handler",
	fx.Provide(
		NewMessageHandler,
		NewRouter,
	),

	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, router *message.Router, tr *pubsub.Transport, h *MessageHandler, logger *slog.Logger) error {
		if !cfg.Ingress.Enabled || tr == nil {
			logger.Info("INGRESS_DISABLED", "bus_driver", cfg.Bus.Driver)
			return nil
		}
		if err := h.RegisterHandlers(cfg, router, tr); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					if err := router.Run(ctx); err != nil {
						logger.Error("INGRESS_ROUTER_STOPPED", "err", err)
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return router.Close()
			},
		})
		return nil
	}),
)
