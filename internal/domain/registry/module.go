package registry

import (
	"context"

	"github.com/webitel/im-presence-service/config"
	"go.uber.org/fx"
)

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Registry using Functional Options
		func(cfg *config.Config) *Registry {
			return New(
				WithSendBuffer(cfg.Registry.SendBuffer),
				WithSendTimeout(cfg.Registry.SendTimeout),
			)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, r *Registry) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				r.Shutdown() // [GRACEFUL_SHUTDOWN] close every live handle
				return nil
			},
		})
	}),
)
