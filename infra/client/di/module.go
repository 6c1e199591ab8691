package clientdi

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module(
	"clients",

	// [CONSTRUCTOR] lazy holder; nothing is dialed until a driver asks for it
	fx.Provide(New),

	// [LIFECYCLE] Ensures every opened connection is released on app shutdown
	fx.Invoke(func(lc fx.Lifecycle, clients *Clients) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return clients.Close(ctx)
			},
		})
	}),
)
