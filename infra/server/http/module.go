package http

import (
	"context"
	"log/slog"

	"github.com/webitel/im-presence-service/config"
	"github.com/webitel/im-presence-service/infra/server/http/interceptors"
	"github.com/webitel/im-presence-service/internal/domain/presence"
	"github.com/webitel/im-presence-service/internal/handler/ws"
	"go.uber.org/fx"
)

var Module = fx.Module("http-server",
	fx.Provide(
		func(cfg *config.Config) interceptors.Authenticator {
			return interceptors.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
		},
		func(cfg *config.Config, gw *ws.Gateway, auther interceptors.Authenticator, store presence.Store, logger *slog.Logger) *Server {
			checks := make(map[string]HealthChecker)
			// [HEALTH] only remote drivers can degrade
			if hc, ok := store.(HealthChecker); ok {
				checks["presence_store"] = hc
			}
			return NewServer(cfg.HTTP.Addr, NewRouter(gw, auther, checks), cfg.HTTP.ShutdownTimeout, logger)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, s *Server) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return s.Start() },
			OnStop:  s.Stop,
		})
	}),
)
