package cmd

import (
	"log/slog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/webitel/im-presence-service/config"
	clientdi "github.com/webitel/im-presence-service/infra/client/di"
	httpsrv "github.com/webitel/im-presence-service/infra/server/http"
	"github.com/webitel/im-presence-service/internal/adapter/presencestore"
	"github.com/webitel/im-presence-service/internal/adapter/push"
	"github.com/webitel/im-presence-service/internal/adapter/store"
	"github.com/webitel/im-presence-service/internal/domain/presence"
	"github.com/webitel/im-presence-service/internal/domain/registry"
	"github.com/webitel/im-presence-service/internal/handler/fanout"
	"github.com/webitel/im-presence-service/internal/handler/ingress"
	"github.com/webitel/im-presence-service/internal/handler/ws"
	"github.com/webitel/im-presence-service/internal/service"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvidePubSub,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Invoke(func(cfg *config.Config, level *slog.LevelVar, logger *slog.Logger) {
			cfg.WatchLogLevel(level, logger)
		}),
		clientdi.Module,
		registry.Module,
		presencestore.Module,
		presence.Module,
		store.Module,
		push.Module,
		service.Module,
		fanout.Module,
		ingress.Module,
		ws.Module,
		httpsrv.Module,
	)
}
