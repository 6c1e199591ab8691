package service

import (
	"log/slog"

	"github.com/webitel/im-presence-service/config"
	"github.com/webitel/im-presence-service/internal/adapter/pubsub"
	"github.com/webitel/im-presence-service/internal/domain/presence"
	"github.com/webitel/im-presence-service/internal/domain/registry"
	"go.uber.org/fx"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		func(cfg *config.Config, reg *registry.Registry, bus pubsub.Bus, logger *slog.Logger) *Emitter {
			return NewEmitter(reg, bus, cfg.Bus.Channel, cfg.Node.ID, logger)
		},
		// [STATUS_FANOUT] the supervisor announces transitions through the emitter
		func(e *Emitter) presence.StatusPublisher { return e },
		func(q *presence.Query) OnlineChecker { return q },
		NewRecipientResolver,
		NewTyping,
		fx.Annotate(
			func(cfg *config.Config, store EventStore, resolver *RecipientResolver, emitter *Emitter,
				online OnlineChecker, sink OfflineSink, gone GoneHandler, logger *slog.Logger,
			) *Pipeline {
				return NewPipeline(store, resolver, emitter, online, sink, gone, logger,
					WithBodyLimit(cfg.Push.BodyLimit),
					WithPushConcurrency(cfg.Push.Concurrency),
					WithPushTimeout(cfg.Push.Timeout),
				)
			},
			fx.As(fx.Self()),
			fx.As(new(Deliverer)),
		),
	),

	// [DECORATION_LAYER] Intercept OfflineSink to add cross-cutting concerns
	fx.Decorate(func(orig OfflineSink, logger *slog.Logger) OfflineSink {
		return NewSinkMiddleware(orig, logger)
	}),
)
