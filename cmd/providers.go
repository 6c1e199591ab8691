package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.uber.org/fx"

	"github.com/webitel/im-presence-service/config"
	clientdi "github.com/webitel/im-presence-service/infra/client/di"
	"github.com/webitel/im-presence-service/internal/adapter/pubsub"
)

// ProvideLogger builds the process logger. The level is a LevelVar so the
// config watcher can change it without a restart.
func ProvideLogger(cfg *config.Config) (*slog.Logger, *slog.LevelVar, error) {
	lvl, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, nil, err
	}
	level := new(slog.LevelVar)
	level.Set(lvl)

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.Log.Otel {
		// [OTEL_BRIDGE] records also go to the global LoggerProvider
		handler = teeHandler{handler, otelslog.NewHandler(ServiceName)}
	}

	logger := slog.New(handler).With(
		slog.String("service", ServiceName),
		slog.String("node_id", cfg.Node.ID),
		slog.String("version", version),
	)
	slog.SetDefault(logger)
	return logger, level, nil
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With(slog.String("component", "watermill")))
}

type busOut struct {
	fx.Out

	Bus       pubsub.Bus
	Transport *pubsub.Transport
}

// ProvidePubSub builds the fan-out bus and the work-queue transport used by
// ingress and the push outbox.
func ProvidePubSub(lc fx.Lifecycle, cfg *config.Config, clients *clientdi.Clients, wlog watermill.LoggerAdapter, logger *slog.Logger) (busOut, error) {
	switch cfg.Bus.Driver {
	case "nats":
		conn, err := clients.NATS()
		if err != nil {
			return busOut{}, err
		}
		bus := pubsub.NewNATSBus(conn, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tr, err := pubsub.NewJetStreamQueue(ctx, conn, pubsub.JetStreamConfig{
			Stream:     cfg.NATS.Work.Stream,
			Prefix:     cfg.NATS.Work.Prefix,
			AckWait:    cfg.NATS.Work.AckWait,
			MaxDeliver: cfg.NATS.Work.MaxDeliver,
		}, wlog)
		if err != nil {
			_ = bus.Close()
			return busOut{}, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return errors.Join(tr.Close(), bus.Close()) }})
		return busOut{Bus: bus, Transport: tr}, nil

	case "gochannel":
		ch := pubsub.NewGoChannel(wlog)
		bus, err := pubsub.NewWatermillBus(ch, ch, wlog, logger, pubsub.WithMiddleware(middleware.Recoverer))
		if err != nil {
			return busOut{}, err
		}
		runBus(lc, bus, logger)
		return busOut{Bus: bus, Transport: &pubsub.Transport{Publisher: ch, Subscriber: ch}}, nil

	case "amqp":
		pub, sub, err := pubsub.NewAMQP(cfg.AMQP.URL, cfg.Node.ID, wlog)
		if err != nil {
			return busOut{}, err
		}
		bus, err := pubsub.NewWatermillBus(pub, sub, wlog, logger, pubsub.WithMiddleware(middleware.Recoverer))
		if err != nil {
			return busOut{}, err
		}
		tr, err := pubsub.NewAMQPQueue(cfg.AMQP.URL, wlog)
		if err != nil {
			_ = bus.Close()
			return busOut{}, err
		}
		runBus(lc, bus, logger)
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return tr.Close() }})
		return busOut{Bus: bus, Transport: tr}, nil

	default:
		return busOut{}, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
	}
}

func runBus(lc fx.Lifecycle, bus *pubsub.WatermillBus, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			go func() {
				if err := bus.Run(ctx); err != nil {
					logger.Error("FANOUT_ROUTER_STOPPED", "err", err)
				}
			}()
			// [READY_GATE] subscriptions must be live before the gateway admits clients
			select {
			case <-bus.Running():
				return nil
			case <-startCtx.Done():
				return startCtx.Err()
			}
		},
		OnStop: func(context.Context) error {
			cancel()
			return bus.Close()
		},
	})
}

// teeHandler writes every record to both handlers.
type teeHandler [2]slog.Handler

func (t teeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return t[0].Enabled(ctx, l) || t[1].Enabled(ctx, l)
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{t[0].WithAttrs(attrs), t[1].WithAttrs(attrs)}
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{t[0].WithGroup(name), t[1].WithGroup(name)}
}
