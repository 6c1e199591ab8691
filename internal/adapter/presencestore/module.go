package presencestore

import (
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/webitel/im-presence-service/config"
	clientdi "github.com/webitel/im-presence-service/infra/client/di"
	"github.com/webitel/im-presence-service/internal/domain/presence"
	"go.uber.org/fx"
)

var Module = fx.Module("presence-store",
	fx.Provide(New),
)

// New selects the driver named by presence.driver. Networked drivers are
// wrapped in a circuit breaker; the memory driver cannot fail that way.
func New(cfg *config.Config, clients *clientdi.Clients, clk clock.Clock, logger *slog.Logger) (presence.Store, error) {
	window := cfg.Heartbeat.Window
	guard := func(s presence.Store) presence.Store {
		return NewGuardedStore(s, BreakerConfig{
			Failures:    cfg.Presence.Breaker.Failures,
			OpenTimeout: cfg.Presence.Breaker.OpenTimeout,
		}, logger)
	}

	switch cfg.Presence.Driver {
	case "memory":
		s, err := NewMemoryStore(cfg.Presence.CacheSize, window, clk)
		if err != nil {
			return nil, err
		}
		return s, nil

	case "nats":
		js, err := clients.JetStream()
		if err != nil {
			return nil, err
		}
		s, err := NewNATSStore(js, window)
		if err != nil {
			return nil, err
		}
		return guard(s), nil

	case "redis":
		rdb, err := clients.Redis()
		if err != nil {
			return nil, err
		}
		return guard(NewRedisStore(rdb)), nil

	default:
		return nil, fmt.Errorf("unknown presence driver %q", cfg.Presence.Driver)
	}
}
