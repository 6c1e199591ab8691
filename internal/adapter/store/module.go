package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/webitel/im-presence-service/config"
	clientdi "github.com/webitel/im-presence-service/infra/client/di"
	"github.com/webitel/im-presence-service/internal/service"
	"go.uber.org/fx"
)

type Out struct {
	fx.Out

	Events  service.EventStore
	Members service.Membership
}

var Module = fx.Module("store",
	fx.Provide(New),
)

// New selects the driver named by store.driver.
func New(lc fx.Lifecycle, cfg *config.Config, clients *clientdi.Clients, logger *slog.Logger) (Out, error) {
	switch cfg.Store.Driver {
	case "memory":
		s := NewMemoryStore()
		logger.Warn("MESSAGE_STORE_IN_MEMORY", "hint", "messages and groups are lost on restart")
		return Out{Events: s, Members: s}, nil

	case "mongo":
		client, err := clients.Mongo(context.Background())
		if err != nil {
			return Out{}, err
		}
		s := NewMongoStore(client.Database(cfg.Mongo.Database))
		lc.Append(fx.Hook{OnStart: s.EnsureIndexes})
		return Out{Events: s, Members: s}, nil

	default:
		return Out{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
