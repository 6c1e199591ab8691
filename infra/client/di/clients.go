package clientdi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/nats-io/nats.go"
	"github.com/webitel/im-presence-service/config"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const connectTimeout = 15 * time.Second

// Clients owns the connections to external systems. Each one is dialed on
// first use so a node only connects to what its drivers need; NATS is shared
// between the bus and the presence store.
type Clients struct {
	cfg    *config.Config
	logger *slog.Logger

	mu    sync.Mutex
	nc    *nats.Conn
	js    nats.JetStreamContext
	rdb   *redis.Client
	mongo *mongo.Client
}

func New(cfg *config.Config, logger *slog.Logger) *Clients {
	return &Clients{cfg: cfg, logger: logger}
}

func (c *Clients) NATS() (*nats.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.natsLocked()
}

func (c *Clients) natsLocked() (*nats.Conn, error) {
	if c.nc != nil {
		return c.nc, nil
	}
	nc, err := nats.Connect(c.cfg.NATS.URL,
		nats.Name("im-presence-"+c.cfg.Node.ID),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.logger.Warn("NATS_DISCONNECTED", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS_RECONNECTED", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", c.cfg.NATS.URL, err)
	}
	c.nc = nc
	c.logger.Info("NATS_CONNECTED", "url", nc.ConnectedUrl())
	return nc, nil
}

func (c *Clients) JetStream() (nats.JetStreamContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.js != nil {
		return c.js, nil
	}
	nc, err := c.natsLocked()
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	c.js = js
	return js, nil
}

func (c *Clients) Redis() (*redis.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rdb != nil {
		return c.rdb, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Redis.Addr,
		Password: c.cfg.Redis.Password,
		DB:       c.cfg.Redis.DB,
	})
	if err := rdb.Ping().Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", c.cfg.Redis.Addr, err)
	}
	c.rdb = rdb
	c.logger.Info("REDIS_CONNECTED", "addr", c.cfg.Redis.Addr)
	return rdb, nil
}

func (c *Clients) Mongo(ctx context.Context) (*mongo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mongo != nil {
		return c.mongo, nil
	}

	opts := options.Client().
		ApplyURI(c.cfg.Mongo.URI).
		SetAppName("im-presence").
		SetTimeout(c.cfg.Mongo.OperationTimeout).
		SetPoolMonitor(&event.PoolMonitor{
			Event: func(evt *event.PoolEvent) {
				switch evt.Type {
				case event.ConnectionCreated, event.ConnectionClosed:
					c.logger.Debug("MONGO_POOL_EVENT", "type", evt.Type, "address", evt.Address)
				}
			},
		})

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	c.mongo = client
	c.logger.Info("MONGO_CONNECTED", "database", c.cfg.Mongo.Database)
	return client, nil
}

// Close releases every client that was opened.
func (c *Clients) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.nc != nil {
		// [DRAIN] lets in-flight bus and KV calls finish
		if err := c.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain nats: %w", err))
		}
		c.nc, c.js = nil, nil
	}
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		c.rdb = nil
	}
	if c.mongo != nil {
		if err := c.mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect mongo: %w", err))
		}
		c.mongo = nil
	}
	return errors.Join(errs...)
}
