package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webitel/im-presence-service/infra/server/http/interceptors"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/domain/presence"
	"github.com/webitel/im-presence-service/internal/domain/registry"
	wsmarshaller "github.com/webitel/im-presence-service/internal/handler/marshaller/ws"
	"github.com/webitel/im-presence-service/internal/service"
	"golang.org/x/time/rate"
)

const (
	DefaultBackfillLimit = 200
	disconnectTimeout    = 5 * time.Second
)

// Config tunes a single client session.
type Config struct {
	HeartbeatInterval time.Duration
	ReadLimit         int64
	WriteTimeout      time.Duration
	InboundRate       float64
	InboundBurst      int
	AckBatch          int
	AckInterval       time.Duration
	BackfillLimit     int
}

func (c *Config) normalize() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = presence.DefaultHeartbeatInterval
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.InboundRate <= 0 {
		c.InboundRate = 20
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = 40
	}
	if c.AckBatch <= 0 {
		c.AckBatch = 50
	}
	if c.AckInterval <= 0 {
		c.AckInterval = time.Second
	}
	if c.BackfillLimit <= 0 {
		c.BackfillLimit = DefaultBackfillLimit
	}
}

// Gateway terminates client WebSockets. Identity is resolved by the auth
// middleware in front of it; requests without one never reach the upgrade.
type Gateway struct {
	logger     *slog.Logger
	supervisor *presence.Supervisor
	registry   *registry.Registry
	typing     *service.Typing
	store      service.EventStore
	upgrader   websocket.Upgrader
	cfg        Config
}

func NewGateway(
	supervisor *presence.Supervisor,
	reg *registry.Registry,
	typing *service.Typing,
	store service.EventStore,
	logger *slog.Logger,
	cfg Config,
) *Gateway {
	cfg.normalize()
	return &Gateway{
		logger:     logger,
		supervisor: supervisor,
		registry:   reg,
		typing:     typing,
		store:      store,
		cfg:        cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin is not a credential here: every socket carries a bearer token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. IDENTITY (set by interceptors.NewAuthMiddleware)
	auth, ok := interceptors.GetAuthUser(r.Context())
	if !ok {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	// 2. UPGRADE TO WEBSOCKET
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("WS_UPGRADE_FAILED", "user_id", auth.UserID, "err", err)
		return
	}
	defer ws.Close()

	// 3. ADMIT INTO REGISTRY + PRESENCE
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := g.registry.NewConnector(ctx, auth.UserID, registry.ConnectMetadata{
		Platform:  r.URL.Query().Get("platform"),
		Version:   r.URL.Query().Get("version"),
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	epoch := g.supervisor.Connect(ctx, auth.UserID, conn)

	s := newSession(ctx, g, ws, conn, auth.UserID, epoch)
	g.logger.Info("WS_OPENED", "user_id", auth.UserID, "conn_id", conn.GetID(), "epoch", epoch)

	// 4. PUMP UNTIL EITHER SIDE GOES AWAY
	s.run()

	// [DETACHED_CLEANUP] the request context is already gone at this point
	dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer dcancel()
	g.supervisor.Disconnect(dctx, auth.UserID, epoch)

	g.logger.Info("WS_CLOSED", "user_id", auth.UserID, "conn_id", conn.GetID(), "epoch", epoch, "dropped", conn.Dropped())
}

func (g *Gateway) connectedFrame(conn registry.Connector) ([]byte, error) {
	return wsmarshaller.MarshalConnected(&model.ConnectedPayload{
		Ok:                true,
		ConnectionID:      conn.GetID().String(),
		ServerVersion:     model.ServerVersion,
		HeartbeatInterval: g.cfg.HeartbeatInterval.Milliseconds(),
	})
}

func (g *Gateway) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(g.cfg.InboundRate), g.cfg.InboundBurst)
}
