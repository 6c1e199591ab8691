package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/adapter/pubsub"
	"github.com/webitel/im-presence-service/internal/domain/event"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/domain/presence"
	"github.com/webitel/im-presence-service/internal/domain/registry"
)

var _ presence.StatusPublisher = (*Emitter)(nil)

// Emitter performs the routing shared by every outgoing event: local delivery
// first, then at most one bus publication carrying the full recipient set.
type Emitter struct {
	registry *registry.Registry
	bus      pubsub.Bus
	channel  string
	nodeID   string
	logger   *slog.Logger
}

func NewEmitter(reg *registry.Registry, bus pubsub.Bus, channel, nodeID string, logger *slog.Logger) *Emitter {
	return &Emitter{
		registry: reg,
		bus:      bus,
		channel:  channel,
		nodeID:   nodeID,
		logger:   logger,
	}
}

// EmitToUser delivers to the user's connection on this process only.
func (e *Emitter) EmitToUser(userID uuid.UUID, p event.Payload) bool {
	ev := event.New(uuid.Nil, []uuid.UUID{userID}, p)
	ev.Origin = e.nodeID
	return e.registry.Deliver(userID, ev)
}

// Publish distributes across all processes. ScopeAll ignores recipients.
func (e *Emitter) Publish(ctx context.Context, p event.Payload, scope event.Scope, recipients ...uuid.UUID) {
	var ev *event.Envelope
	if scope == event.ScopeAll {
		ev = event.NewBroadcast(uuid.Nil, p)
	} else {
		ev = event.New(uuid.Nil, recipients, p)
	}
	e.Distribute(ctx, ev)
}

// PublishStatus announces a presence transition to every connected user.
func (e *Emitter) PublishStatus(ctx context.Context, userID uuid.UUID, status model.Status, lastSeen time.Time) {
	e.Distribute(ctx, event.NewBroadcast(userID, &event.StatusChangedPayload{
		UserID:   userID,
		Status:   status,
		LastSeen: lastSeen,
	}))
}

// Distribute delivers ev to local recipients and publishes it once on the bus
// when some addressee may live on another process. It returns the recipients
// served locally.
func (e *Emitter) Distribute(ctx context.Context, ev *event.Envelope) (local []uuid.UUID, published bool) {
	ev.Origin = e.nodeID

	switch ev.Scope {
	case event.ScopeAll:
		for _, c := range e.registry.Snapshot() {
			if e.registry.Deliver(c.UserID, ev) {
				local = append(local, c.UserID)
			}
		}
		e.bus.Publish(ctx, e.channel, ev)
		return local, true

	case event.ScopeUsers:
		remote := false
		for _, id := range ev.Recipients {
			if e.registry.Deliver(id, ev) {
				local = append(local, id)
				continue
			}
			if !e.registry.IsConnected(id) {
				remote = true
			}
		}
		if remote {
			// [ONCE_PER_EVENT] every process filters the set for its own connections
			e.bus.Publish(ctx, e.channel, ev)
		}
		return local, remote

	default:
		e.logger.Error("FANOUT_SCOPE_INVALID", slog.String("event_id", ev.ID.String()), slog.Int("scope", int(ev.Scope)))
		return nil, false
	}
}
