package fanout

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/config"
	"github.com/webitel/im-presence-service/internal/adapter/pubsub"
	"github.com/webitel/im-presence-service/internal/domain/event"
	"github.com/webitel/im-presence-service/internal/domain/registry"
)

// Handler is the process-wide bus consumer: it delivers envelopes published by
// other processes to whichever recipients are connected here.
type Handler struct {
	registry *registry.Registry
	presence Reasserter
	logger   *slog.Logger
	nodeID   string
}

// Reasserter restores presence for a user another process declared offline
// while they are connected here (see presence.Supervisor).
type Reasserter interface {
	Reassert(ctx context.Context, userID uuid.UUID) bool
}

func NewHandler(reg *registry.Registry, presence Reasserter, logger *slog.Logger, nodeID string) *Handler {
	return &Handler{registry: reg, presence: presence, logger: logger, nodeID: nodeID}
}

// [REGISTRATION_PIPELINE]
// Register subscribes once for the lifetime of the process.
func Register(cfg *config.Config, bus pubsub.Bus, h *Handler) error {
	if err := bus.Subscribe(cfg.Bus.Channel, Bind(h)); err != nil {
		return err
	}
	h.logger.Info("FANOUT_PIPELINE_READY", slog.String("channel", cfg.Bus.Channel), slog.String("node_id", h.nodeID))
	return nil
}

func (h *Handler) holdsAny(ids []uuid.UUID) bool {
	for _, id := range ids {
		if h.registry.IsConnected(id) {
			return true
		}
	}
	return false
}

// deliverLocal hands ev to every addressee connected to this process.
func (h *Handler) deliverLocal(ev *event.Envelope) int {
	n := 0
	if ev.Scope == event.ScopeAll {
		for _, c := range h.registry.Snapshot() {
			if h.registry.Deliver(c.UserID, ev) {
				n++
			}
		}
		return n
	}
	for _, id := range ev.Recipients {
		if h.registry.Deliver(id, ev) {
			n++
		}
	}
	return n
}
