package fanout

import (
	"context"
	"log/slog"

	"github.com/webitel/im-presence-service/internal/domain/event"
	"github.com/webitel/im-presence-service/internal/domain/model"
)

// [ON_NEW_MESSAGE]
func (h *Handler) OnNewMessage(ctx context.Context, ev *event.Envelope) error {
	n := h.deliverLocal(ev)
	h.logger.Debug("REMOTE_MESSAGE_DELIVERED", slog.String("event_id", ev.ID.String()), slog.Int("local", n))
	return nil
}

// [ON_MESSAGE_DELETED]
func (h *Handler) OnMessageDeleted(ctx context.Context, ev *event.Envelope) error {
	h.deliverLocal(ev)
	return nil
}

// [ON_TYPING]
func (h *Handler) OnTyping(ctx context.Context, ev *event.Envelope) error {
	h.deliverLocal(ev)
	return nil
}

// [ON_COMMUNITY_TYPING]
func (h *Handler) OnCommunityTyping(ctx context.Context, ev *event.Envelope) error {
	h.deliverLocal(ev)
	return nil
}

// [ON_STATUS_CHANGED]
// Broadcast: reaches every connection on this process.
func (h *Handler) OnStatusChanged(ctx context.Context, ev *event.Envelope) error {
	p, ok := ev.Payload.(*event.StatusChangedPayload)
	if !ok {
		return nil
	}
	h.logger.Debug("REMOTE_STATUS_CHANGED",
		slog.String("user_id", p.UserID.String()),
		slog.String("status", string(p.Status)),
	)

	// [REPAIR] a remote offline for a user held here is stale: the newest connection wins
	if p.Status == model.StatusOffline && h.presence != nil && h.presence.Reassert(ctx, p.UserID) {
		return nil
	}
	h.deliverLocal(ev)
	return nil
}
