package fanout

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/webitel/im-presence-service/internal/adapter/pubsub"
	"github.com/webitel/im-presence-service/internal/domain/event"
)

// KindHandler delivers one decoded envelope to this process's connections.
type KindHandler func(ctx context.Context, ev *event.Envelope) error

// [INFRASTRUCTURE_BRIDGE]
// Bind connects the bus to local delivery, handling panic recovery, origin and kind routing.
func Bind(h *Handler) pubsub.Handler {
	return func(ctx context.Context, ev *event.Envelope) (err error) {
		// [PANIC_RECOVERY]
		// Safely handle runtime panics to keep the consumer alive.
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("PANIC_RECOVERED",
					"err", r,
					"stack", string(debug.Stack()),
					"event_id", ev.ID)
				err = fmt.Errorf("fanout handler panic: %v", r)
			}
		}()

		// [ORIGIN_FILTER]
		// The publishing process already served its own local recipients.
		if ev.Origin == h.nodeID {
			return nil
		}

		// [LOCALITY_FILTER]
		// Skip envelopes addressed only to users held by other processes.
		if ev.Scope == event.ScopeUsers && !h.holdsAny(ev.Recipients) {
			return nil
		}

		route, err := h.route(ev.Kind)
		if err != nil {
			return err
		}
		return route(ctx, ev)
	}
}

// route is the exhaustive kind dispatch table.
func (h *Handler) route(k event.Kind) (KindHandler, error) {
	switch k {
	case event.NewMessage:
		return h.OnNewMessage, nil
	case event.MessageDeleted:
		return h.OnMessageDeleted, nil
	case event.Typing:
		return h.OnTyping, nil
	case event.CommunityTyping:
		return h.OnCommunityTyping, nil
	case event.StatusChanged:
		return h.OnStatusChanged, nil
	default:
		return nil, fmt.Errorf("%w: %d", event.ErrUnknownKind, k)
	}
}
