// Package pubsub carries fan-out envelopes between processes.
//
// Delivery is at-most-once: Publish never reports failure to the caller, and a
// subscriber that fails to handle an envelope logs and acknowledges it.
package pubsub

import (
	"context"

	"github.com/webitel/im-presence-service/internal/domain/event"
)

// Handler consumes one decoded envelope. Returned errors are logged only.
type Handler func(ctx context.Context, ev *event.Envelope) error

// Bus is the cross-process broadcast channel every instance subscribes to.
type Bus interface {
	// Publish is fire-and-forget: failures are logged and swallowed.
	Publish(ctx context.Context, channel string, ev *event.Envelope)
	// Subscribe registers h for the process lifetime. Call it during startup.
	Subscribe(channel string, h Handler) error
	Close() error
}
