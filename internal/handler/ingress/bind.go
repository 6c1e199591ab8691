package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-presence-service/internal/service"
)

// DomainHandler defines the functional signature for business logic.
type DomainHandler[T any] func(ctx context.Context, payload *T) error

// [INFRASTRUCTURE_BRIDGE]
// Bind connects Watermill to the delivery pipeline, handling panic recovery and decoding.
func Bind[T any](h *MessageHandler, fn DomainHandler[T]) message.NoPublishHandlerFunc {
	return func(msg *message.Message) (err error) {
		// [PANIC_RECOVERY]
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("PANIC_RECOVERED",
					"err", r,
					"stack", string(debug.Stack()),
					"msg_id", msg.UUID)
				err = nil // ACK: a panicking payload would panic again on retry
			}
		}()

		// [DECODING]
		payload := new(T)
		if err := json.Unmarshal(msg.Payload, payload); err != nil {
			h.logger.Error("DECODE_FAILED", "err", err, "msg_id", msg.UUID)
			return nil // ACK: Poison Pill protection.
		}

		// [EXECUTION]
		if err := fn(msg.Context(), payload); err != nil {
			if isTerminal(err) {
				h.logger.Warn("INGRESS_REJECTED", "err", err, "msg_id", msg.UUID, "trace_id", TraceID(msg.Context()))
				return nil // ACK: retrying cannot fix the payload
			}
			return err // NACK: transient failure triggers Retry policy.
		}
		return nil
	}
}

func isTerminal(err error) bool {
	var invalid *InvalidPayloadError
	return errors.Is(err, service.ErrNoRecipients) ||
		errors.Is(err, service.ErrMessageNotFound) ||
		errors.Is(err, service.ErrAlreadyStored) ||
		errors.As(err, &invalid)
}

// InvalidPayloadError marks payloads that fail validation.
type InvalidPayloadError struct{ Err error }

func (e *InvalidPayloadError) Error() string { return "invalid payload: " + e.Err.Error() }
func (e *InvalidPayloadError) Unwrap() error { return e.Err }
