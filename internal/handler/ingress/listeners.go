package ingress

import (
	"context"
	"fmt"
)

// [ON_MESSAGE_CREATED]
func (h *MessageHandler) OnMessageCreatedV1(ctx context.Context, raw *MessageCreatedV1) error {
	msg, err := raw.ToDomain()
	if err != nil {
		return &InvalidPayloadError{Err: err}
	}

	report, err := h.pipeline.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("deliver message: %w", err)
	}

	h.logger.Debug("MESSAGE_DISTRIBUTED",
		"msg_id", report.MessageID,
		"trace_id", TraceID(ctx),
		"recipients", len(report.Recipients),
		"local", len(report.Local),
		"published", report.Published,
		"pushed", len(report.Pushed),
	)
	return nil
}

// [ON_MESSAGE_DELETED]
func (h *MessageHandler) OnMessageDeletedV1(ctx context.Context, raw *MessageDeletedV1) error {
	msg, err := raw.ToDomain()
	if err != nil {
		return &InvalidPayloadError{Err: err}
	}

	if _, err := h.pipeline.Delete(ctx, msg, raw.Replacement); err != nil {
		return fmt.Errorf("deliver deletion: %w", err)
	}
	return nil
}

// [ON_PUSH_TARGET_GONE] feedback from the push worker about a dead device target
func (h *MessageHandler) OnPushTargetGoneV1(ctx context.Context, raw *PushTargetGoneV1) error {
	userID, err := raw.ToDomain()
	if err != nil {
		return &InvalidPayloadError{Err: err}
	}
	h.gone.TargetGone(ctx, userID)
	return nil
}
