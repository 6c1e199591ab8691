package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/im-presence-service/internal/service"
)

var (
	_ service.OfflineSink = (*LogSink)(nil)
	_ service.OfflineSink = (*OutboxSink)(nil)
)

// LogSink only records what would have been pushed. It is the development driver.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(_ context.Context, n service.Notification) (bool, error) {
	s.logger.Info("OFFLINE_PUSH",
		"user_id", n.UserID,
		"title", n.Title,
		"body", n.Body,
		"message_id", n.Data["message_id"],
	)
	return true, nil
}

// OutboxSink hands push requests to the push provider's worker over a
// watermill topic. Acceptance means the request was queued, not delivered.
type OutboxSink struct {
	publisher message.Publisher
	topic     string
	gone      *GoneTracker
}

func NewOutboxSink(publisher message.Publisher, topic string, gone *GoneTracker) *OutboxSink {
	return &OutboxSink{publisher: publisher, topic: topic, gone: gone}
}

func (s *OutboxSink) Send(ctx context.Context, n service.Notification) (bool, error) {
	if s.gone != nil && s.gone.IsGone(n.UserID) {
		return false, service.ErrTargetGone
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return false, fmt.Errorf("encode push request: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("user_id", n.UserID.String())
	msg.Metadata.Set("content-type", "application/json")
	msg.SetContext(ctx)

	if err := s.publisher.Publish(s.topic, msg); err != nil {
		return false, fmt.Errorf("publish push request: %w", err)
	}
	return true, nil
}
