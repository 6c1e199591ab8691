package ingress

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/webitel/im-presence-service/config"
	"github.com/webitel/im-presence-service/internal/adapter/pubsub"
	"github.com/webitel/im-presence-service/internal/service"
)

const (
	// ------------------- TOPICS (ROUTING KEYS) -----------------
	TopicMessageCreated = "im_message.message.created.v1"
	TopicMessageDeleted = "im_message.message.deleted.v1"
	TopicPushTargetGone = "im_push.target.gone.v1"

	// ------------------- POISON ----------------------------------
	PoisonTopic = "im-presence.ingress.v1.poison"
)

type MessageHandler struct {
	pipeline service.Deliverer
	gone     service.GoneHandler
	logger   *slog.Logger
}

func NewMessageHandler(pipeline service.Deliverer, gone service.GoneHandler, logger *slog.Logger) *MessageHandler {
	return &MessageHandler{pipeline: pipeline, gone: gone, logger: logger}
}

func NewRouter(wlog watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{CloseTimeout: 15 * time.Second}, wlog)
}

// [REGISTRATION_PIPELINE]
func (h *MessageHandler) RegisterHandlers(cfg *config.Config, router *message.Router, tr *pubsub.Transport) error {
	poison, err := middleware.PoisonQueue(tr.Publisher, PoisonTopic)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		name    string
		topic   string
		handler message.NoPublishHandlerFunc
	}{
		{"ON_MSG_CREATED", TopicMessageCreated, Bind(h, h.OnMessageCreatedV1)},
		{"ON_MSG_DELETED", TopicMessageDeleted, Bind(h, h.OnMessageDeletedV1)},
		{"ON_PUSH_TARGET_GONE", TopicPushTargetGone, Bind(h, h.OnPushTargetGoneV1)},
	}

	for _, c := range configs {
		router.AddConsumerHandler(c.name, c.topic, tr.Subscriber, c.handler).AddMiddleware(
			TraceIDMiddleware,
			LoggingMiddleware(h.logger),
			poison,
			NewRetryMiddleware(h.logger).Middleware,
			middleware.NewThrottle(cfg.Ingress.Throughput, time.Second).Middleware,
			middleware.Timeout(time.Second*30),
		)
	}

	h.logger.Info("INGRESS_PIPELINE_READY", "topics", []string{TopicMessageCreated, TopicMessageDeleted, TopicPushTargetGone})
	return nil
}
