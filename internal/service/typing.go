package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/event"
	"github.com/webitel/im-presence-service/internal/domain/model"
)

// Typing relays ephemeral typing signals: no persistence, no offline fallback,
// and the sender never receives its own signal.
type Typing struct {
	resolver *RecipientResolver
	emitter  *Emitter
	logger   *slog.Logger
}

func NewTyping(resolver *RecipientResolver, emitter *Emitter, logger *slog.Logger) *Typing {
	return &Typing{resolver: resolver, emitter: emitter, logger: logger}
}

func (t *Typing) Typing(ctx context.Context, senderID uuid.UUID, peer model.Peer, isTyping bool) error {
	recipients, err := t.resolver.Resolve(ctx, senderID, peer)
	if err != nil {
		t.logger.Debug("TYPING_RESOLVE_FAILED", slog.String("peer_id", peer.ID.String()), slog.Any("err", err))
		return err
	}
	if len(recipients) == 0 {
		return nil
	}

	var p event.Payload
	if peer.IsGroup() {
		p = &event.CommunityTypingPayload{From: senderID, GroupID: peer.ID, IsTyping: isTyping}
	} else {
		p = &event.TypingPayload{From: senderID, IsTyping: isTyping}
	}

	t.emitter.Distribute(ctx, event.New(senderID, recipients, p))
	return nil
}
