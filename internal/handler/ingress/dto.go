package ingress

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
)

type PeerDTO struct {
	ID   string `json:"id"`
	Type int    `json:"type"`
}

// [UPSTREAM_V1] payload published by the message service after a write was accepted
type MessageCreatedV1 struct {
	MessageID  string  `json:"message_id"`
	From       string  `json:"from_id"`
	To         PeerDTO `json:"to"`
	Body       string  `json:"body"`
	OccurredAt string  `json:"occurred_at"`
}

type MessageDeletedV1 struct {
	MessageID   string  `json:"message_id"`
	From        string  `json:"from_id"`
	To          PeerDTO `json:"to"`
	Replacement string  `json:"replacement"`
}

// PushTargetGoneV1 is published by the push worker when a provider reports a
// target as permanently unreachable.
type PushTargetGoneV1 struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason,omitempty"`
}

func (d *PushTargetGoneV1) ToDomain() (uuid.UUID, error) {
	id, err := uuid.Parse(d.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("user id: %w", err)
	}
	return id, nil
}

func (d PeerDTO) ToDomain() (model.Peer, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return model.Peer{}, fmt.Errorf("peer id: %w", err)
	}
	typ := model.PeerType(d.Type)
	if typ != model.PeerUser && typ != model.PeerGroup {
		return model.Peer{}, fmt.Errorf("peer type %d", d.Type)
	}
	return model.NewPeer(id, typ), nil
}

func (d *MessageCreatedV1) ToDomain() (*model.Message, error) {
	from, err := uuid.Parse(d.From)
	if err != nil {
		return nil, fmt.Errorf("from id: %w", err)
	}
	to, err := d.To.ToDomain()
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		From:      from,
		To:        to,
		Text:      d.Body,
		CreatedAt: time.Now().UnixMilli(),
	}
	// the id is assigned by the store when the producer did not pick one
	if d.MessageID != "" {
		if msg.ID, err = uuid.Parse(d.MessageID); err != nil {
			return nil, fmt.Errorf("message id: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339, d.OccurredAt); err == nil {
		msg.CreatedAt = t.UnixMilli()
	}
	return msg, nil
}

func (d *MessageDeletedV1) ToDomain() (*model.Message, error) {
	id, err := uuid.Parse(d.MessageID)
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	from, err := uuid.Parse(d.From)
	if err != nil {
		return nil, fmt.Errorf("from id: %w", err)
	}
	to, err := d.To.ToDomain()
	if err != nil {
		return nil, err
	}
	return &model.Message{ID: id, From: from, To: to, Deleted: true}, nil
}
