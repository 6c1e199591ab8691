package event

import (
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
)

// Payload is sealed: only the variants declared in this file implement it.
type Payload interface {
	Kind() Kind
	isPayload()
}

var (
	_ Payload = (*NewMessagePayload)(nil)
	_ Payload = (*MessageDeletedPayload)(nil)
	_ Payload = (*TypingPayload)(nil)
	_ Payload = (*CommunityTypingPayload)(nil)
	_ Payload = (*StatusChangedPayload)(nil)
)

type NewMessagePayload struct {
	Message *model.Message `json:"message"`
}

// MessageDeletedPayload carries the replacement content shown in place of the removed message.
type MessageDeletedPayload struct {
	MessageID   uuid.UUID  `json:"messageId"`
	From        uuid.UUID  `json:"from"`
	To          model.Peer `json:"to"`
	Replacement string     `json:"replacement"`
}

type TypingPayload struct {
	From     uuid.UUID `json:"from"`
	IsTyping bool      `json:"isTyping"`
}

type CommunityTypingPayload struct {
	From     uuid.UUID `json:"from"`
	GroupID  uuid.UUID `json:"groupId"`
	IsTyping bool      `json:"isTyping"`
}

type StatusChangedPayload struct {
	UserID   uuid.UUID    `json:"userId"`
	Status   model.Status `json:"status"`
	LastSeen time.Time    `json:"lastSeen"`
}

func (*NewMessagePayload) Kind() Kind      { return NewMessage }
func (*MessageDeletedPayload) Kind() Kind  { return MessageDeleted }
func (*TypingPayload) Kind() Kind          { return Typing }
func (*CommunityTypingPayload) Kind() Kind { return CommunityTyping }
func (*StatusChangedPayload) Kind() Kind   { return StatusChanged }

func (*NewMessagePayload) isPayload()      {}
func (*MessageDeletedPayload) isPayload()  {}
func (*TypingPayload) isPayload()          {}
func (*CommunityTypingPayload) isPayload() {}
func (*StatusChangedPayload) isPayload()   {}

// newPayload allocates the empty variant for a kind, used by the decoder.
func newPayload(k Kind) (Payload, error) {
	switch k {
	case NewMessage:
		return &NewMessagePayload{}, nil
	case MessageDeleted:
		return &MessageDeletedPayload{}, nil
	case Typing:
		return &TypingPayload{}, nil
	case CommunityTyping:
		return &CommunityTypingPayload{}, nil
	case StatusChanged:
		return &StatusChangedPayload{}, nil
	}
	return nil, ErrUnknownKind
}
