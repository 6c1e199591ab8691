package wsmarshaller

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/event"
	"github.com/webitel/im-presence-service/internal/domain/model"
)

// Client-facing event names.
const (
	EventConnected      = "connected"
	EventHeartbeat      = "heartbeat"
	EventHeartbeatAck   = "heartbeat_ack"
	EventNewMessage     = "new_message"
	EventMessageDeleted = "message_deleted"
	EventTyping         = "typing"
	EventGroupTyping    = "group_typing"
	EventStatusChanged  = "status_changed"
)

// WSEvent is a generic wrapper for WebSocket messages to provide consistent structure
type WSEvent struct {
	Event   string `json:"event"`
	ID      string `json:"id"`
	SentAt  int64  `json:"sentAt"`
	Payload any    `json:"payload"`
}

type WSMessage struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        model.Peer     `json:"to"`
	Text      string         `json:"text"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type WSMessageDeleted struct {
	MessageID   string     `json:"messageId"`
	From        string     `json:"from"`
	To          model.Peer `json:"to"`
	Replacement string     `json:"replacement"`
}

type WSTyping struct {
	From     string `json:"from"`
	IsTyping bool   `json:"isTyping"`
}

type WSGroupTyping struct {
	From     string `json:"from"`
	GroupID  string `json:"groupId"`
	IsTyping bool   `json:"isTyping"`
}

type WSStatus struct {
	UserID   string       `json:"userId"`
	Status   model.Status `json:"status"`
	LastSeen int64        `json:"lastSeen"`
}

// ClientEvent maps a fan-out kind to its client vocabulary name.
func ClientEvent(k event.Kind) (string, error) {
	switch k {
	case event.NewMessage:
		return EventNewMessage, nil
	case event.MessageDeleted:
		return EventMessageDeleted, nil
	case event.Typing:
		return EventTyping, nil
	case event.CommunityTyping:
		return EventGroupTyping, nil
	case event.StatusChanged:
		return EventStatusChanged, nil
	default:
		return "", fmt.Errorf("%w: %d", event.ErrUnknownKind, k)
	}
}

// MarshalEnvelope renders the client frame for ev. The result is cached on the
// envelope so fan-out to many local connections encodes once.
func MarshalEnvelope(ev *event.Envelope) ([]byte, error) {
	if frame := ev.Frame(); frame != nil {
		return frame, nil
	}

	name, err := ClientEvent(ev.Kind)
	if err != nil {
		return nil, err
	}

	res := &WSEvent{
		Event:  name,
		ID:     ev.ID.String(),
		SentAt: ev.EmittedAt,
	}

	switch p := ev.Payload.(type) {
	case *event.NewMessagePayload:
		res.Payload = mapMessage(p.Message)
	case *event.MessageDeletedPayload:
		res.Payload = &WSMessageDeleted{
			MessageID:   p.MessageID.String(),
			From:        p.From.String(),
			To:          p.To,
			Replacement: p.Replacement,
		}
	case *event.TypingPayload:
		res.Payload = &WSTyping{From: p.From.String(), IsTyping: p.IsTyping}
	case *event.CommunityTypingPayload:
		res.Payload = &WSGroupTyping{From: p.From.String(), GroupID: p.GroupID.String(), IsTyping: p.IsTyping}
	case *event.StatusChangedPayload:
		res.Payload = &WSStatus{UserID: p.UserID.String(), Status: p.Status, LastSeen: p.LastSeen.UnixMilli()}
	default:
		return nil, fmt.Errorf("%w: payload %T", event.ErrUnknownKind, ev.Payload)
	}

	data, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	ev.SetFrame(data)
	return data, nil
}

// MarshalMessage renders a stored message as a new_message frame (backfill path).
func MarshalMessage(m *model.Message) ([]byte, error) {
	return json.Marshal(&WSEvent{
		Event:   EventNewMessage,
		ID:      m.ID.String(),
		SentAt:  time.Now().UnixMilli(),
		Payload: mapMessage(m),
	})
}

func MarshalConnected(p *model.ConnectedPayload) ([]byte, error) {
	return json.Marshal(&WSEvent{
		Event:   EventConnected,
		ID:      uuid.NewString(),
		SentAt:  time.Now().UnixMilli(),
		Payload: p,
	})
}

func MarshalHeartbeatAck(id string, ack model.HeartbeatAck) ([]byte, error) {
	return json.Marshal(&WSEvent{
		Event:   EventHeartbeatAck,
		ID:      id,
		SentAt:  ack.ServerTime,
		Payload: ack,
	})
}

func mapMessage(m *model.Message) *WSMessage {
	if m == nil {
		return nil
	}
	return &WSMessage{
		ID:        m.ID.String(),
		From:      m.From.String(),
		To:        m.To,
		Text:      m.Text,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Metadata:  m.Metadata,
	}
}
