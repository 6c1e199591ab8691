package wsmarshaller

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
)

// inboundFrame is the client -> server envelope; same shape as WSEvent.
type inboundFrame struct {
	Event   string          `json:"event"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a decoded client frame. Variants: Heartbeat, Typing.
type Command interface {
	FrameID() string
	isCommand()
}

type Heartbeat struct {
	ID string
}

// Typing covers both typing (direct) and group_typing.
type Typing struct {
	ID       string
	Peer     model.Peer
	IsTyping bool
}

func (h Heartbeat) FrameID() string { return h.ID }
func (t Typing) FrameID() string    { return t.ID }
func (Heartbeat) isCommand()        {}
func (Typing) isCommand()           {}

type typingIn struct {
	To       uuid.UUID `json:"to"`
	IsTyping bool      `json:"isTyping"`
}

type groupTypingIn struct {
	GroupID  uuid.UUID `json:"groupId"`
	IsTyping bool      `json:"isTyping"`
}

// DecodeCommand parses one client frame.
func DecodeCommand(data []byte) (Command, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch f.Event {
	case EventHeartbeat:
		return Heartbeat{ID: f.ID}, nil

	case EventTyping:
		var in typingIn
		if err := decodePayload(f.Payload, &in); err != nil {
			return nil, err
		}
		if in.To == uuid.Nil {
			return nil, fmt.Errorf("%w: typing without recipient", ErrMalformedFrame)
		}
		return Typing{ID: f.ID, Peer: model.NewPeer(in.To, model.PeerUser), IsTyping: in.IsTyping}, nil

	case EventGroupTyping:
		var in groupTypingIn
		if err := decodePayload(f.Payload, &in); err != nil {
			return nil, err
		}
		if in.GroupID == uuid.Nil {
			return nil, fmt.Errorf("%w: group_typing without group", ErrMalformedFrame)
		}
		return Typing{ID: f.ID, Peer: model.NewPeer(in.GroupID, model.PeerGroup), IsTyping: in.IsTyping}, nil

	case "":
		return nil, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing payload", ErrMalformedFrame)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}
