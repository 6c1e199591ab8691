package event

import (
	"errors"
	"fmt"
)

// Kind is the closed tag set of fan-out events. Every switch over Kind in this
// module is exhaustive; adding a kind means extending all of them.
type Kind int16

const (
	NewMessage      Kind = iota + 1 // [BUSINESS]
	MessageDeleted                  // [BUSINESS]
	Typing                          // [EPHEMERAL]
	CommunityTyping                 // [EPHEMERAL]
	StatusChanged                   // [SYSTEM]
)

var ErrUnknownKind = errors.New("unknown event kind")

// Kinds lists every member of the closed set, in declaration order.
func Kinds() []Kind {
	return []Kind{NewMessage, MessageDeleted, Typing, CommunityTyping, StatusChanged}
}

func (k Kind) String() string {
	switch k {
	case NewMessage:
		return "new_message"
	case MessageDeleted:
		return "message_deleted"
	case Typing:
		return "typing"
	case CommunityTyping:
		return "community_typing"
	case StatusChanged:
		return "status_changed"
	}
	return fmt.Sprintf("Kind(%d)", int16(k))
}

// ParseKind resolves the bus name of a kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func (k Kind) Valid() bool {
	switch k {
	case NewMessage, MessageDeleted, Typing, CommunityTyping, StatusChanged:
		return true
	}
	return false
}

type Priority int32

const (
	PriorityLow    Priority = 10
	PriorityNormal Priority = 20
	PriorityHigh   Priority = 30
)

// Priority drives connector backpressure: low priority frames are shed first.
func (k Kind) Priority() Priority {
	switch k {
	case NewMessage, MessageDeleted:
		return PriorityHigh
	case StatusChanged:
		return PriorityNormal
	case Typing, CommunityTyping:
		return PriorityLow
	}
	return PriorityLow
}

// Durable reports whether the kind is backed by the persistent store and
// therefore eligible for the offline-notification fallback.
func (k Kind) Durable() bool {
	switch k {
	case NewMessage:
		return true
	case MessageDeleted, Typing, CommunityTyping, StatusChanged:
		return false
	}
	return false
}
