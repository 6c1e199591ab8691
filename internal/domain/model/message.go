package model

import "github.com/google/uuid"

type PeerType int16

const (
	// [ZERO_VALUE_GUARD] WE START FROM 1 TO DISTINGUISH FROM UNINITIALIZED DATA
	PeerUser PeerType = iota + 1
	PeerGroup
)

// Peer is the addressee of a message: a single user or a group (community).
type Peer struct {
	ID   uuid.UUID `json:"id"`
	Type PeerType  `json:"type"`
}

func NewPeer(id uuid.UUID, typ PeerType) Peer {
	return Peer{ID: id, Type: typ}
}

func (p Peer) IsGroup() bool { return p.Type == PeerGroup }

// [MESSAGE] CORE ENTITY REPRESENTING A CONVERSATION ELEMENT
type Message struct {
	ID        uuid.UUID      `json:"id"`
	From      uuid.UUID      `json:"from"`
	To        Peer           `json:"to"`
	Text      string         `json:"text"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at,omitempty"`
	Deleted   bool           `json:"deleted,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
