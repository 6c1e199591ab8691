package event

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Scope selects who an envelope is addressed to.
type Scope int8

const (
	ScopeUsers Scope = iota + 1 // explicit Recipients
	ScopeAll                    // every connection on every process
)

// Envelope is the FanoutEvent: ephemeral, best-effort, never the system of record.
//
// [STRATEGY]
// The full recipient set travels with the envelope; every process receiving it
// delivers to whichever recipients it holds locally (self-filtering), so no
// per-user channel is needed.
type Envelope struct {
	ID         uuid.UUID
	Kind       Kind
	Origin     string // node that published the envelope
	SenderID   uuid.UUID
	Recipients []uuid.UUID
	Scope      Scope
	Payload    Payload
	EmittedAt  int64

	// [CACHE] client wire frame, marshaled once and shared by all local recipients
	frame atomic.Pointer[[]byte]
}

// New builds an envelope addressed to explicit recipients.
func New(sender uuid.UUID, recipients []uuid.UUID, p Payload) *Envelope {
	return &Envelope{
		ID:         uuid.New(),
		Kind:       p.Kind(),
		SenderID:   sender,
		Recipients: recipients,
		Scope:      ScopeUsers,
		Payload:    p,
		EmittedAt:  time.Now().UnixMilli(),
	}
}

// NewBroadcast builds an envelope addressed to every connected user.
func NewBroadcast(sender uuid.UUID, p Payload) *Envelope {
	ev := New(sender, nil, p)
	ev.Scope = ScopeAll
	return ev
}

func (e *Envelope) Priority() Priority { return e.Kind.Priority() }

// Targets reports whether userID is an addressee of this envelope.
func (e *Envelope) Targets(userID uuid.UUID) bool {
	if e.Scope == ScopeAll {
		return true
	}
	return slices.Contains(e.Recipients, userID)
}

// Frame returns the cached wire frame, if any.
func (e *Envelope) Frame() []byte {
	if p := e.frame.Load(); p != nil {
		return *p
	}
	return nil
}

// SetFrame stores the wire frame; concurrent writers produce identical bytes so the last one wins.
func (e *Envelope) SetFrame(b []byte) { e.frame.Store(&b) }
