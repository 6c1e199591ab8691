package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrMalformed = errors.New("malformed envelope")

// wireEnvelope is the bus representation of an Envelope.
type wireEnvelope struct {
	ID         uuid.UUID       `json:"id"`
	Kind       string          `json:"kind"`
	Origin     string          `json:"origin"`
	SenderID   uuid.UUID       `json:"sender_id"`
	Recipients []uuid.UUID     `json:"recipients,omitempty"`
	Scope      Scope           `json:"scope"`
	Payload    json.RawMessage `json:"payload"`
	EmittedAt  int64           `json:"emitted_at"`
}

// Marshal encodes an envelope for the fan-out bus.
func Marshal(e *Envelope) ([]byte, error) {
	if e == nil || e.Payload == nil {
		return nil, fmt.Errorf("%w: nil envelope or payload", ErrMalformed)
	}
	if e.Payload.Kind() != e.Kind {
		return nil, fmt.Errorf("%w: kind %s carries %s payload", ErrMalformed, e.Kind, e.Payload.Kind())
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind, err)
	}
	return json.Marshal(wireEnvelope{
		ID:         e.ID,
		Kind:       e.Kind.String(),
		Origin:     e.Origin,
		SenderID:   e.SenderID,
		Recipients: e.Recipients,
		Scope:      e.Scope,
		Payload:    raw,
		EmittedAt:  e.EmittedAt,
	})
}

// Unmarshal decodes a bus message into the matching payload variant.
func Unmarshal(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	kind, err := ParseKind(w.Kind)
	if err != nil {
		return nil, err
	}
	p, err := newPayload(kind)
	if err != nil {
		return nil, err
	}
	if len(w.Payload) == 0 {
		return nil, fmt.Errorf("%w: empty %s payload", ErrMalformed, kind)
	}
	if err := json.Unmarshal(w.Payload, p); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, kind, err)
	}
	if w.Scope != ScopeUsers && w.Scope != ScopeAll {
		return nil, fmt.Errorf("%w: scope %d", ErrMalformed, w.Scope)
	}

	return &Envelope{
		ID:         w.ID,
		Kind:       kind,
		Origin:     w.Origin,
		SenderID:   w.SenderID,
		Recipients: w.Recipients,
		Scope:      w.Scope,
		Payload:    p,
		EmittedAt:  w.EmittedAt,
	}, nil
}
