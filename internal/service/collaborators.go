package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
)

var (
	// ErrPersist wraps a failed durable write; nothing was distributed.
	ErrPersist = errors.New("persist failed")
	// ErrNoRecipients is returned for messages with no addressable peer.
	ErrNoRecipients = errors.New("message has no recipients")
	// ErrAlreadyStored is returned by an EventStore given a message id it already holds.
	ErrAlreadyStored = errors.New("message already stored")
	// ErrMessageNotFound is returned by an EventStore asked to tombstone an unknown message.
	ErrMessageNotFound = errors.New("message not found")
	// ErrTargetGone is returned by an OfflineSink whose target will never accept a push again.
	ErrTargetGone = errors.New("push target gone")
)

// EventStore is the system of record for messages.
type EventStore interface {
	// Persist stores msg with recipients as its unacknowledged set. The caller
	// resolves recipients once and uses the same set for distribution.
	Persist(ctx context.Context, msg *model.Message, recipients []uuid.UUID) (uuid.UUID, error)
	// PersistDeletion tombstones a message, replacing its visible content.
	PersistDeletion(ctx context.Context, messageID uuid.UUID, replacement string) error
	// FindUndelivered returns messages addressed to userID that were never acknowledged, oldest first.
	FindUndelivered(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Message, error)
	Acknowledge(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) error
}

// Membership answers group composition questions. Results must never be cached by callers.
type Membership interface {
	MembersOf(ctx context.Context, groupID uuid.UUID) ([]uuid.UUID, error)
	OwnerOf(ctx context.Context, groupID uuid.UUID) (uuid.UUID, error)
}

// Notification is the truncated, transport-agnostic push request.
type Notification struct {
	UserID uuid.UUID         `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// OfflineSink delivers a push to a user with no live connection anywhere.
// It reports ErrTargetGone when the target is permanently invalid.
type OfflineSink interface {
	Send(ctx context.Context, n Notification) (bool, error)
}

// GoneHandler is told about push targets the sink reported as gone.
type GoneHandler interface {
	TargetGone(ctx context.Context, userID uuid.UUID)
}

type GoneHandlerFunc func(ctx context.Context, userID uuid.UUID)

func (f GoneHandlerFunc) TargetGone(ctx context.Context, userID uuid.UUID) { f(ctx, userID) }

// OnlineChecker is the cross-process reachability view (see presence.Query).
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID uuid.UUID) bool
}
