// Package presence owns the liveness state machine (Heartbeat Supervisor) and the
// Presence Query API on top of the shared, TTL'd Presence Store.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
)

var (
	// ErrNotFound means the store holds no record for the user (never seen or evicted).
	ErrNotFound = errors.New("presence record not found")
	// ErrUnavailable means the shared store cannot be reached right now.
	ErrUnavailable = errors.New("presence store unavailable")
)

// Store is the cross-process presence key-value store with per-key expiry.
// Writes are idempotent last-write-wins state transitions.
type Store interface {
	// MarkOnline writes an online record that self-expires after ttl unless renewed.
	MarkOnline(ctx context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error
	// MarkOffline drops the online marker and records lastSeen.
	MarkOffline(ctx context.Context, userID uuid.UUID, at time.Time) error
	// Get returns the record as currently stored; expired online records read back offline.
	Get(ctx context.Context, userID uuid.UUID) (model.PresenceRecord, error)
}

// StatusPublisher distributes status_changed events to every process.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, userID uuid.UUID, status model.Status, lastSeen time.Time)
}
