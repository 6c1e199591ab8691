package model

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// PresenceRecord is the shared, TTL'd view of a user's reachability.
// An online record that is not renewed before ExpiresAt reads back as offline.
type PresenceRecord struct {
	UserID    uuid.UUID `json:"user_id"`
	Status    Status    `json:"status"`
	LastSeen  time.Time `json:"last_seen"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether an online record outlived its window at 'now'.
func (r PresenceRecord) Expired(now time.Time) bool {
	return r.Status == StatusOnline && !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Effective returns the record as observed at 'now': expired online records become offline.
func (r PresenceRecord) Effective(now time.Time) PresenceRecord {
	if r.Expired(now) {
		r.Status = StatusOffline
		r.ExpiresAt = time.Time{}
	}
	return r
}

// StatusView is what the query API hands out to callers.
type StatusView struct {
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}
