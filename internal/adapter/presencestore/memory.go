// Package presencestore holds the Presence Store drivers: an in-process store
// for single-node deployments and tests, NATS JetStream KV and Redis for fleets.
package presencestore

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/domain/presence"
)

var _ presence.Store = (*MemoryStore)(nil)

// MemoryStore keeps online markers in an expiring LRU (so a silent user falls
// out by itself) and lastSeen in a plain bounded LRU.
type MemoryStore struct {
	online *expirable.LRU[uuid.UUID, model.PresenceRecord]
	seen   *lru.Cache[uuid.UUID, time.Time]
	clock  clock.Clock
}

// NewMemoryStore sizes both caches to 'size' users. Online markers are evicted
// 'window' after their last write; ExpiresAt is checked on read as well so
// per-call TTLs shorter than the window are honored.
func NewMemoryStore(size int, window time.Duration, clk clock.Clock) (*MemoryStore, error) {
	if clk == nil {
		clk = clock.New()
	}
	seen, err := lru.New[uuid.UUID, time.Time](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{
		online: expirable.NewLRU[uuid.UUID, model.PresenceRecord](size, nil, window),
		seen:   seen,
		clock:  clk,
	}, nil
}

func (m *MemoryStore) MarkOnline(_ context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error {
	m.online.Add(userID, model.PresenceRecord{
		UserID:    userID,
		Status:    model.StatusOnline,
		LastSeen:  at,
		ExpiresAt: at.Add(ttl),
	})
	m.seen.Add(userID, at)
	return nil
}

func (m *MemoryStore) MarkOffline(_ context.Context, userID uuid.UUID, at time.Time) error {
	m.online.Remove(userID)
	m.seen.Add(userID, at)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, userID uuid.UUID) (model.PresenceRecord, error) {
	if rec, ok := m.online.Get(userID); ok && !rec.Expired(m.clock.Now()) {
		return rec, nil
	}
	if at, ok := m.seen.Get(userID); ok {
		return model.PresenceRecord{UserID: userID, Status: model.StatusOffline, LastSeen: at}, nil
	}
	return model.PresenceRecord{}, presence.ErrNotFound
}
