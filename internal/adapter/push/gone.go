package push

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/webitel/im-presence-service/internal/service"
)

const (
	DefaultGoneTTL  = 24 * time.Hour
	defaultGoneSize = 100_000
)

var _ service.GoneHandler = (*GoneTracker)(nil)

// GoneTracker remembers targets the push provider rejected permanently, so
// sends to them are short-circuited until the entry ages out.
type GoneTracker struct {
	gone   *expirable.LRU[uuid.UUID, time.Time]
	logger *slog.Logger
}

func NewGoneTracker(ttl time.Duration, logger *slog.Logger) *GoneTracker {
	if ttl <= 0 {
		ttl = DefaultGoneTTL
	}
	return &GoneTracker{
		gone:   expirable.NewLRU[uuid.UUID, time.Time](defaultGoneSize, nil, ttl),
		logger: logger,
	}
}

func (t *GoneTracker) TargetGone(_ context.Context, userID uuid.UUID) {
	if _, known := t.gone.Peek(userID); !known {
		t.logger.Info("PUSH_TARGET_GONE", "user_id", userID)
	}
	t.gone.Add(userID, time.Now())
}

func (t *GoneTracker) IsGone(userID uuid.UUID) bool {
	_, ok := t.gone.Get(userID)
	return ok
}
