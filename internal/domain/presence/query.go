package presence

import (
	"context"
	"errors"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/domain/registry"
)

// Query answers "is this user reachable". The local registry is authoritative
// for this process; the shared store is authoritative across processes.
//
// [AVAILABILITY_OVER_CONSISTENCY]
// When the store is unreachable the answer degrades to "offline unless locally
// connected": a false offline costs a redundant push, a false online loses one.
type Query struct {
	registry *registry.Registry
	store    Store
	clock    clock.Clock
	logger   *slog.Logger
}

func NewQuery(reg *registry.Registry, store Store, logger *slog.Logger, clk clock.Clock) *Query {
	if clk == nil {
		clk = clock.New()
	}
	return &Query{registry: reg, store: store, clock: clk, logger: logger}
}

// IsOnline is true if the user has a local entry or the shared record is online.
func (q *Query) IsOnline(ctx context.Context, userID uuid.UUID) bool {
	if q.registry.IsConnected(userID) {
		return true
	}
	rec, err := q.store.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			q.logger.Debug("PRESENCE_QUERY_DEGRADED", "user_id", userID, "err", err)
		}
		return false
	}
	return rec.Effective(q.clock.Now()).Status == model.StatusOnline
}

// GetStatus returns {status, lastSeen}.
func (q *Query) GetStatus(ctx context.Context, userID uuid.UUID) model.StatusView {
	if _, ok := q.registry.Lookup(userID); ok {
		return model.StatusView{Status: model.StatusOnline, LastSeen: q.clock.Now()}
	}

	rec, err := q.store.Get(ctx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		return model.StatusView{Status: model.StatusOffline}
	case err != nil:
		q.logger.Warn("PRESENCE_QUERY_DEGRADED", "user_id", userID, "err", err)
		return model.StatusView{Status: model.StatusOffline}
	}

	rec = rec.Effective(q.clock.Now())
	return model.StatusView{Status: rec.Status, LastSeen: rec.LastSeen}
}

// Statuses resolves several users at once, e.g. for a contact list.
func (q *Query) Statuses(ctx context.Context, userIDs []uuid.UUID) map[uuid.UUID]model.StatusView {
	out := make(map[uuid.UUID]model.StatusView, len(userIDs))
	for _, id := range userIDs {
		out[id] = q.GetStatus(ctx, id)
	}
	return out
}
