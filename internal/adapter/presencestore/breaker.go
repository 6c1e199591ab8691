package presencestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/domain/presence"
)

var _ presence.Store = (*GuardedStore)(nil)

type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the circuit.
	Failures uint32
	// OpenTimeout is how long the circuit stays open before a trial request is let through.
	OpenTimeout time.Duration
}

// GuardedStore fails fast with presence.ErrUnavailable while the backing store
// is known to be down, so heartbeat and query paths never queue up behind it.
type GuardedStore struct {
	next presence.Store
	cb   *gobreaker.CircuitBreaker
}

func NewGuardedStore(next presence.Store, cfg BreakerConfig, logger *slog.Logger) *GuardedStore {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}

	return &GuardedStore{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "presence-store",
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= cfg.Failures
			},
			IsSuccessful: func(err error) bool {
				// a missing record is an answer, not an outage
				return err == nil || errors.Is(err, presence.ErrNotFound)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("PRESENCE_STORE_CIRCUIT",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		}),
	}
}

func (g *GuardedStore) State() gobreaker.State {
	return g.cb.State()
}

// Healthy fails while the breaker is open; /healthz reports it.
func (g *GuardedStore) Healthy() error {
	if st := g.State(); st == gobreaker.StateOpen {
		return fmt.Errorf("%w: circuit %s", presence.ErrUnavailable, st)
	}
	return nil
}

func (g *GuardedStore) MarkOnline(ctx context.Context, userID uuid.UUID, at time.Time, ttl time.Duration) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, g.next.MarkOnline(ctx, userID, at, ttl)
	})
	return guardErr(err)
}

func (g *GuardedStore) MarkOffline(ctx context.Context, userID uuid.UUID, at time.Time) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, g.next.MarkOffline(ctx, userID, at)
	})
	return guardErr(err)
}

func (g *GuardedStore) Get(ctx context.Context, userID uuid.UUID) (model.PresenceRecord, error) {
	v, err := g.cb.Execute(func() (any, error) {
		return g.next.Get(ctx, userID)
	})
	if err != nil {
		return model.PresenceRecord{}, guardErr(err)
	}
	return v.(model.PresenceRecord), nil
}

func guardErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", presence.ErrUnavailable, err)
	}
	return err
}
