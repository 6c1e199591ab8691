package presencestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/domain/presence"
)

type flakyStore struct {
	err   error
	calls atomic.Int32
}

func (f *flakyStore) MarkOnline(context.Context, uuid.UUID, time.Time, time.Duration) error {
	f.calls.Add(1)
	return f.err
}

func (f *flakyStore) MarkOffline(context.Context, uuid.UUID, time.Time) error {
	f.calls.Add(1)
	return f.err
}

func (f *flakyStore) Get(context.Context, uuid.UUID) (model.PresenceRecord, error) {
	f.calls.Add(1)
	return model.PresenceRecord{}, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGuardedStoreOpensAfterFailures(t *testing.T) {
	t.Parallel()

	next := &flakyStore{err: errors.New("connection refused")}
	g := NewGuardedStore(next, BreakerConfig{Failures: 3, OpenTimeout: time.Minute}, discardLogger())
	ctx := context.Background()
	if err := g.Healthy(); err != nil {
		t.Fatalf("closed circuit reported unhealthy: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := g.MarkOnline(ctx, uuid.New(), time.Now(), time.Minute); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	if g.State() != gobreaker.StateOpen {
		t.Fatalf("state = %s, want open", g.State())
	}
	if err := g.Healthy(); !errors.Is(err, presence.ErrUnavailable) {
		t.Fatalf("open circuit health = %v, want ErrUnavailable", err)
	}

	_, err := g.Get(ctx, uuid.New())
	if !errors.Is(err, presence.ErrUnavailable) {
		t.Fatalf("open circuit: got %v, want ErrUnavailable", err)
	}
	if got := next.calls.Load(); got != 3 {
		t.Fatalf("backing store calls = %d, want 3", got)
	}
}

func TestGuardedStoreNotFoundIsNotAFailure(t *testing.T) {
	t.Parallel()

	next := &flakyStore{err: presence.ErrNotFound}
	g := NewGuardedStore(next, BreakerConfig{Failures: 2, OpenTimeout: time.Minute}, discardLogger())

	for i := 0; i < 5; i++ {
		if _, err := g.Get(context.Background(), uuid.New()); !errors.Is(err, presence.ErrNotFound) {
			t.Fatalf("call %d: got %v, want ErrNotFound", i, err)
		}
	}
	if g.State() != gobreaker.StateClosed {
		t.Fatalf("state = %s, want closed", g.State())
	}
}
