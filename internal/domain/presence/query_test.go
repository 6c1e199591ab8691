package presence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/domain/registry"
)

func newQuery(store Store) (*Query, *registry.Registry, *clock.Mock) {
	reg := registry.New()
	clk := clock.NewMock()
	return NewQuery(reg, store, slog.New(slog.NewTextHandler(io.Discard, nil)), clk), reg, clk
}

func TestIsOnline(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	q, reg, clk := newQuery(store)
	ctx := context.Background()

	local, remote, expired, unknown := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	conn := registry.NewConnector(ctx, local, 1, registry.ConnectMetadata{})
	defer conn.Close()
	reg.Register(local, conn)

	_ = store.MarkOnline(ctx, remote, clk.Now(), time.Minute)
	_ = store.MarkOnline(ctx, expired, clk.Now().Add(-2*time.Minute), time.Minute)

	tests := []struct {
		name string
		user uuid.UUID
		want bool
	}{
		{"local registry", local, true},
		{"shared record", remote, true},
		{"record outlived window", expired, false},
		{"never seen", unknown, false},
	}
	for _, tt := range tests {
		if got := q.IsOnline(ctx, tt.user); got != tt.want {
			t.Fatalf("%s: IsOnline = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGetStatusDegradesWhenStoreUnreachable(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	q, reg, clk := newQuery(store)
	ctx := context.Background()

	remote, local := uuid.New(), uuid.New()
	_ = store.MarkOnline(ctx, remote, clk.Now(), time.Minute)
	conn := registry.NewConnector(ctx, local, 1, registry.ConnectMetadata{})
	defer conn.Close()
	reg.Register(local, conn)

	store.fail = errors.Join(ErrUnavailable, errors.New("dial tcp: refused"))

	if got := q.GetStatus(ctx, remote); got.Status != model.StatusOffline {
		t.Fatalf("unreachable store: status = %q, want offline", got.Status)
	}
	if got := q.GetStatus(ctx, local); got.Status != model.StatusOnline {
		t.Fatalf("locally connected: status = %q, want online", got.Status)
	}
	if q.IsOnline(ctx, remote) {
		t.Fatal("IsOnline must assume offline when the store is unreachable")
	}
}

func TestGetStatusReportsLastSeen(t *testing.T) {
	t.Parallel()
	store := newFakeStore()
	q, _, clk := newQuery(store)
	ctx := context.Background()

	u := uuid.New()
	seen := clk.Now()
	_ = store.MarkOffline(ctx, u, seen)

	got := q.GetStatus(ctx, u)
	if got.Status != model.StatusOffline || !got.LastSeen.Equal(seen) {
		t.Fatalf("GetStatus = %+v, want offline at %v", got, seen)
	}

	multi := q.Statuses(ctx, []uuid.UUID{u, uuid.New()})
	if len(multi) != 2 {
		t.Fatalf("Statuses returned %d entries", len(multi))
	}
}
