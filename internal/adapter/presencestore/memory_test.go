package presencestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/domain/presence"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	s, err := NewMemoryStore(16, time.Hour, clk)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	u := uuid.New()

	if _, err := s.Get(ctx, u); !errors.Is(err, presence.ErrNotFound) {
		t.Fatalf("unknown user: got %v, want ErrNotFound", err)
	}

	at := clk.Now()
	if err := s.MarkOnline(ctx, u, at, time.Minute); err != nil {
		t.Fatalf("mark online: %v", err)
	}
	rec, err := s.Get(ctx, u)
	if err != nil || rec.Status != model.StatusOnline {
		t.Fatalf("after online: %+v, %v", rec, err)
	}

	off := at.Add(10 * time.Second)
	if err := s.MarkOffline(ctx, u, off); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	rec, err = s.Get(ctx, u)
	if err != nil {
		t.Fatalf("after offline: %v", err)
	}
	if rec.Status != model.StatusOffline || !rec.LastSeen.Equal(off) {
		t.Fatalf("after offline: %+v", rec)
	}
}

func TestMemoryStoreRecordSelfExpires(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	s, err := NewMemoryStore(16, time.Hour, clk)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	u := uuid.New()
	at := clk.Now()

	if err := s.MarkOnline(ctx, u, at, time.Minute); err != nil {
		t.Fatalf("mark online: %v", err)
	}
	clk.Add(61 * time.Second)

	rec, err := s.Get(ctx, u)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != model.StatusOffline {
		t.Fatalf("status = %s, want offline after ttl", rec.Status)
	}
	if !rec.LastSeen.Equal(at) {
		t.Fatalf("lastSeen = %v, want %v", rec.LastSeen, at)
	}
}
