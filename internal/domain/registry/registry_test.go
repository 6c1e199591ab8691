package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/event"
)

func newConn(t *testing.T, userID uuid.UUID) Connector {
	t.Helper()
	c := NewConnector(context.Background(), userID, 4, ConnectMetadata{})
	t.Cleanup(c.Close)
	return c
}

func TestRegisterAllocatesFreshEpochs(t *testing.T) {
	t.Parallel()
	r := New()
	u := uuid.New()

	e1, prev := r.Register(u, newConn(t, u))
	if prev != nil {
		t.Fatal("first registration must not report a previous handle")
	}
	second := newConn(t, u)
	e2, prev := r.Register(u, second)
	if e2 <= e1 {
		t.Fatalf("epoch not monotonic: %d then %d", e1, e2)
	}
	if prev == nil {
		t.Fatal("overwrite must return the superseded handle")
	}
	got, ok := r.Lookup(u)
	if !ok || got.Handle != second || got.Epoch != e2 {
		t.Fatalf("last connect must win, got %+v", got)
	}
}

func TestUnregisterIgnoresStaleEpoch(t *testing.T) {
	t.Parallel()
	r := New()
	u := uuid.New()

	old, _ := r.Register(u, newConn(t, u))
	cur, _ := r.Register(u, newConn(t, u))

	if h := r.Unregister(u, old); h != nil {
		t.Fatal("stale epoch must not remove the newer connection")
	}
	if r.Epoch(u) != cur {
		t.Fatalf("epoch = %d, want %d", r.Epoch(u), cur)
	}
	if h := r.Unregister(u, cur); h == nil {
		t.Fatal("current epoch must remove the entry")
	}
	if r.IsConnected(u) {
		t.Fatal("entry still present after unregister")
	}
	if r.Unregister(u, cur) != nil {
		t.Fatal("second unregister must be a no-op")
	}
}

func TestEpochsUniqueUnderConcurrency(t *testing.T) {
	t.Parallel()
	r := New()
	const n = 64
	seen := make(chan uint64, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u := uuid.New()
			c := NewConnector(context.Background(), u, 1, ConnectMetadata{})
			defer c.Close()
			e, _ := r.Register(u, c)
			seen <- e
		}()
	}
	wg.Wait()
	close(seen)

	uniq := make(map[uint64]struct{})
	for e := range seen {
		uniq[e] = struct{}{}
	}
	if len(uniq) != n {
		t.Fatalf("got %d unique epochs, want %d", len(uniq), n)
	}
}

func TestDeliverOnlyToLocalHandles(t *testing.T) {
	t.Parallel()
	r := New(WithSendTimeout(10 * time.Millisecond))
	u := uuid.New()
	c := newConn(t, u)
	r.Register(u, c)

	ev := event.New(uuid.New(), []uuid.UUID{u}, &event.TypingPayload{IsTyping: true})
	if !r.Deliver(u, ev) {
		t.Fatal("deliver to a registered user failed")
	}
	if r.Deliver(uuid.New(), ev) {
		t.Fatal("deliver to an unknown user must report a miss")
	}
	if got := <-c.Recv(); got != ev {
		t.Fatal("handle received a different envelope")
	}
}

func TestShutdownClosesHandles(t *testing.T) {
	t.Parallel()
	r := New()
	u := uuid.New()
	c := NewConnector(context.Background(), u, 1, ConnectMetadata{})
	r.Register(u, c)

	r.Shutdown()

	if r.Len() != 0 {
		t.Fatal("registry not emptied")
	}
	if _, ok := <-c.Recv(); ok {
		t.Fatal("handle channel must be closed")
	}
}

func TestEachStopsEarly(t *testing.T) {
	t.Parallel()
	r := New()
	for range 5 {
		u := uuid.New()
		r.Register(u, newConn(t, u))
	}

	seen := 0
	r.Each(func(Connection) bool {
		seen++
		return seen < 3
	})
	if seen != 3 {
		t.Fatalf("visited %d entries, want 3", seen)
	}
}
