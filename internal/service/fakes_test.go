package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/adapter/pubsub"
	"github.com/webitel/im-presence-service/internal/domain/event"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/domain/registry"
)

// trace records the order of side effects across fakes.
type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(s string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.steps = append(t.steps, s)
	t.mu.Unlock()
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

type fakeEventStore struct {
	trace   *trace
	fail    error
	mu      sync.Mutex
	saved   []*model.Message
	pending [][]uuid.UUID
	deleted map[uuid.UUID]string
}

func (s *fakeEventStore) Persist(_ context.Context, msg *model.Message, recipients []uuid.UUID) (uuid.UUID, error) {
	s.trace.add("persist")
	if s.fail != nil {
		return uuid.Nil, s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, msg)
	s.pending = append(s.pending, append([]uuid.UUID(nil), recipients...))
	return uuid.New(), nil
}

func (s *fakeEventStore) pendingSets() [][]uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]uuid.UUID(nil), s.pending...)
}

func (s *fakeEventStore) PersistDeletion(_ context.Context, id uuid.UUID, replacement string) error {
	s.trace.add("persist_deletion")
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted == nil {
		s.deleted = make(map[uuid.UUID]string)
	}
	s.deleted[id] = replacement
	return nil
}

func (s *fakeEventStore) FindUndelivered(context.Context, uuid.UUID, int) ([]*model.Message, error) {
	return nil, nil
}

func (s *fakeEventStore) Acknowledge(context.Context, uuid.UUID, []uuid.UUID) error { return nil }

type fakeMembership struct {
	members map[uuid.UUID][]uuid.UUID
	owners  map[uuid.UUID]uuid.UUID
	calls   int
	mu      sync.Mutex

	// joiner is added to the group right after each lookup
	joiner uuid.UUID
}

func (m *fakeMembership) MembersOf(_ context.Context, group uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	ids, ok := m.members[group]
	if !ok {
		return nil, errors.New("group not found")
	}
	out := append([]uuid.UUID(nil), ids...)
	if m.joiner != uuid.Nil {
		m.members[group] = append(ids, m.joiner)
	}
	return out, nil
}

func (m *fakeMembership) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *fakeMembership) OwnerOf(_ context.Context, group uuid.UUID) (uuid.UUID, error) {
	return m.owners[group], nil
}

type fakeBus struct {
	trace     *trace
	mu        sync.Mutex
	published []*event.Envelope
}

var _ pubsub.Bus = (*fakeBus)(nil)

func (b *fakeBus) Publish(_ context.Context, _ string, ev *event.Envelope) {
	b.trace.add("publish")
	b.mu.Lock()
	b.published = append(b.published, ev)
	b.mu.Unlock()
}

func (b *fakeBus) Subscribe(string, pubsub.Handler) error { return nil }
func (b *fakeBus) Close() error                           { return nil }

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

type fakeSink struct {
	mu    sync.Mutex
	sent  []Notification
	err   error
	trace *trace
}

func (s *fakeSink) Send(_ context.Context, n Notification) (bool, error) {
	s.trace.add("push")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	if s.err != nil {
		return false, s.err
	}
	return true, nil
}

func (s *fakeSink) notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.sent...)
}

// onlineSet reports online for registry-local users and an explicit remote set.
type onlineSet struct {
	reg    *registry.Registry
	remote map[uuid.UUID]bool
}

func (o onlineSet) IsOnline(_ context.Context, id uuid.UUID) bool {
	return o.reg.IsConnected(id) || o.remote[id]
}

type harness struct {
	reg      *registry.Registry
	store    *fakeEventStore
	members  *fakeMembership
	bus      *fakeBus
	sink     *fakeSink
	online   onlineSet
	gone     []uuid.UUID
	goneMu   sync.Mutex
	pipeline *Pipeline
	typing   *Typing
	trace    *trace
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	tr := &trace{}
	h := &harness{
		reg:     registry.New(registry.WithSendTimeout(10 * time.Millisecond)),
		store:   &fakeEventStore{trace: tr},
		members: &fakeMembership{members: map[uuid.UUID][]uuid.UUID{}, owners: map[uuid.UUID]uuid.UUID{}},
		bus:     &fakeBus{trace: tr},
		sink:    &fakeSink{trace: tr},
		trace:   tr,
	}
	h.online = onlineSet{reg: h.reg, remote: map[uuid.UUID]bool{}}
	t.Cleanup(h.reg.Shutdown)

	logger := discardLogger()
	emitter := NewEmitter(h.reg, h.bus, "fanout", "node-test", logger)
	resolver := NewRecipientResolver(h.members)
	gone := GoneHandlerFunc(func(_ context.Context, id uuid.UUID) {
		h.goneMu.Lock()
		h.gone = append(h.gone, id)
		h.goneMu.Unlock()
	})
	h.pipeline = NewPipeline(h.store, resolver, emitter, h.online, h.sink, gone, logger)
	h.typing = NewTyping(resolver, emitter, logger)
	return h
}

// connect registers a live handle for userID and returns it.
func (h *harness) connect(t *testing.T, userID uuid.UUID) registry.Connector {
	t.Helper()
	conn := h.reg.NewConnector(context.Background(), userID, registry.ConnectMetadata{})
	h.reg.Register(userID, conn)
	return conn
}

func recv(t *testing.T, conn registry.Connector) *event.Envelope {
	t.Helper()
	select {
	case ev := <-conn.Recv():
		return ev
	case <-time.After(time.Second):
		t.Fatal("nothing delivered to connection")
		return nil
	}
}

func assertSilent(t *testing.T, conn registry.Connector) {
	t.Helper()
	select {
	case ev := <-conn.Recv():
		t.Fatalf("unexpected delivery: %s", ev.Kind)
	default:
	}
}
