package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/service"
)

type fakeDeliverer struct {
	err     error
	sent    []*model.Message
	deleted []string
}

func (f *fakeDeliverer) Send(_ context.Context, msg *model.Message) (*service.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msg)
	return &service.Report{MessageID: msg.ID}, nil
}

func (f *fakeDeliverer) Delete(_ context.Context, msg *model.Message, replacement string) (*service.Report, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = append(f.deleted, replacement)
	return &service.Report{MessageID: msg.ID}, nil
}

type goneRecorder struct{ users []uuid.UUID }

func (g *goneRecorder) TargetGone(_ context.Context, userID uuid.UUID) {
	g.users = append(g.users, userID)
}

func newHandler(d service.Deliverer) *MessageHandler {
	return NewMessageHandler(d, &goneRecorder{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func raw(t *testing.T, v any) *message.Message {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return message.NewMessage(watermill.NewUUID(), b)
}

func TestBindMessageCreated(t *testing.T) {
	t.Parallel()

	from, to := uuid.New(), uuid.New()
	valid := MessageCreatedV1{
		From:       from.String(),
		To:         PeerDTO{ID: to.String(), Type: int(model.PeerUser)},
		Body:       "hi",
		OccurredAt: "2026-01-02T03:04:05Z",
	}

	tests := []struct {
		name     string
		msg      func(t *testing.T) *message.Message
		deliver  error
		wantErr  bool
		wantSent int
	}{
		{name: "valid", msg: func(t *testing.T) *message.Message { return raw(t, valid) }, wantSent: 1},
		{name: "not json", msg: func(*testing.T) *message.Message {
			return message.NewMessage(watermill.NewUUID(), []byte("{"))
		}},
		{name: "bad peer", msg: func(t *testing.T) *message.Message {
			bad := valid
			bad.To.ID = "nope"
			return raw(t, bad)
		}},
		{name: "no recipients is terminal", msg: func(t *testing.T) *message.Message { return raw(t, valid) }, deliver: service.ErrNoRecipients},
		{name: "redelivered duplicate is acked", msg: func(t *testing.T) *message.Message { return raw(t, valid) }, deliver: fmt.Errorf("%w: %w", service.ErrPersist, service.ErrAlreadyStored)},
		{name: "persist failure is retried", msg: func(t *testing.T) *message.Message { return raw(t, valid) }, deliver: service.ErrPersist, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := &fakeDeliverer{err: tt.deliver}
			h := newHandler(d)

			err := Bind(h, h.OnMessageCreatedV1)(tt.msg(t))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, tt.deliver) {
				t.Fatalf("err = %v, want wrapped %v", err, tt.deliver)
			}
			if len(d.sent) != tt.wantSent {
				t.Fatalf("sent = %d, want %d", len(d.sent), tt.wantSent)
			}
		})
	}
}

func TestMessageCreatedToDomain(t *testing.T) {
	t.Parallel()

	id, from, group := uuid.New(), uuid.New(), uuid.New()
	msg, err := (&MessageCreatedV1{
		MessageID:  id.String(),
		From:       from.String(),
		To:         PeerDTO{ID: group.String(), Type: int(model.PeerGroup)},
		Body:       "hello",
		OccurredAt: "2026-01-02T03:04:05Z",
	}).ToDomain()
	if err != nil {
		t.Fatalf("to domain: %v", err)
	}
	if msg.ID != id || msg.From != from || !msg.To.IsGroup() || msg.To.ID != group {
		t.Fatalf("message = %+v", msg)
	}
	if msg.CreatedAt != 1767323045000 {
		t.Fatalf("created_at = %d", msg.CreatedAt)
	}

	if _, err := (&MessageCreatedV1{From: from.String(), To: PeerDTO{ID: group.String(), Type: 7}}).ToDomain(); err == nil {
		t.Fatal("unknown peer type must be rejected")
	}
}

func TestBindMessageDeleted(t *testing.T) {
	t.Parallel()
	d := &fakeDeliverer{}
	h := newHandler(d)

	err := Bind(h, h.OnMessageDeletedV1)(raw(t, MessageDeletedV1{
		MessageID:   uuid.NewString(),
		From:        uuid.NewString(),
		To:          PeerDTO{ID: uuid.NewString(), Type: int(model.PeerUser)},
		Replacement: "deleted",
	}))
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if len(d.deleted) != 1 || d.deleted[0] != "deleted" {
		t.Fatalf("deleted = %v", d.deleted)
	}
}

func TestBindPushTargetGone(t *testing.T) {
	t.Parallel()
	gone := &goneRecorder{}
	h := NewMessageHandler(&fakeDeliverer{}, gone, slog.New(slog.NewTextHandler(io.Discard, nil)))
	u := uuid.New()

	if err := Bind(h, h.OnPushTargetGoneV1)(raw(t, PushTargetGoneV1{UserID: u.String(), Reason: "unregistered"})); err != nil {
		t.Fatalf("bind: %v", err)
	}
	// a corrupt id is acked and dropped
	if err := Bind(h, h.OnPushTargetGoneV1)(raw(t, PushTargetGoneV1{UserID: "nope"})); err != nil {
		t.Fatalf("bind corrupt: %v", err)
	}
	if len(gone.users) != 1 || gone.users[0] != u {
		t.Fatalf("gone = %v", gone.users)
	}
}
