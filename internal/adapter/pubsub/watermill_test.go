package pubsub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/event"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBus(t *testing.T, subscribe func(b *WatermillBus)) *WatermillBus {
	t.Helper()

	gc := NewGoChannel(watermill.NopLogger{})
	bus, err := NewWatermillBus(gc, gc, watermill.NopLogger{}, discardLogger())
	if err != nil {
		t.Fatalf("new bus: %v", err)
	}
	subscribe(bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
		<-done
	})

	select {
	case <-bus.Running():
	case <-time.After(2 * time.Second):
		t.Fatal("router did not start")
	}
	return bus
}

func typing(origin string) *event.Envelope {
	sender := uuid.New()
	ev := event.New(sender, []uuid.UUID{uuid.New()}, &event.TypingPayload{From: sender, IsTyping: true})
	ev.Origin = origin
	return ev
}

func TestWatermillBusDeliversDecodedEnvelope(t *testing.T) {
	got := make(chan *event.Envelope, 1)
	bus := startBus(t, func(b *WatermillBus) {
		_ = b.Subscribe("fanout", func(_ context.Context, ev *event.Envelope) error {
			got <- ev
			return nil
		})
	})

	sent := typing("node-a")
	bus.Publish(context.Background(), "fanout", sent)

	select {
	case ev := <-got:
		if ev.ID != sent.ID || ev.Origin != "node-a" || ev.Kind != event.Typing {
			t.Fatalf("got %+v", ev)
		}
		p, ok := ev.Payload.(*event.TypingPayload)
		if !ok || !p.IsTyping || p.From != sent.SenderID {
			t.Fatalf("payload = %#v", ev.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("envelope not delivered")
	}
}

func TestWatermillBusAcksHandlerFailures(t *testing.T) {
	var calls atomic.Int32
	second := make(chan struct{})
	bus := startBus(t, func(b *WatermillBus) {
		_ = b.Subscribe("fanout", func(_ context.Context, ev *event.Envelope) error {
			if calls.Add(1) == 1 {
				return errors.New("boom")
			}
			close(second)
			return nil
		})
	})

	bus.Publish(context.Background(), "fanout", typing("node-a"))
	bus.Publish(context.Background(), "fanout", typing("node-a"))

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second envelope not delivered")
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("handler calls = %d, want 2 (failed envelope must not be redelivered)", n)
	}
}

func TestWatermillBusDropsMalformedPayload(t *testing.T) {
	got := make(chan *event.Envelope, 1)
	bus := startBus(t, func(b *WatermillBus) {
		_ = b.Subscribe("fanout", func(_ context.Context, ev *event.Envelope) error {
			got <- ev
			return nil
		})
	})

	if err := bus.publisher.Publish("fanout", message.NewMessage(watermill.NewUUID(), []byte(`{"kind":"mystery"}`))); err != nil {
		t.Fatalf("raw publish: %v", err)
	}
	valid := typing("node-b")
	bus.Publish(context.Background(), "fanout", valid)

	select {
	case ev := <-got:
		if ev.ID != valid.ID {
			t.Fatalf("first delivered envelope = %s, want the valid one", ev.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("valid envelope not delivered after malformed one")
	}
}
