package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// streamMsg stands in for a delivered JetStream message; unused methods panic.
type streamMsg struct {
	jetstream.Msg
	data    []byte
	headers nats.Header

	mu     sync.Mutex
	acks   int
	naks   int
	result chan struct{}
}

func newStreamMsg(data []byte, h nats.Header) *streamMsg {
	return &streamMsg{data: data, headers: h, result: make(chan struct{}, 1)}
}

func (m *streamMsg) Data() []byte         { return m.data }
func (m *streamMsg) Headers() nats.Header { return m.headers }

func (m *streamMsg) Ack() error {
	m.mu.Lock()
	m.acks++
	m.mu.Unlock()
	m.result <- struct{}{}
	return nil
}

func (m *streamMsg) Nak() error {
	m.mu.Lock()
	m.naks++
	m.mu.Unlock()
	m.result <- struct{}{}
	return nil
}

func (m *streamMsg) counts() (acks, naks int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks, m.naks
}

func (m *streamMsg) wait(t *testing.T) {
	t.Helper()
	select {
	case <-m.result:
	case <-time.After(time.Second):
		t.Fatal("message was neither acked nor nacked")
	}
}

func newSubscription(ctx context.Context) *jsSubscription {
	q := &JetStreamQueue{logger: watermill.NopLogger{}, closing: make(chan struct{})}
	return &jsSubscription{queue: q, ctx: ctx, out: make(chan *message.Message)}
}

func TestNATSHeadersRoundTrip(t *testing.T) {
	t.Parallel()

	src := message.NewMessage(watermill.NewUUID(), []byte(`{"a":1}`))
	src.Metadata.Set("user_id", "u-1")
	src.Metadata.Set("content-type", "application/json")

	nm := toNATS("work.im.push", src)
	if nm.Subject != "work.im.push" {
		t.Fatalf("subject = %q", nm.Subject)
	}
	// the server adds its own headers on delivery
	nm.Header.Set(nats.MsgIdHdr, src.UUID)

	got := fromNATS(nm.Data, nm.Header)
	if got.UUID != src.UUID || string(got.Payload) != `{"a":1}` {
		t.Fatalf("message = %s %s", got.UUID, got.Payload)
	}
	if got.Metadata.Get("user_id") != "u-1" || got.Metadata.Get("content-type") != "application/json" {
		t.Fatalf("metadata = %v", got.Metadata)
	}
	if _, ok := got.Metadata[nats.MsgIdHdr]; ok {
		t.Fatal("server header leaked into metadata")
	}
	if _, ok := got.Metadata[uuidHeader]; ok {
		t.Fatal("uuid header leaked into metadata")
	}
}

func TestConsumerName(t *testing.T) {
	t.Parallel()
	if got := consumerName("im_message.send.v1"); got != "im_message_send_v1" {
		t.Fatalf("consumer name = %q", got)
	}
}

func TestJetStreamAckMirrorsRouter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settle   func(*message.Message)
		wantAcks int
		wantNaks int
	}{
		{name: "ack", settle: func(m *message.Message) { m.Ack() }, wantAcks: 1},
		{name: "nack", settle: func(m *message.Message) { m.Nack() }, wantNaks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newSubscription(context.Background())
			raw := newStreamMsg([]byte("x"), nats.Header{uuidHeader: []string{"id-1"}})

			go s.handle(raw)
			msg := <-s.out
			if msg.UUID != "id-1" {
				t.Fatalf("uuid = %q", msg.UUID)
			}
			tt.settle(msg)
			raw.wait(t)

			if acks, naks := raw.counts(); acks != tt.wantAcks || naks != tt.wantNaks {
				t.Fatalf("acks=%d naks=%d, want %d/%d", acks, naks, tt.wantAcks, tt.wantNaks)
			}
		})
	}
}

func TestJetStreamRedeliversOnShutdown(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	s := newSubscription(ctx)

	// nobody reads s.out: the message is parked until the subscription ends
	raw := newStreamMsg([]byte("x"), nats.Header{})
	go s.handle(raw)
	cancel()
	raw.wait(t)

	if acks, naks := raw.counts(); acks != 0 || naks != 1 {
		t.Fatalf("acks=%d naks=%d, want redelivery", acks, naks)
	}

	s.close()
	if _, open := <-s.out; open {
		t.Fatal("output channel left open")
	}

	late := newStreamMsg([]byte("y"), nats.Header{})
	s.handle(late)
	if acks, naks := late.counts(); acks != 0 || naks != 1 {
		t.Fatalf("message after close: acks=%d naks=%d", acks, naks)
	}
}
