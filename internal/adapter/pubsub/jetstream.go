package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// uuidHeader carries the watermill message id; it doubles as the JetStream
// dedup id, so a republished command is stored once.
const uuidHeader = "_watermill_message_uuid"

var (
	_ message.Publisher  = (*JetStreamQueue)(nil)
	_ message.Subscriber = (*JetStreamQueue)(nil)
)

// JetStreamConfig describes the work-queue stream.
type JetStreamConfig struct {
	Stream     string
	Prefix     string
	AckWait    time.Duration
	MaxDeliver int
}

// JetStreamQueue is the work-queue Transport for bus.driver=nats. Every topic
// maps to a subject under Prefix in one WorkQueue stream and to one durable
// consumer shared by all processes, so a command is handled by one node.
type JetStreamQueue struct {
	js     jetstream.JetStream
	cfg    JetStreamConfig
	logger watermill.LoggerAdapter

	closing   chan struct{}
	closeOnce sync.Once
	subs      sync.WaitGroup
}

// NewJetStreamQueue creates (or updates) the stream and returns a Transport on it.
func NewJetStreamQueue(ctx context.Context, nc *nats.Conn, cfg JetStreamConfig, logger watermill.LoggerAdapter) (*Transport, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Prefix + ".>"},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}

	q := &JetStreamQueue{js: js, cfg: cfg, logger: logger, closing: make(chan struct{})}
	return &Transport{Publisher: q, Subscriber: q}, nil
}

func (q *JetStreamQueue) Publish(topic string, msgs ...*message.Message) error {
	for _, m := range msgs {
		nm := toNATS(q.subject(topic), m)
		if _, err := q.js.PublishMsg(m.Context(), nm, jetstream.WithMsgID(m.UUID)); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
	}
	return nil
}

// Subscribe binds the durable consumer of topic. The returned channel closes
// when ctx is done or the queue is closed.
func (q *JetStreamQueue) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	select {
	case <-q.closing:
		return nil, errors.New("jetstream queue closed")
	default:
	}

	cons, err := q.js.CreateOrUpdateConsumer(ctx, q.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       consumerName(topic),
		FilterSubject: q.subject(topic),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.AckWait,
		MaxDeliver:    q.cfg.MaxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("consumer %s: %w", topic, err)
	}

	s := &jsSubscription{queue: q, ctx: ctx, out: make(chan *message.Message)}
	cc, err := cons.Consume(s.handle)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", topic, err)
	}

	q.subs.Add(1)
	go func() {
		defer q.subs.Done()
		select {
		case <-ctx.Done():
		case <-q.closing:
		}
		cc.Stop()
		s.close()
	}()

	q.logger.Info("JetStream consumer bound", watermill.LogFields{"topic": topic, "stream": q.cfg.Stream})
	return s.out, nil
}

// Close stops every subscription and waits until their channels are closed.
func (q *JetStreamQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closing) })
	q.subs.Wait()
	return nil
}

func (q *JetStreamQueue) subject(topic string) string {
	return q.cfg.Prefix + "." + topic
}

type jsSubscription struct {
	queue *JetStreamQueue
	ctx   context.Context
	out   chan *message.Message

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// handle hands one stream message to the router and mirrors its ack or nack
// back to JetStream. The consumer calls it sequentially.
func (s *jsSubscription) handle(m jetstream.Msg) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = m.Nak()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	msg := fromNATS(m.Data(), m.Headers())
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	msg.SetContext(ctx)

	select {
	case s.out <- msg:
	case <-s.ctx.Done():
		_ = m.Nak()
		return
	case <-s.queue.closing:
		_ = m.Nak()
		return
	}

	select {
	case <-msg.Acked():
		if err := m.Ack(); err != nil {
			s.queue.logger.Error("JetStream ack failed", err, watermill.LogFields{"uuid": msg.UUID})
		}
	case <-msg.Nacked():
		_ = m.Nak()
	case <-s.ctx.Done():
		_ = m.Nak()
	case <-s.queue.closing:
		_ = m.Nak()
	}
}

func (s *jsSubscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.inflight.Wait()
	close(s.out)
}

func toNATS(subject string, m *message.Message) *nats.Msg {
	nm := nats.NewMsg(subject)
	nm.Data = m.Payload
	nm.Header.Set(uuidHeader, m.UUID)
	for k, v := range m.Metadata {
		nm.Header.Set(k, v)
	}
	return nm
}

func fromNATS(data []byte, h nats.Header) *message.Message {
	id := h.Get(uuidHeader)
	if id == "" {
		id = watermill.NewUUID()
	}
	msg := message.NewMessage(id, data)
	for k := range h {
		// Nats-* headers belong to the server (dedup id, rollups)
		if k == uuidHeader || strings.HasPrefix(k, "Nats-") {
			continue
		}
		msg.Metadata.Set(k, h.Get(k))
	}
	return msg
}

// consumerName derives a durable name; JetStream forbids dots and wildcards in it.
func consumerName(topic string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(topic)
}
