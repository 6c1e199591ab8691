package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/webitel/im-presence-service/internal/domain/event"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/domain/registry"
	wsmarshaller "github.com/webitel/im-presence-service/internal/handler/marshaller/ws"
	"golang.org/x/time/rate"
)

// session owns one socket. Only the writer goroutine writes to ws.
type session struct {
	gw      *Gateway
	ctx     context.Context
	cancel  context.CancelFunc
	ws      *websocket.Conn
	conn    registry.Connector
	userID  uuid.UUID
	epoch   uint64
	limiter *rate.Limiter

	out  chan []byte    // direct replies (heartbeat_ack)
	acks chan uuid.UUID // delivered message ids, closed by the writer

	// ids already sent by backfill; live copies of them are skipped
	backfilled map[uuid.UUID]struct{}
}

func newSession(ctx context.Context, gw *Gateway, ws *websocket.Conn, conn registry.Connector, userID uuid.UUID, epoch uint64) *session {
	sctx, cancel := context.WithCancel(ctx)
	return &session{
		gw:         gw,
		ctx:        sctx,
		cancel:     cancel,
		ws:         ws,
		conn:       conn,
		userID:     userID,
		epoch:      epoch,
		limiter:    gw.newLimiter(),
		out:        make(chan []byte, 16),
		acks:       make(chan uuid.UUID, gw.cfg.AckBatch*2),
		backfilled: make(map[uuid.UUID]struct{}),
	}
}

// run blocks until the socket is closed, the connection is superseded or it expires.
func (s *session) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()
	go func() {
		defer wg.Done()
		s.ackLoop()
	}()

	s.readLoop()
	s.cancel()
	wg.Wait()
}

func (s *session) readLoop() {
	s.ws.SetReadLimit(s.gw.cfg.ReadLimit)
	window := s.gw.supervisor.Window()
	_ = s.ws.SetReadDeadline(time.Now().Add(window))

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && s.ctx.Err() == nil {
				s.gw.logger.Debug("WS_READ_FAILED", "user_id", s.userID, "err", err)
			}
			return
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(window))

		// [INBOUND_RATE_LIMIT] excess frames are dropped, the socket stays open
		if !s.limiter.Allow() {
			s.gw.logger.Warn("WS_FRAME_RATE_LIMITED", "user_id", s.userID)
			continue
		}

		cmd, err := wsmarshaller.DecodeCommand(data)
		if err != nil {
			s.gw.logger.Warn("WS_FRAME_REJECTED", "user_id", s.userID, "err", err)
			continue
		}

		switch c := cmd.(type) {
		case wsmarshaller.Heartbeat:
			alive := s.gw.supervisor.Heartbeat(s.ctx, s.userID, s.epoch)
			s.reply(c.ID, alive)
			if !alive {
				return
			}
		case wsmarshaller.Typing:
			if err := s.gw.typing.Typing(s.ctx, s.userID, c.Peer, c.IsTyping); err != nil {
				s.gw.logger.Debug("WS_TYPING_DROPPED", "user_id", s.userID, "peer_id", c.Peer.ID, "err", err)
			}
		}
	}
}

func (s *session) reply(id string, alive bool) {
	frame, err := wsmarshaller.MarshalHeartbeatAck(id, model.HeartbeatAck{Alive: alive, ServerTime: time.Now().UnixMilli()})
	if err != nil {
		s.gw.logger.Error("WS_MARSHAL_FAILED", "event", wsmarshaller.EventHeartbeatAck, "err", err)
		return
	}
	select {
	case s.out <- frame:
	case <-s.ctx.Done():
	}
}

func (s *session) writeLoop() {
	defer close(s.acks)
	// [UNBLOCK_READER] closing the socket makes the pending ReadMessage fail,
	// cancelling releases a reader parked in reply
	defer s.ws.Close()
	defer s.cancel()

	frame, err := s.gw.connectedFrame(s.conn)
	if err != nil || !s.write(frame) {
		return
	}
	if !s.backfill() {
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.out:
			if !s.write(frame) {
				return
			}
		case ev, ok := <-s.conn.Recv():
			if !ok {
				// superseded or expired
				s.closeWith(websocket.ClosePolicyViolation, "connection replaced or expired")
				return
			}
			if !s.deliver(ev) {
				return
			}
		}
	}
}

func (s *session) deliver(ev *event.Envelope) bool {
	msg, isMessage := ev.Payload.(*event.NewMessagePayload)
	if isMessage && msg.Message != nil {
		if _, dup := s.backfilled[msg.Message.ID]; dup {
			return true
		}
	}

	frame, err := wsmarshaller.MarshalEnvelope(ev)
	if err != nil {
		s.gw.logger.Error("WS_MARSHAL_FAILED", "kind", ev.Kind, "err", err)
		return true
	}
	if !s.write(frame) {
		return false
	}
	if isMessage && msg.Message != nil {
		s.ack(msg.Message.ID)
	}
	return true
}

// backfill replays messages persisted while the user was away, before any live event.
func (s *session) backfill() bool {
	msgs, err := s.gw.store.FindUndelivered(s.ctx, s.userID, s.gw.cfg.BackfillLimit)
	if err != nil {
		// live delivery still works; the backlog is retried on the next connect
		s.gw.logger.Warn("WS_BACKFILL_FAILED", "user_id", s.userID, "err", err)
		return true
	}
	for _, m := range msgs {
		frame, err := wsmarshaller.MarshalMessage(m)
		if err != nil {
			s.gw.logger.Error("WS_MARSHAL_FAILED", "message_id", m.ID, "err", err)
			continue
		}
		if !s.write(frame) {
			return false
		}
		s.backfilled[m.ID] = struct{}{}
		s.ack(m.ID)
	}
	if len(msgs) > 0 {
		s.gw.logger.Debug("WS_BACKFILLED", "user_id", s.userID, "count", len(msgs))
	}
	return true
}

func (s *session) write(frame []byte) bool {
	_ = s.ws.SetWriteDeadline(time.Now().Add(s.gw.cfg.WriteTimeout))
	if err := s.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			s.gw.logger.Debug("WS_WRITE_FAILED", "user_id", s.userID, "err", err)
		}
		return false
	}
	return true
}

func (s *session) closeWith(code int, reason string) {
	deadline := time.Now().Add(s.gw.cfg.WriteTimeout)
	_ = s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}

func (s *session) ack(id uuid.UUID) {
	select {
	case s.acks <- id:
	default:
		// the acker is behind; the message stays pending and is backfilled next time
		s.gw.logger.Debug("WS_ACK_DROPPED", "user_id", s.userID, "message_id", id)
	}
}

// ackLoop batches delivery acknowledgements so a busy socket costs one store
// write per batch instead of one per message.
func (s *session) ackLoop() {
	ticker := time.NewTicker(s.gw.cfg.AckInterval)
	defer ticker.Stop()

	batch := make([]uuid.UUID, 0, s.gw.cfg.AckBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), disconnectTimeout)
		defer cancel()
		if err := s.gw.store.Acknowledge(ctx, s.userID, batch); err != nil {
			s.gw.logger.Warn("WS_ACK_FAILED", "user_id", s.userID, "count", len(batch), "err", err)
		}
		batch = make([]uuid.UUID, 0, s.gw.cfg.AckBatch)
	}

	for {
		select {
		case id, ok := <-s.acks:
			if !ok {
				flush()
				return
			}
			batch = append(batch, id)
			if len(batch) >= s.gw.cfg.AckBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
