package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/model"
	"github.com/webitel/im-presence-service/internal/domain/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultWindow            = 60 * time.Second
	defaultIOTimeout         = 5 * time.Second
)

// watch is the single heartbeat timer owned by one user. A fresh watch is
// created on every (re)schedule, so a timer that fired while its successor was
// being installed can recognize itself as stale by pointer identity.
type watch struct {
	epoch uint64
	timer *clock.Timer
}

// Supervisor runs the per-user liveness state machine:
// AwaitingHeartbeat -> (heartbeat) AwaitingHeartbeat | (timeout, disconnect) Expired.
//
// [CRITICAL_SECTION]
// Registry mutation and timer scheduling/cancellation for a user happen under mu,
// so a timer can never observe a half-applied connect or disconnect. All store and
// bus I/O runs after mu is released.
type Supervisor struct {
	mu       sync.Mutex
	registry *registry.Registry
	timers   map[uuid.UUID]*watch

	store     Store
	publisher StatusPublisher
	clock     clock.Clock
	logger    *slog.Logger

	window    time.Duration
	ioTimeout time.Duration

	// [STATUS_ORDER] status announcements for one user are serialized, so a
	// reconnect's online can never be overtaken by the offline of the connection
	// it replaced. Striped by user to keep unrelated users independent.
	announce [64]sync.Mutex

	heartbeats  metric.Int64Counter
	expirations metric.Int64Counter
}

type SupervisorOption func(*Supervisor)

// WithClock swaps the time source; tests pass clock.NewMock().
func WithClock(c clock.Clock) SupervisorOption {
	return func(s *Supervisor) { s.clock = c }
}

// WithWindow sets the liveness window W (two missed heartbeats by default).
func WithWindow(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.window = d
		}
	}
}

func WithIOTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d > 0 {
			s.ioTimeout = d
		}
	}
}

func NewSupervisor(reg *registry.Registry, store Store, publisher StatusPublisher, logger *slog.Logger, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		registry:  reg,
		timers:    make(map[uuid.UUID]*watch),
		store:     store,
		publisher: publisher,
		clock:     clock.New(),
		logger:    logger,
		window:    DefaultWindow,
		ioTimeout: defaultIOTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := otel.Meter(model.MeterName)
	s.heartbeats, _ = meter.Int64Counter("presence_heartbeats_total",
		metric.WithDescription("Heartbeats accepted for a current connection"))
	s.expirations, _ = meter.Int64Counter("presence_expirations_total",
		metric.WithDescription("Connections demoted to offline by heartbeat timeout"))

	return s
}

func (s *Supervisor) Window() time.Duration { return s.window }

// Connect admits conn, marks the user online and arms the heartbeat timer.
// The returned epoch identifies this connection in Heartbeat and Disconnect.
func (s *Supervisor) Connect(ctx context.Context, userID uuid.UUID, conn registry.Connector) uint64 {
	s.mu.Lock()
	epoch, prev := s.registry.Register(userID, conn)
	s.scheduleLocked(userID, epoch)
	s.mu.Unlock()

	if prev != nil {
		// [LAST_CONNECT_WINS] the superseded transport sees its channel closed and exits;
		// its own Disconnect carries the old epoch and is therefore a no-op.
		prev.Close()
		s.logger.Info("CONNECTION_SUPERSEDED", "user_id", userID, "epoch", epoch, "prev_conn_id", prev.GetID())
	}

	now := s.clock.Now()
	s.markOnline(ctx, userID, now)
	s.announceStatus(ctx, userID, model.StatusOnline, now)

	s.logger.Debug("PRESENCE_CONNECTED", "user_id", userID, "epoch", epoch, "conn_id", conn.GetID())
	return epoch
}

// Heartbeat renews presence for the connection identified by epoch. It returns
// false when the connection is no longer current (superseded or expired).
func (s *Supervisor) Heartbeat(ctx context.Context, userID uuid.UUID, epoch uint64) bool {
	s.mu.Lock()
	if s.registry.Epoch(userID) != epoch {
		s.mu.Unlock()
		return false
	}
	s.scheduleLocked(userID, epoch)
	s.mu.Unlock()

	s.heartbeats.Add(ctx, 1)
	s.markOnline(ctx, userID, s.clock.Now())
	return true
}

// Disconnect handles a graceful close. The timer is cancelled and the epoch
// invalidated synchronously, before any store or bus I/O starts, so an
// immediate reconnect is never confused with this connection.
func (s *Supervisor) Disconnect(ctx context.Context, userID uuid.UUID, epoch uint64) {
	s.mu.Lock()
	if s.registry.Epoch(userID) != epoch {
		s.mu.Unlock()
		return
	}
	s.cancelLocked(userID)
	conn := s.registry.Unregister(userID, epoch)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.logger.Debug("PRESENCE_DISCONNECTED", "user_id", userID, "epoch", epoch)
	s.goOffline(ctx, userID)
}

// Reassert re-marks a locally connected user online after another process
// announced them offline (its stale timer or disconnect raced our connect).
// It reports whether the user is held here.
func (s *Supervisor) Reassert(ctx context.Context, userID uuid.UUID) bool {
	if !s.registry.IsConnected(userID) {
		return false
	}
	now := s.clock.Now()
	s.markOnline(ctx, userID, now)
	s.announceStatus(ctx, userID, model.StatusOnline, now)
	s.logger.Info("PRESENCE_REASSERTED_REMOTE", "user_id", userID)
	return true
}

// Pending reports how many heartbeat timers are armed.
func (s *Supervisor) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Shutdown stops all timers without touching shared presence; records expire by TTL.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID := range s.timers {
		s.cancelLocked(userID)
	}
}

// scheduleLocked cancels and recreates the user's timer; never two at once.
func (s *Supervisor) scheduleLocked(userID uuid.UUID, epoch uint64) {
	s.cancelLocked(userID)

	w := &watch{epoch: epoch}
	w.timer = s.clock.AfterFunc(s.window, func() { s.expire(userID, w) })
	s.timers[userID] = w
}

func (s *Supervisor) cancelLocked(userID uuid.UUID) {
	if w, ok := s.timers[userID]; ok {
		w.timer.Stop()
		delete(s.timers, userID)
	}
}

// expire is the timer callback. It re-reads both the timer table and the
// registry: a fire for a superseded watch or epoch is a no-op.
func (s *Supervisor) expire(userID uuid.UUID, w *watch) {
	s.mu.Lock()
	if s.timers[userID] != w || s.registry.Epoch(userID) != w.epoch {
		s.mu.Unlock()
		return
	}
	delete(s.timers, userID)
	conn := s.registry.Unregister(userID, w.epoch)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.ioTimeout)
	defer cancel()

	s.expirations.Add(ctx, 1)
	s.logger.Info("HEARTBEAT_TIMEOUT", "user_id", userID, "epoch", w.epoch, "window", s.window)

	if conn != nil {
		conn.Close()
	}
	s.goOffline(ctx, userID)
}

// goOffline writes the offline transition and announces it. If a newer
// connection was admitted while the write was in flight, presence is
// re-asserted instead, so the final state follows the newest connection.
func (s *Supervisor) goOffline(ctx context.Context, userID uuid.UUID) {
	now := s.clock.Now()
	if err := s.store.MarkOffline(ctx, userID, now); err != nil {
		s.logger.Warn("PRESENCE_STORE_WRITE_FAILED", "user_id", userID, "status", model.StatusOffline, "err", err)
	}

	// the connected check and the offline announcement are one step: a
	// reconnect registered after the check announces online after us
	mu := s.announceLock(userID)
	mu.Lock()
	defer mu.Unlock()

	if s.registry.IsConnected(userID) {
		s.markOnline(ctx, userID, s.clock.Now())
		s.logger.Debug("PRESENCE_REASSERTED", "user_id", userID)
		return
	}

	s.publisher.PublishStatus(ctx, userID, model.StatusOffline, now)
}

func (s *Supervisor) announceStatus(ctx context.Context, userID uuid.UUID, status model.Status, at time.Time) {
	mu := s.announceLock(userID)
	mu.Lock()
	defer mu.Unlock()
	s.publisher.PublishStatus(ctx, userID, status, at)
}

func (s *Supervisor) announceLock(userID uuid.UUID) *sync.Mutex {
	return &s.announce[int(userID[15])%len(s.announce)]
}

func (s *Supervisor) markOnline(ctx context.Context, userID uuid.UUID, at time.Time) {
	if err := s.store.MarkOnline(ctx, userID, at, s.window); err != nil {
		// [DEGRADE] local delivery keeps working; other processes see the user offline until the next renewal
		s.logger.Warn("PRESENCE_STORE_WRITE_FAILED", "user_id", userID, "status", model.StatusOnline, "err", err)
	}
}
