package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/event"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE LIVE CONNECTION HANDLE OWNED BY THIS PROCESS
// Transports (WebSocket) drain Recv(); the delivery layer only ever calls Send.
type Connector interface {
	GetID() uuid.UUID
	GetUserID() uuid.UUID
	Send(ev *event.Envelope, timeout time.Duration) bool // Thread-safe send with backpressure handling
	Recv() <-chan *event.Envelope
	Done() <-chan struct{}
	Dropped() uint64
	Close() // Terminate connection and release resources
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	Platform  string
	Version   string
	RemoteIP  string
	UserAgent string
}

type connect struct {
	id        uuid.UUID
	userID    uuid.UUID
	metadata  ConnectMetadata
	createdAt time.Time
	ctx       context.Context
	cancelFn  context.CancelFunc
	sendCh    chan *event.Envelope

	// [CLOSE_GUARD] sendCh is closed while holding mu so no Send can race the close.
	mu     sync.RWMutex
	closed bool

	droppedCount uint64 // [ATOMIC_FIELD]
}

// NewConnector creates a handle whose lifetime is bound to ctx and to Close.
func NewConnector(ctx context.Context, userID uuid.UUID, bufferSize int, meta ConnectMetadata) Connector {
	childCtx, cancel := context.WithCancel(ctx)
	return &connect{
		id:        uuid.New(),
		userID:    userID,
		metadata:  meta,
		createdAt: time.Now(),
		ctx:       childCtx,
		cancelFn:  cancel,
		sendCh:    make(chan *event.Envelope, bufferSize),
	}
}

func (c *connect) GetID() uuid.UUID     { return c.id }
func (c *connect) GetUserID() uuid.UUID { return c.userID }

func (c *connect) Recv() <-chan *event.Envelope { return c.sendCh }
func (c *connect) Done() <-chan struct{}        { return c.ctx.Done() }
func (c *connect) Dropped() uint64              { return atomic.LoadUint64(&c.droppedCount) }

// Send attempts to push an event into the channel.
// If the channel stays full for 'timeout', it tries to evict a lower priority event to make room.
func (c *connect) Send(ev *event.Envelope, timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}

	// [FAST_PATH]
	select {
	case c.sendCh <- ev:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	// 1. [LIFECYCLE_GATE] Immediately abort if the underlying transport is already dead.
	case <-c.ctx.Done():
		return false

	// 2. [PRIMARY_DELIVERY] Wait up to 'timeout' for space, which smooths out transient jitter.
	case c.sendCh <- ev:
		return true

	// 3. [BACKPRESSURE_THRESHOLD] Persistent slow consumer.
	case <-timer.C:
		return c.handleBackpressure(ev)
	}
}

// handleBackpressure manages full buffers by dropping low-priority events.
func (c *connect) handleBackpressure(ev *event.Envelope) bool {
	// Low priority (typing) is shed immediately to keep room for messages.
	if ev.Priority() <= event.PriorityLow {
		atomic.AddUint64(&c.droppedCount, 1)
		return false
	}

	// Evict one queued event if it is less important than the incoming one.
	select {
	case oldEv := <-c.sendCh:
		if oldEv.Priority() < ev.Priority() {
			atomic.AddUint64(&c.droppedCount, 1)
			select {
			case c.sendCh <- ev:
				return true
			default:
				return false
			}
		}
		// The head was at least as important: put it back (best effort).
		select {
		case c.sendCh <- oldEv:
		default:
			atomic.AddUint64(&c.droppedCount, 1)
		}
	default:
	}

	atomic.AddUint64(&c.droppedCount, 1)
	return false
}

// Close terminates the session. It is safe to call from the registry (supersede),
// the supervisor (expiry) and the transport (defer) concurrently.
func (c *connect) Close() {
	c.cancelFn()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	// [UPSTREAM_NOTIFY] Closing the channel signals the transport loop (via !ok) to exit.
	close(c.sendCh)
}
