// Package registry is the per-process Connection Registry: it maps a user to the
// single live connection handle this process holds for them.
package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-presence-service/internal/domain/event"
)

// Connection is the registry entry for one admitted handle.
type Connection struct {
	UserID        uuid.UUID
	Handle        Connector
	EstablishedAt time.Time
	Epoch         uint64
}

// Registry implements last-connect-wins admission with epoch-guarded removal.
// It is an owned object, never a package global, so parallel instances do not share state.
type Registry struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]Connection

	// [EPOCH_SOURCE] monotonically increasing across the lifetime of the process
	epoch atomic.Uint64

	config registryConfig
}

type registryConfig struct {
	sendBuffer  int
	sendTimeout time.Duration
}

func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[uuid.UUID]Connection),
		config: registryConfig{
			sendBuffer:  256,
			sendTimeout: 500 * time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register admits conn for userID under a fresh epoch. A previous registration is
// overwritten and returned so the caller can close it outside any lock.
func (r *Registry) Register(userID uuid.UUID, conn Connector) (uint64, Connector) {
	epoch := r.epoch.Add(1)

	r.mu.Lock()
	defer r.mu.Unlock()

	var prev Connector
	if old, ok := r.entries[userID]; ok {
		prev = old.Handle
	}
	r.entries[userID] = Connection{
		UserID:        userID,
		Handle:        conn,
		EstablishedAt: time.Now(),
		Epoch:         epoch,
	}
	return epoch, prev
}

// Unregister removes the entry only if epoch is still current; a disconnect
// handler for an old connection can never clobber a newer one.
func (r *Registry) Unregister(userID uuid.UUID, epoch uint64) Connector {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[userID]
	if !ok || cur.Epoch != epoch {
		return nil
	}
	delete(r.entries, userID)
	return cur.Handle
}

func (r *Registry) Lookup(userID uuid.UUID) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[userID]
	return c, ok
}

// Epoch returns the current epoch for userID, or 0 when not registered.
func (r *Registry) Epoch(userID uuid.UUID) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[userID].Epoch
}

func (r *Registry) IsConnected(userID uuid.UUID) bool {
	_, ok := r.Lookup(userID)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot copies the current entries so callers can iterate without holding the lock.
func (r *Registry) Snapshot() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(r.entries))
	for _, c := range r.entries {
		out = append(out, c)
	}
	return out
}

// Each calls fn for every entry of a snapshot until fn returns false.
func (r *Registry) Each(fn func(Connection) bool) {
	for _, c := range r.Snapshot() {
		if !fn(c) {
			return
		}
	}
}

// Deliver pushes ev to the local handle of userID. Returns false on miss or overflow.
func (r *Registry) Deliver(userID uuid.UUID, ev *event.Envelope) bool {
	c, ok := r.Lookup(userID)
	if !ok {
		return false
	}
	return c.Handle.Send(ev, r.config.sendTimeout)
}

// NewConnector builds a handle sized by the registry configuration.
func (r *Registry) NewConnector(ctx context.Context, userID uuid.UUID, meta ConnectMetadata) Connector {
	return NewConnector(ctx, userID, r.config.sendBuffer, meta)
}

// Shutdown closes every handle; transports observe the closed channel and exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[uuid.UUID]Connection)
	r.mu.Unlock()

	for _, c := range entries {
		c.Handle.Close()
	}
}
