package registry

import "time"

// Option defines a functional configuration type for the Registry.
type Option func(*Registry)

// WithSendBuffer sets the [BACKPRESSURE] threshold: the outbound buffer
// capacity of each connection handle.
func WithSendBuffer(size int) Option {
	return func(r *Registry) {
		if size > 0 {
			r.config.sendBuffer = size
		}
	}
}

// WithSendTimeout bounds how long a delivery may wait on a saturated handle
// before shedding, so one slow consumer cannot stall its senders.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.config.sendTimeout = d
		}
	}
}
