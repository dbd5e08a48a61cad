// Package presence tracks which identities currently have a live connection.
package presence

import (
	"errors"
	"sync"

	"github.com/smartflow/crm-chat/internal/model"
	"github.com/smartflow/crm-chat/pkg/metrics"
)

// ErrQueueFull is returned by Push when a connection cannot accept more frames.
var ErrQueueFull = errors.New("connection queue full")

// ErrClosed is returned by Push on a connection that has gone away.
var ErrClosed = errors.New("connection closed")

// Handle is a live connection that frames can be pushed to.
type Handle interface {
	// ID returns the server-assigned connection id.
	ID() string

	// Push queues a frame for the connection without blocking.
	Push(frame model.Frame) error

	// Viewing returns the identity whose conversation the client reports it
	// has open, or "" when it reports none.
	Viewing() string
}

// Registry maps an identity to its single live connection. A newer
// registration for the same identity replaces the older one.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// Register stores handle under identity and returns the handle it replaced, if any.
func (r *Registry) Register(identity string, handle Handle) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, existed := r.handles[identity]
	r.handles[identity] = handle
	if !existed {
		metrics.PresenceEntries.Inc()
		return nil
	}
	if previous != handle {
		metrics.PresenceDisplaced.Inc()
	}
	return previous
}

// Lookup returns the live connection for identity.
func (r *Registry) Lookup(identity string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[identity]
	return h, ok
}

// Remove deletes the entry for identity. Removing an absent identity is a no-op.
func (r *Registry) Remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handles[identity]; ok {
		delete(r.handles, identity)
		metrics.PresenceEntries.Dec()
	}
}

// RemoveIf deletes the entry for identity only while it still points at handle.
// A connection that was displaced by a newer join cannot unregister its successor.
func (r *Registry) RemoveIf(identity string, handle Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.handles[identity]
	if !ok || current != handle {
		return false
	}
	delete(r.handles, identity)
	metrics.PresenceEntries.Dec()
	return true
}

// Len returns the number of registered identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
