// Package realtime manages live client connections and the events they exchange.
package realtime

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/smartflow/crm-chat/internal/model"
	"github.com/smartflow/crm-chat/internal/presence"
)

// Session is the server side of one client connection. Frames pushed to it are
// queued until the transport's writer picks them up.
type Session struct {
	id       string
	authUser string
	limiter  *rate.Limiter

	out       chan model.Frame
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.RWMutex
	userID  string
	viewing string
}

var _ presence.Handle = (*Session)(nil)

func newSession(authUser string, buffer int, limiter *rate.Limiter) *Session {
	return &Session{
		id:       uuid.NewString(),
		authUser: authUser,
		limiter:  limiter,
		out:      make(chan model.Frame, buffer),
		done:     make(chan struct{}),
	}
}

// ID returns the server-assigned connection id.
func (s *Session) ID() string { return s.id }

// AuthUser returns the identity proven by the connection's token, if any.
func (s *Session) AuthUser() string { return s.authUser }

// UserID returns the identity the session joined as, or "".
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) setUserID(id string) (previous string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, s.userID = s.userID, id
	return previous
}

// Viewing returns the identity whose conversation the client has open.
func (s *Session) Viewing() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewing
}

func (s *Session) setViewing(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewing = id
}

// Push queues frame without blocking.
func (s *Session) Push(frame model.Frame) error {
	select {
	case <-s.done:
		return presence.ErrClosed
	default:
	}

	select {
	case s.out <- frame:
		return nil
	case <-s.done:
		return presence.ErrClosed
	default:
		return presence.ErrQueueFull
	}
}

// Outbound delivers queued frames to the transport writer.
func (s *Session) Outbound() <-chan model.Frame { return s.out }

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close stops the session. Later pushes fail with presence.ErrClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
