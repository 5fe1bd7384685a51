package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Conn is the transport handle of one session.
type Conn interface {
	// Handle delivers one inbound message and returns the encoded response.
	// A nil response means the message needs none (notifications and
	// client responses).
	Handle(ctx context.Context, msg []byte) ([]byte, error)

	// Outbound yields server-initiated messages for the push stream.
	Outbound() <-chan []byte

	// Done is closed once the Conn has shut down.
	Done() <-chan struct{}

	// Close shuts the Conn down. It is safe to call more than once.
	Close() error
}

// Session is one live client session.
type Session struct {
	// ID is the opaque identifier sent back in the Mcp-Session-Id header.
	ID string

	// Conn is the protocol engine bound to this session.
	Conn Conn

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	mu           sync.RWMutex
	lastActiveAt time.Time

	streaming atomic.Bool
	inflight  atomic.Int32
	now       func() time.Time
}

// Touch records activity on the session.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = s.now()
}

// LastActiveAt returns the time of the last recorded activity.
func (s *Session) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}

// IsIdle reports whether the session has seen no activity for longer than
// timeout.
func (s *Session) IsIdle(timeout time.Duration) bool {
	return s.now().Sub(s.LastActiveAt()) > timeout
}

// ClaimStream marks the push stream as taken. It returns false when another
// stream already holds it.
func (s *Session) ClaimStream() bool {
	return s.streaming.CompareAndSwap(false, true)
}

// ReleaseStream frees the push stream claim.
func (s *Session) ReleaseStream() {
	s.streaming.Store(false)
}

// Streaming reports whether a push stream is attached.
func (s *Session) Streaming() bool {
	return s.streaming.Load()
}

// BeginRequest records activity and marks a request as in progress.
// Every call must be paired with EndRequest.
func (s *Session) BeginRequest() {
	s.inflight.Add(1)
	s.Touch()
}

// EndRequest records activity and clears one in-progress mark.
func (s *Session) EndRequest() {
	s.Touch()
	s.inflight.Add(-1)
}

// Busy reports whether a request is being handled.
func (s *Session) Busy() bool {
	return s.inflight.Load() > 0
}
