package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getmockd/mcpgate/internal/id"
)

// Registry errors.
var (
	ErrNotFound     = errors.New("session not found")
	ErrLimitReached = errors.New("maximum session limit reached")
)

// maxIDAttempts bounds Create's retries on an id collision.
const maxIDAttempts = 5

// Option configures a Registry.
type Option func(*Registry)

// WithMaxSessions caps the number of live sessions. Zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(r *Registry) { r.maxSessions = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator replaces the session id source.
func WithIDGenerator(gen func() (string, error)) Option {
	return func(r *Registry) { r.newID = gen }
}

// Registry holds all live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	maxSessions int
	now         func() time.Time
	newID       func() (string, error)
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
		newID:    id.Session,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create stores a new session bound to conn under a fresh id.
// The session is visible to Lookup as soon as Create returns.
func (r *Registry) Create(conn Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return nil, ErrLimitReached
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		sid, err := r.newID()
		if err != nil {
			return nil, fmt.Errorf("generating session id: %w", err)
		}
		if _, taken := r.sessions[sid]; taken {
			continue
		}

		now := r.now()
		s := &Session{
			ID:           sid,
			Conn:         conn,
			CreatedAt:    now,
			lastActiveAt: now,
			now:          r.now,
		}
		r.sessions[sid] = s
		return s, nil
	}
	return nil, fmt.Errorf("generating session id: %d collisions in a row", maxIDAttempts)
}

// Lookup returns the session stored under sid.
func (r *Registry) Lookup(sid string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sid]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove deletes the session stored under sid and returns it. Removing an
// unknown id returns nil.
func (r *Registry) Remove(sid string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	delete(r.sessions, sid)
	return s
}

// RemoveAll empties the registry and returns what it held.
func (r *Registry) RemoveAll() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for sid, s := range r.sessions {
		out = append(out, s)
		delete(r.sessions, sid)
	}
	return out
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns all live session ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for sid := range r.sessions {
		ids = append(ids, sid)
	}
	return ids
}

// Idle returns sessions with no activity for longer than timeout.
func (r *Registry) Idle(timeout time.Duration) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var idle []*Session
	for _, s := range r.sessions {
		if s.IsIdle(timeout) {
			idle = append(idle, s)
		}
	}
	return idle
}
