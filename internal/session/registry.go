package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 2 * time.Hour

// Registry owns the sessions of a server, keyed by id.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	deps     Deps
	ttl      time.Duration
	logger   *slog.Logger
	onClose  []func(id string)
}

// NewRegistry creates a registry whose sessions share deps.
func NewRegistry(deps Deps, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		sessions: make(map[string]*Session),
		deps:     deps,
		ttl:      ttl,
		logger:   logger,
	}
}

// OnClose registers fn to run with the id of every session the registry
// closes, so state kept beside a session can be dropped with it.
func (r *Registry) OnClose(fn func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClose = append(r.onClose, fn)
}

// closeLocked closes s and runs the close hooks. r.mu must be held.
func (r *Registry) closeLocked(id string, s *Session) {
	s.Close()
	delete(r.sessions, id)
	for _, fn := range r.onClose {
		fn(id)
	}
}

// Get returns the session with id, if any.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// GetOrCreate returns the session with id, creating it when absent. An
// empty id always creates a session with a fresh id.
func (r *Registry) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && id != "" {
		s.touch()
		return s
	}
	s := New(id, r.deps)
	r.sessions[s.ID()] = s
	r.logger.Debug("session created", "session", s.ID())
	return s
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep closes sessions idle since before now minus the TTL. Busy sessions
// are kept. It returns the number of sessions closed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	closed := 0
	for id, s := range r.sessions {
		if s.Busy() || now.Sub(s.LastSeen()) < r.ttl {
			continue
		}
		r.closeLocked(id, s)
		closed++
	}
	if closed > 0 {
		r.logger.Debug("sessions expired", "count", closed)
	}
	return closed
}

// Run sweeps periodically until ctx is done, then closes every session.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(min(r.ttl/4, 10*time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.CloseAll()
			return nil
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// CloseAll closes and forgets every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		r.closeLocked(id, s)
	}
}
