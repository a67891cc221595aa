package mapstate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long an untouched session is kept.
const DefaultSessionTTL = 30 * time.Minute

// Store keeps sessions keyed by a random id.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewStore creates a store that evicts sessions idle for longer than ttl.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Store{sessions: make(map[string]*Session), ttl: ttl, now: time.Now}
}

// Open creates a session.
func (st *Store) Open() *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := newSession(uuid.NewString(), st.now())
	st.sessions[s.ID] = s
	return s
}

// Get returns a session and marks it as used.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if ok {
		s.mu.Lock()
		s.lastSeen = st.now()
		s.mu.Unlock()
	}
	return s, ok
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Evict drops sessions idle past the TTL, cancelling their in-flight
// operations, and returns how many were dropped.
func (st *Store) Evict() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	cutoff := st.now().Add(-st.ttl)
	n := 0
	for id, s := range st.sessions {
		s.mu.Lock()
		stale := s.lastSeen.Before(cutoff)
		if stale {
			s.popupOp.supersede()
			s.layerOp.supersede()
		}
		s.mu.Unlock()
		if stale {
			delete(st.sessions, id)
			n++
		}
	}
	return n
}

// Run evicts idle sessions every interval until ctx is done.
func (st *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Evict()
		}
	}
}
