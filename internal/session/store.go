package session

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"patientsim/internal/logging"
)

// ErrSessionNotFound is returned for an unknown or evicted session ID.
var ErrSessionNotFound = errors.New("session not found")

// DefaultTTL is how long an idle session survives.
const DefaultTTL = time.Hour

// entry guards one session. Its mutex gives at most one in-flight turn
// per session; the store lock only protects the map.
type entry struct {
	mu       sync.Mutex
	state    *State
	lastUsed time.Time
}

// Store holds live sessions, serializes work per session and evicts
// sessions idle for longer than the TTL.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	ttl      time.Duration
	factory  func(id string) *State
	now      func() time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewStore creates a store. factory builds the state for a new session ID.
func NewStore(ttl time.Duration, factory func(id string) *State) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		factory:  factory,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetFactory swaps the constructor used for new sessions.
func (s *Store) SetFactory(factory func(id string) *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factory = factory
}

// Create starts a session with a fresh UUID.
func (s *Store) Create() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &entry{state: s.factory(id), lastUsed: s.now()}
	s.mu.Unlock()
	logging.Session("session %s created", id)
	return id
}

// Ensure returns id when it names a live session, or creates a new
// session when id is empty. Unknown non-empty IDs are an error.
func (s *Store) Ensure(id string) (string, error) {
	if id == "" {
		return s.Create(), nil
	}
	s.mu.RLock()
	_, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return "", ErrSessionNotFound
	}
	return id, nil
}

// With runs fn with exclusive access to the session's state.
func (s *Store) With(id string, fn func(*State) error) error {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// The sweeper may have evicted the entry while we waited for its lock.
	s.mu.RLock()
	current := s.sessions[id]
	s.mu.RUnlock()
	if current != e {
		return ErrSessionNotFound
	}

	e.lastUsed = s.now()
	return fn(e.state)
}

// Snapshot returns the read-only view of a session.
func (s *Store) Snapshot(id string) (Snapshot, error) {
	var snap Snapshot
	err := s.With(id, func(st *State) error {
		snap = st.Snapshot()
		return nil
	})
	return snap, err
}

// Delete ends and removes a session. Returns false if it was not present.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	e, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	e.state.Terminate()
	e.mu.Unlock()
	logging.Session("session %s deleted", id)
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IDs lists live session IDs in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Sweep evicts sessions idle for longer than the TTL and returns how many
// were removed. A session with a turn in flight is skipped.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.sessions {
		if !e.mu.TryLock() {
			continue
		}
		if e.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			removed++
		}
		e.mu.Unlock()
	}
	if removed > 0 {
		logging.SessionDebug("evicted %d idle session(s)", removed)
	}
	return removed
}

// Start runs Sweep every interval until Stop is called. Only the first
// call starts the janitor.
func (s *Store) Start(interval time.Duration) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	if interval <= 0 {
		interval = s.ttl / 4
	}
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}

// Stop halts the janitor started by Start and waits for it to exit.
// Safe to call more than once, and without Start.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.doneCh
	}
}
