// agentstate/store.go
package agentstate

import (
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Listener is called after every store mutation.
type Listener func()

type subscription struct {
	fn Listener
}

// Store holds the connection state of every tracked agent, keyed by agent id.
// It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	states    map[string]ConnectionState
	listeners []*subscription
	logger    *slog.Logger
}

type StoreOption func(*Store)

// WithLogger makes the store log every mutation at debug level.
func WithLogger(log *slog.Logger) StoreOption {
	return func(s *Store) {
		if log != nil {
			s.logger = log
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		states: make(map[string]ConnectionState),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetState returns the state for id, or InitialState if id is unknown.
func (s *Store) GetState(id string) ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.states[id]; ok {
		return st
	}
	return InitialState()
}

// SetState applies changes to the state for id, creating it from
// InitialState if needed, then notifies all listeners.
func (s *Store) SetState(id string, changes ...Change) {
	s.mu.Lock()
	st, ok := s.states[id]
	if !ok {
		st = InitialState()
	}
	for _, change := range changes {
		if change != nil {
			change(&st)
		}
	}
	s.states[id] = st
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("Connection state updated",
		"agent_id", id,
		"connected", st.IsConnected,
		"connecting", st.IsConnecting,
		"reconnect_attempts", st.ReconnectAttempts,
		"ui_state", DeriveUIState(st))
	notify(listeners)
}

// ClearState forgets id and notifies all listeners.
func (s *Store) ClearState(id string) {
	s.mu.Lock()
	delete(s.states, id)
	listeners := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("Connection state cleared", "agent_id", id)
	notify(listeners)
}

// Subscribe registers fn and returns a func that removes it again.
// Calling the returned func more than once is a no-op.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	sub := &subscription{fn: fn}

	s.mu.Lock()
	s.listeners = append(s.listeners, sub)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l == sub {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// AgentIDs returns the ids currently tracked, sorted.
func (s *Store) AgentIDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of every tracked state.
func (s *Store) Snapshot() map[string]ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ConnectionState, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out
}

func (s *Store) snapshotLocked() []*subscription {
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]*subscription, len(s.listeners))
	copy(out, s.listeners)
	return out
}

func notify(listeners []*subscription) {
	for _, l := range listeners {
		if l.fn != nil {
			l.fn()
		}
	}
}
