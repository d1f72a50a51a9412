// Package status renders connection state changes as log lines.
package status

import (
	"log/slog"
	"sync"

	"github.com/lisuiheng/agentconn/agentstate"
	"github.com/lisuiheng/agentconn/logger"
)

// Change is one observed UI state transition.
type Change struct {
	AgentID string
	From    agentstate.UIState
	To      agentstate.UIState
	Removed bool
}

// Watcher subscribes to a store and reports every UI state transition.
type Watcher struct {
	store    *agentstate.Store
	logger   *slog.Logger
	onChange func(Change)

	// emitMu spans compute and emit so each id's changes go out in order.
	emitMu sync.Mutex

	mu    sync.Mutex
	last  map[string]agentstate.UIState
	unsub func()
}

type Option func(*Watcher)

// OnChange registers fn to be called for every transition, after it is logged.
// fn must not modify the store.
func OnChange(fn func(Change)) Option {
	return func(w *Watcher) { w.onChange = fn }
}

// NewWatcher starts watching store immediately.
func NewWatcher(store *agentstate.Store, log *slog.Logger, opts ...Option) *Watcher {
	if log == nil {
		log = logger.Discard()
	}
	w := &Watcher{
		store:  store,
		logger: log,
		last:   make(map[string]agentstate.UIState),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.unsub = store.Subscribe(w.refresh)
	w.refresh()
	return w
}

// Current returns the last UI state seen for every tracked id.
func (w *Watcher) Current() map[string]agentstate.UIState {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[string]agentstate.UIState, len(w.last))
	for id, s := range w.last {
		out[id] = s
	}
	return out
}

// Stop unsubscribes from the store. Safe to call more than once.
func (w *Watcher) Stop() {
	w.unsub()
}

func (w *Watcher) refresh() {
	w.emitMu.Lock()
	defer w.emitMu.Unlock()

	w.mu.Lock()
	var changes []Change
	seen := make(map[string]bool)
	for _, id := range w.store.AgentIDs() {
		seen[id] = true
		now := agentstate.DeriveUIState(w.store.GetState(id))
		prev, ok := w.last[id]
		if ok && prev == now {
			continue
		}
		if !ok {
			prev = agentstate.UIStateDisconnected
		}
		w.last[id] = now
		changes = append(changes, Change{AgentID: id, From: prev, To: now})
	}
	for id, prev := range w.last {
		if !seen[id] {
			delete(w.last, id)
			changes = append(changes, Change{AgentID: id, From: prev, To: agentstate.UIStateDisconnected, Removed: true})
		}
	}
	w.mu.Unlock()

	for _, c := range changes {
		if c.Removed {
			w.logger.Info("Connection removed", "agent_id", c.AgentID, "last_state", c.From)
		} else {
			w.logger.Info("Connection status",
				"agent_id", c.AgentID,
				"state", c.To,
				"label", c.To.Label(),
				"from", c.From)
		}
		if w.onChange != nil {
			w.onChange(c)
		}
	}
}
