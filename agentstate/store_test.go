package agentstate

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetStateUnknownID(t *testing.T) {
	s := NewStore()
	assert.Equal(t, InitialState(), s.GetState("never-seen"))
	assert.Empty(t, s.AgentIDs())
}

func TestStore_SetStateMergesFields(t *testing.T) {
	s := NewStore()
	now := time.Unix(1700000000, 0)

	s.SetState("chat", Connecting(true))
	s.SetState("chat", Connected(true), Connecting(false), ConnectedAt(now))

	got := s.GetState("chat")
	assert.True(t, got.IsConnected)
	assert.False(t, got.IsConnecting)
	assert.Equal(t, now, got.ConnectedAt)
	assert.Nil(t, got.Err)
	assert.Zero(t, got.ReconnectAttempts)

	// only the error changes
	errBoom := errors.New("boom")
	s.SetState("chat", WithError(errBoom))
	got = s.GetState("chat")
	assert.True(t, got.IsConnected)
	assert.Equal(t, now, got.ConnectedAt)
	assert.ErrorIs(t, got.Err, errBoom)

	s.SetState("chat", WithError(nil))
	assert.Nil(t, s.GetState("chat").Err)
}

func TestStore_SetStateWithoutChangesCreatesRecord(t *testing.T) {
	s := NewStore()
	s.SetState("idle")

	assert.Equal(t, []string{"idle"}, s.AgentIDs())
	assert.Equal(t, InitialState(), s.GetState("idle"))
}

func TestStore_ReconnectAttempts(t *testing.T) {
	s := NewStore()

	s.SetState("a", IncrementReconnectAttempts())
	s.SetState("a", IncrementReconnectAttempts())
	assert.Equal(t, 2, s.GetState("a").ReconnectAttempts)

	s.SetState("a", ReconnectAttempts(-5))
	assert.Equal(t, 0, s.GetState("a").ReconnectAttempts)
}

func TestStore_ClearState(t *testing.T) {
	s := NewStore()
	s.SetState("a", Connected(true), ReconnectAttempts(3))
	s.SetState("b", Connecting(true))

	s.ClearState("a")
	assert.Equal(t, InitialState(), s.GetState("a"))
	assert.Equal(t, []string{"b"}, s.AgentIDs())

	// clearing an unknown id is harmless
	s.ClearState("missing")
	assert.Equal(t, []string{"b"}, s.AgentIDs())
}

func TestStore_IndependentInstances(t *testing.T) {
	s1 := NewStore()
	s2 := NewStore()

	s1.SetState("a", Connected(true))
	assert.True(t, s1.GetState("a").IsConnected)
	assert.False(t, s2.GetState("a").IsConnected)
}

func TestStore_SubscribeNotifiesOncePerCall(t *testing.T) {
	s := NewStore()
	var first, second int

	unsub1 := s.Subscribe(func() { first++ })
	s.Subscribe(func() { second++ })

	s.SetState("a", Connecting(true))
	s.SetState("b", Connecting(true))
	s.ClearState("a")
	assert.Equal(t, 3, first)
	assert.Equal(t, 3, second)

	unsub1()
	unsub1()
	s.SetState("a", Connected(true))
	assert.Equal(t, 3, first)
	assert.Equal(t, 4, second)
}

func TestStore_ListenerSeesMergedState(t *testing.T) {
	s := NewStore()
	var seen []UIState
	s.Subscribe(func() {
		seen = append(seen, DeriveUIState(s.GetState("a")))
	})

	s.SetState("a", Connecting(true))
	s.SetState("a", Connected(true), Connecting(false))
	s.SetState("a", Connected(false), IncrementReconnectAttempts())
	s.SetState("a", Connecting(true))
	s.ClearState("a")

	assert.Equal(t, []UIState{
		UIStateConnecting,
		UIStateConnected,
		UIStateDisconnected,
		UIStateReconnecting,
		UIStateDisconnected,
	}, seen)
}

func TestStore_UnsubscribeDuringNotification(t *testing.T) {
	s := NewStore()
	var calls int
	var unsub func()
	unsub = s.Subscribe(func() {
		calls++
		unsub()
	})
	var other int
	s.Subscribe(func() { other++ })

	s.SetState("a", Connecting(true))
	s.SetState("a", Connecting(false))

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, other)
}

func TestStore_AgentIDsDoesNotMutate(t *testing.T) {
	s := NewStore()
	s.SetState("b", Connecting(true))
	s.SetState("a", Connected(true))

	ids := s.AgentIDs()
	require.Equal(t, []string{"a", "b"}, ids)
	ids[0] = "mutated"

	assert.Equal(t, []string{"a", "b"}, s.AgentIDs())
	assert.True(t, s.GetState("a").IsConnected)
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	s := NewStore()
	var mu sync.Mutex
	notified := 0
	s.Subscribe(func() {
		mu.Lock()
		notified++
		mu.Unlock()
	})

	const workers, rounds = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			id := fmt.Sprintf("agent:%d", w)
			for i := 0; i < rounds; i++ {
				s.SetState(id, IncrementReconnectAttempts())
				_ = s.GetState(id)
				_ = s.AgentIDs()
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, s.AgentIDs(), workers)
	for _, id := range s.AgentIDs() {
		assert.Equal(t, rounds, s.GetState(id).ReconnectAttempts)
	}
	assert.Equal(t, workers*rounds, notified)
}

func TestStore_Snapshot(t *testing.T) {
	s := NewStore()
	s.SetState("a", Connected(true))

	snap := s.Snapshot()
	require.Contains(t, snap, "a")
	delete(snap, "a")
	assert.Equal(t, []string{"a"}, s.AgentIDs())
}
