// agentstate/types.go
package agentstate

import "time"

// ConnectionState is the raw bookkeeping tracked for one agent connection.
type ConnectionState struct {
	// IsConnected is true only while the transport is live.
	IsConnected bool
	// IsConnecting is true while a connection attempt is in flight.
	IsConnecting bool
	// Err is the last failure observed, cleared on a successful connect.
	Err error
	// ConnectedAt is set on connect and reset to the zero time on disconnect.
	ConnectedAt time.Time
	// ReconnectAttempts counts observed disconnects.
	ReconnectAttempts int
}

// InitialState returns the record used for connections that have not been seen yet.
func InitialState() ConnectionState {
	return ConnectionState{}
}

// UIState is the display state derived from a ConnectionState.
type UIState string

const (
	UIStateDisconnected UIState = "disconnected"
	UIStateConnecting   UIState = "connecting"
	UIStateConnected    UIState = "connected"
	UIStateReconnecting UIState = "reconnecting"
	UIStateError        UIState = "error"
)

// UIStates lists every UIState value.
var UIStates = []UIState{
	UIStateDisconnected,
	UIStateConnecting,
	UIStateConnected,
	UIStateReconnecting,
	UIStateError,
}

func (s UIState) String() string { return string(s) }

// Label returns the human-readable label for s.
func (s UIState) Label() string { return LabelFor(s) }

// Change overrides a single field of a ConnectionState.
type Change func(*ConnectionState)

func Connected(v bool) Change {
	return func(s *ConnectionState) { s.IsConnected = v }
}

func Connecting(v bool) Change {
	return func(s *ConnectionState) { s.IsConnecting = v }
}

// WithError records err; a nil err clears the previous one.
func WithError(err error) Change {
	return func(s *ConnectionState) { s.Err = err }
}

// ConnectedAt sets the connect timestamp; the zero time clears it.
func ConnectedAt(t time.Time) Change {
	return func(s *ConnectionState) { s.ConnectedAt = t }
}

func ReconnectAttempts(n int) Change {
	return func(s *ConnectionState) {
		if n < 0 {
			n = 0
		}
		s.ReconnectAttempts = n
	}
}

// IncrementReconnectAttempts bumps the counter relative to the stored value.
func IncrementReconnectAttempts() Change {
	return func(s *ConnectionState) { s.ReconnectAttempts++ }
}
