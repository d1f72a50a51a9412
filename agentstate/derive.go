// agentstate/derive.go
package agentstate

// DeriveUIState computes the display state from raw connection state.
// Rules are checked in order and the first match wins. An error seen while
// still connected is reported as connected.
func DeriveUIState(s ConnectionState) UIState {
	if s.Err != nil && !s.IsConnected {
		return UIStateError
	}
	if s.IsConnected {
		return UIStateConnected
	}
	if s.IsConnecting && s.ReconnectAttempts > 0 {
		return UIStateReconnecting
	}
	if s.IsConnecting {
		return UIStateConnecting
	}
	return UIStateDisconnected
}

// LabelFor returns the human-readable label for a UI state.
func LabelFor(s UIState) string {
	switch s {
	case UIStateConnected:
		return "Connected"
	case UIStateConnecting:
		return "Connecting..."
	case UIStateReconnecting:
		return "Reconnecting..."
	case UIStateError:
		return "Connection Error"
	case UIStateDisconnected:
		return "Disconnected"
	default:
		return string(s)
	}
}
