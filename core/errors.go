package core

import (
	"errors"

	"github.com/lisuiheng/agentconn/pkg/interfaces"
)

var (
	ErrConnectionFailed   = interfaces.ErrConnectionFailed
	ErrNotConnected       = interfaces.ErrNotConnected
	ErrConnectionLost     = errors.New("connection lost")
	ErrClosed             = errors.New("connection closed")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrInvalidConfig      = errors.New("invalid config")
)
