// pkg/interfaces/transport.go
package interfaces

import (
	"context"
	"errors"
)

var (
	ErrConnectionFailed    = errors.New("connection failed")
	ErrNotConnected        = errors.New("not connected")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
)

type TransportProtocol interface {
	Connect(ctx context.Context) error
	Send(data []byte, msgType MessageType) error
	// Receive is closed once the connection is gone.
	Receive() <-chan Message
	// Err reports why Receive was closed; nil after a normal close.
	Err() error
	Close() error
	ProtocolType() string
}

type Message struct {
	Payload []byte
	Type    MessageType
}

type MessageType int

const (
	MsgText    MessageType = iota // JSON text frames
	MsgBinary                     // raw binary frames
	MsgControl                    // ping/pong/close
)
