// Package messages defines the JSON envelopes exchanged with agents over the
// websocket. Every message is {"type": ..., "data": ...}.
package messages

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidJSON  = errors.New("invalid JSON")
	ErrUnknownType  = errors.New("unknown message type")
	ErrMissingField = errors.New("missing required field")
)

// Server → client types.
const (
	TypeConnectionStatus = "connection:status"
	TypeStateUpdate      = "state:update"
	TypeError            = "error"
)

// Client → server types.
const (
	TypePing        = "ping"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

type ConnectionStatusData struct {
	ConnectionID string `json:"connectionId"`
	ConnectedAt  int64  `json:"connectedAt"`
}

type StateUpdateData struct {
	State     json.RawMessage `json:"state"`
	Timestamp int64           `json:"timestamp"`
}

type ErrorData struct {
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

type PingData struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

type TopicData struct {
	Topic string `json:"topic"`
}

// ServerMessage is a decoded server → client message. Exactly one of the data
// pointers matching Type is set.
type ServerMessage struct {
	Type             string
	ConnectionStatus *ConnectionStatusData
	StateUpdate      *StateUpdateData
	Error            *ErrorData
}

// ClientMessage is a decoded client → server message.
type ClientMessage struct {
	Type  string
	Ping  *PingData
	Topic *TopicData
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseServerMessage decodes and validates a server message.
func ParseServerMessage(data []byte) (ServerMessage, error) {
	env, fields, err := decodeEnvelope(data)
	if err != nil {
		return ServerMessage{}, err
	}

	msg := ServerMessage{Type: env.Type}
	switch env.Type {
	case TypeConnectionStatus:
		if err := requireFields(fields, "connectionId", "connectedAt"); err != nil {
			return ServerMessage{}, err
		}
		msg.ConnectionStatus = &ConnectionStatusData{}
		err = unmarshalData(env.Data, msg.ConnectionStatus)
	case TypeStateUpdate:
		if _, ok := fields["state"]; !ok {
			return ServerMessage{}, fmt.Errorf("%w: state", ErrMissingField)
		}
		if err := requireFields(fields, "timestamp"); err != nil {
			return ServerMessage{}, err
		}
		msg.StateUpdate = &StateUpdateData{}
		err = unmarshalData(env.Data, msg.StateUpdate)
	case TypeError:
		if err := requireFields(fields, "message"); err != nil {
			return ServerMessage{}, err
		}
		msg.Error = &ErrorData{}
		err = unmarshalData(env.Data, msg.Error)
	default:
		return ServerMessage{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return ServerMessage{}, err
	}
	return msg, nil
}

// ParseClientMessage decodes and validates a client message.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	env, fields, err := decodeEnvelope(data)
	if err != nil {
		return ClientMessage{}, err
	}

	msg := ClientMessage{Type: env.Type}
	switch env.Type {
	case TypePing:
		msg.Ping = &PingData{}
		if len(env.Data) > 0 && string(env.Data) != "null" {
			err = unmarshalData(env.Data, msg.Ping)
		}
	case TypeSubscribe, TypeUnsubscribe:
		if err := requireFields(fields, "topic"); err != nil {
			return ClientMessage{}, err
		}
		msg.Topic = &TopicData{}
		err = unmarshalData(env.Data, msg.Topic)
	default:
		return ClientMessage{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return ClientMessage{}, err
	}
	return msg, nil
}

// Ping builds a keepalive message. A zero ts omits the timestamp.
func Ping(ts int64) ([]byte, error) {
	return NewClientMessage(TypePing, PingData{Timestamp: ts})
}

func Subscribe(topic string) ([]byte, error) {
	return NewClientMessage(TypeSubscribe, TopicData{Topic: topic})
}

func Unsubscribe(topic string) ([]byte, error) {
	return NewClientMessage(TypeUnsubscribe, TopicData{Topic: topic})
}

// NewClientMessage encodes a client message after checking that data has the
// shape typ expects.
func NewClientMessage(typ string, data any) ([]byte, error) {
	switch typ {
	case TypePing:
		if _, ok := data.(PingData); !ok && data != nil {
			return nil, fmt.Errorf("ping: unexpected data %T", data)
		}
	case TypeSubscribe, TypeUnsubscribe:
		td, ok := data.(TopicData)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected data %T", typ, data)
		}
		if td.Topic == "" {
			return nil, fmt.Errorf("%w: topic", ErrMissingField)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return encode(typ, data)
}

// NewServerMessage encodes a server message; used by tests and local agents.
func NewServerMessage(typ string, data any) ([]byte, error) {
	switch typ {
	case TypeConnectionStatus:
		if _, ok := data.(ConnectionStatusData); !ok {
			return nil, fmt.Errorf("%s: unexpected data %T", typ, data)
		}
	case TypeStateUpdate:
		if _, ok := data.(StateUpdateData); !ok {
			return nil, fmt.Errorf("%s: unexpected data %T", typ, data)
		}
	case TypeError:
		if _, ok := data.(ErrorData); !ok {
			return nil, fmt.Errorf("%s: unexpected data %T", typ, data)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	return encode(typ, data)
}

func encode(typ string, data any) ([]byte, error) {
	env := struct {
		Type string `json:"type"`
		Data any    `json:"data,omitempty"`
	}{Type: typ, Data: data}
	return json.Marshal(env)
}

func decodeEnvelope(data []byte) (envelope, map[string]json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if env.Type == "" {
		return envelope{}, nil, fmt.Errorf("%w: type", ErrMissingField)
	}

	var fields map[string]json.RawMessage
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &fields); err != nil {
			return envelope{}, nil, fmt.Errorf("%w: data must be an object", ErrInvalidJSON)
		}
	}
	return env, fields, nil
}

// requireFields reports the first of names that is absent or null.
func requireFields(fields map[string]json.RawMessage, names ...string) error {
	for _, name := range names {
		if raw, ok := fields[name]; !ok || string(raw) == "null" {
			return fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	return nil
}

func unmarshalData(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}
