package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerMessage(t *testing.T) {
	msg, err := ParseServerMessage([]byte(`{"type":"connection:status","data":{"connectionId":"c-1","connectedAt":1700000000000}}`))
	require.NoError(t, err)
	assert.Equal(t, TypeConnectionStatus, msg.Type)
	require.NotNil(t, msg.ConnectionStatus)
	assert.Equal(t, "c-1", msg.ConnectionStatus.ConnectionID)
	assert.EqualValues(t, 1700000000000, msg.ConnectionStatus.ConnectedAt)

	msg, err = ParseServerMessage([]byte(`{"type":"state:update","data":{"state":{"count":3},"timestamp":5}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.StateUpdate)
	assert.JSONEq(t, `{"count":3}`, string(msg.StateUpdate.State))

	// state may be any JSON value, null included
	msg, err = ParseServerMessage([]byte(`{"type":"state:update","data":{"state":null,"timestamp":5}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.StateUpdate)
	assert.EqualValues(t, 5, msg.StateUpdate.Timestamp)

	msg, err = ParseServerMessage([]byte(`{"type":"error","data":{"message":"rate limited","code":"429"}}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Error)
	assert.Equal(t, "rate limited", msg.Error.Message)
	assert.Equal(t, "429", msg.Error.Code)
}

func TestParseServerMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `{`, ErrInvalidJSON},
		{"no type", `{"data":{}}`, ErrMissingField},
		{"unknown type", `{"type":"pong","data":{}}`, ErrUnknownType},
		{"missing connectionId", `{"type":"connection:status","data":{"connectedAt":1}}`, ErrMissingField},
		{"missing timestamp", `{"type":"state:update","data":{"state":null}}`, ErrMissingField},
		{"missing message", `{"type":"error","data":{"code":"x"}}`, ErrMissingField},
		{"null message", `{"type":"error","data":{"message":null}}`, ErrMissingField},
		{"null connection status", `{"type":"connection:status","data":{"connectionId":null,"connectedAt":null}}`, ErrMissingField},
		{"null timestamp", `{"type":"state:update","data":{"state":{},"timestamp":null}}`, ErrMissingField},
		{"data not object", `{"type":"error","data":"boom"}`, ErrInvalidJSON},
		{"wrong field type", `{"type":"connection:status","data":{"connectionId":1,"connectedAt":1}}`, ErrInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseServerMessage([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseClientMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Ping)
	assert.Zero(t, msg.Ping.Timestamp)

	msg, err = ParseClientMessage([]byte(`{"type":"subscribe","data":{"topic":"users"}}`))
	require.NoError(t, err)
	assert.Equal(t, "users", msg.Topic.Topic)

	_, err = ParseClientMessage([]byte(`{"type":"unsubscribe","data":{}}`))
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = ParseClientMessage([]byte(`{"type":"state:update","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestClientBuilders(t *testing.T) {
	raw, err := Ping(42)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping","data":{"timestamp":42}}`, string(raw))

	raw, err = Subscribe("comments")
	require.NoError(t, err)
	msg, err := ParseClientMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeSubscribe, msg.Type)
	assert.Equal(t, "comments", msg.Topic.Topic)

	_, err = Unsubscribe("")
	assert.ErrorIs(t, err, ErrMissingField)

	_, err = NewClientMessage(TypeSubscribe, PingData{})
	assert.Error(t, err)

	_, err = NewClientMessage("hello", nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestNewServerMessage(t *testing.T) {
	raw, err := NewServerMessage(TypeError, ErrorData{Message: "agent crashed"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","data":{"message":"agent crashed"}}`, string(raw))

	_, err = NewServerMessage(TypeError, "agent crashed")
	assert.Error(t, err)

	_, err = NewServerMessage(TypePing, PingData{})
	assert.ErrorIs(t, err, ErrUnknownType)
}
