package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_TypingRoundTrip(t *testing.T) {
	env, err := New(KindTyping, map[string]any{"isTyping": true, "agentName": "Alice"})
	require.NoError(t, err)

	data, err := Encode(env)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindTyping, got.Kind)
	assert.JSONEq(t, `{"isTyping":true,"agentName":"Alice"}`, string(got.Payload))

	p, err := DecodePayload[TypingPayload](got)
	require.NoError(t, err)
	assert.True(t, p.IsTyping)
	assert.Equal(t, "Alice", p.AgentName)
}

func TestEncodeDecode_UnknownFieldsSurvive(t *testing.T) {
	frame := []byte(`{"type":"typing","payload":{"isTyping":true,"agentName":"Alice","cursor":{"line":3},"tags":["a","b"]}}`)

	env, err := Decode(frame)
	require.NoError(t, err)

	data, err := Encode(env)
	require.NoError(t, err)

	again, err := Decode(data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"isTyping":true,"agentName":"Alice","cursor":{"line":3},"tags":["a","b"]}`, string(again.Payload))
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `hello`},
		{"truncated", `{"type":"typing","payload":{`},
		{"missing type", `{"payload":{"isTyping":true}}`},
		{"empty type", `{"type":"","payload":{}}`},
		{"array payload", `{"type":"typing","payload":[1,2]}`},
		{"string payload", `{"type":"typing","payload":"x"}`},
		{"type not string", `{"type":7,"payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
		})
	}
}

func TestDecode_UnknownKindIsNotAnError(t *testing.T) {
	env, err := Decode([]byte(`{"type":"conversation-archived","payload":{"id":"c1"}}`))
	require.NoError(t, err)
	assert.Equal(t, Kind("conversation-archived"), env.Kind)
	assert.False(t, IsKnown(env.Kind))
}

func TestDecode_NullPayload(t *testing.T) {
	env, err := Decode([]byte(`{"type":"typing","payload":null}`))
	require.NoError(t, err)
	assert.Nil(t, env.Payload)

	p, err := DecodePayload[TypingPayload](env)
	require.NoError(t, err)
	assert.False(t, p.IsTyping)
}

func TestEncode_EmptyKind(t *testing.T) {
	_, err := Encode(Envelope{})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodePayload_ShapeMismatch(t *testing.T) {
	env, err := Decode([]byte(`{"type":"typing","payload":{"isTyping":"yes"}}`))
	require.NoError(t, err)

	_, err = DecodePayload[TypingPayload](env)
	require.Error(t, err)

	var perr *PayloadError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, KindTyping, perr.Kind)
}

func TestAuthPayload_Agent(t *testing.T) {
	assert.Equal(t, "agent-1", AuthPayload{UserID: "user-1", AgentID: "agent-1"}.Agent())
	assert.Equal(t, "user-1", AuthPayload{UserID: "user-1"}.Agent())
}

func TestConstructors(t *testing.T) {
	auth := Auth("agent-7", "conv-1")
	assert.Equal(t, KindAuth, auth.Kind)
	assert.JSONEq(t, `{"userId":"agent-7","conversationId":"conv-1","agentId":"agent-7"}`, string(auth.Payload))

	msg, err := MessageSent("conv-1", "agent-7", json.RawMessage(`{"id":"m1","body":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"conversationId":"conv-1","message":{"id":"m1","body":"hi"},"senderId":"agent-7","senderType":"agent"}`, string(msg.Payload))

	_, err = MessageSent("conv-1", "agent-7", json.RawMessage(`{broken`))
	assert.Error(t, err)

	read := MarkRead("conv-1", "m1", "agent-7")
	assert.Equal(t, KindMarkRead, read.Kind)

	status := StatusChanged("conv-1", "resolved", "agent-7")
	assert.JSONEq(t, `{"conversationId":"conv-1","status":"resolved","updatedBy":"agent-7"}`, string(status.Payload))
}
