package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/convrelay/internal/protocol"
)

func TestSession_Bind(t *testing.T) {
	tests := []struct {
		name    string
		payload protocol.AuthPayload
		wantErr error
		agent   string
		user    string
	}{
		{
			name:    "agent id",
			payload: protocol.AuthPayload{AgentID: "agent-1", UserID: "user-1", ConversationID: "conv-1"},
			agent:   "agent-1",
			user:    "user-1",
		},
		{
			name:    "user id only",
			payload: protocol.AuthPayload{UserID: "user-1", ConversationID: "conv-1"},
			agent:   "user-1",
			user:    "user-1",
		},
		{
			name:    "agent id only",
			payload: protocol.AuthPayload{AgentID: "agent-1", ConversationID: "conv-1"},
			agent:   "agent-1",
			user:    "agent-1",
		},
		{
			name:    "missing conversation",
			payload: protocol.AuthPayload{AgentID: "agent-1"},
			wantErr: ErrInvalidAuth,
		},
		{
			name:    "missing agent",
			payload: protocol.AuthPayload{ConversationID: "conv-1"},
			wantErr: ErrInvalidAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession("s", nil, 4, testEpoch)
			err := s.bind(tt.payload)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, StateUnbound, s.State())
				assert.Empty(t, s.AgentID())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StateBound, s.State())
			assert.Equal(t, tt.agent, s.AgentID())
			assert.Equal(t, tt.user, s.Origin().UserID)
			assert.Equal(t, "conv-1", s.ConversationID())
		})
	}
}

func TestSession_BindOnce(t *testing.T) {
	s := newSession("s", nil, 4, testEpoch)
	require.NoError(t, s.bind(protocol.AuthPayload{AgentID: "a", ConversationID: "conv-1"}))

	err := s.bind(protocol.AuthPayload{AgentID: "b", ConversationID: "conv-2"})
	require.ErrorIs(t, err, ErrAlreadyBound)
	assert.Equal(t, "a", s.AgentID())
	assert.Equal(t, "conv-1", s.ConversationID())

	s.Close()
	closed := newSession("c", nil, 4, testEpoch)
	closed.Close()
	require.ErrorIs(t, closed.bind(protocol.AuthPayload{AgentID: "a", ConversationID: "conv-1"}), ErrSessionClosed)
}

func TestSession_Enqueue(t *testing.T) {
	s := newSession("s", nil, 2, testEpoch)
	require.NoError(t, s.enqueue([]byte("1")))
	require.NoError(t, s.enqueue([]byte("2")))
	require.ErrorIs(t, s.enqueue([]byte("3")), ErrQueueFull)

	assert.Equal(t, []byte("1"), <-s.send)
	assert.Equal(t, []byte("2"), <-s.send)

	s.Close()
	require.ErrorIs(t, s.enqueue([]byte("4")), ErrSessionClosed)
}

func TestSession_CloseIdempotent(t *testing.T) {
	s := newSession("s", nil, 1, testEpoch)
	s.Close()
	s.Close()

	assert.Equal(t, StateClosed, s.State())
	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestSession_Info(t *testing.T) {
	s := newSession("s", nil, 1, testEpoch)
	s.touch(testEpoch.Add(5 * time.Second))
	require.NoError(t, s.bind(protocol.AuthPayload{AgentID: "a", ConversationID: "conv-1"}))

	info := s.Info()
	assert.Equal(t, "s", info.SessionID)
	assert.Equal(t, "bound", info.State)
	assert.True(t, info.ConnectedAt.Equal(testEpoch))
	assert.True(t, info.LastSeenAt.Equal(testEpoch.Add(5*time.Second)))
	assert.True(t, s.LastSeen().Equal(testEpoch.Add(5*time.Second)))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unbound", StateUnbound.String())
	assert.Equal(t, "bound", StateBound.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
