package relay

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/convrelay/internal/metrics"
	"github.com/rickgao/convrelay/internal/protocol"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func boundSession(t *testing.T, id, agentID, conversationID string, queue int) *Session {
	t.Helper()
	s := newSession(id, nil, queue, testEpoch)
	require.NoError(t, s.bind(protocol.AuthPayload{AgentID: agentID, ConversationID: conversationID}))
	return s
}

// drain returns every frame currently queued for s.
func drain(s *Session) []protocol.Envelope {
	var out []protocol.Envelope
	for {
		select {
		case data := <-s.send:
			env, err := protocol.Decode(data)
			if err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	hub := NewHub(nil)
	a := boundSession(t, "a", "agent-a", "conv-1", 8)
	b := boundSession(t, "b", "agent-b", "conv-1", 8)
	c := boundSession(t, "c", "agent-c", "conv-2", 8)
	hub.Register(a, "conv-1")
	hub.Register(b, "conv-1")
	hub.Register(c, "conv-2")

	n := hub.Broadcast("conv-1", protocol.Typing(true, "Ann"), a.ID())
	assert.Equal(t, 1, n)

	assert.Empty(t, drain(a))
	got := drain(b)
	require.Len(t, got, 1)
	assert.Equal(t, protocol.KindTyping, got[0].Kind)
	assert.Empty(t, drain(c))
}

func TestHub_BroadcastEmptyRoom(t *testing.T) {
	hub := NewHub(nil)
	assert.Equal(t, 0, hub.Broadcast("nobody", protocol.Typing(true, ""), ""))
}

func TestHub_UnregisterIdempotent(t *testing.T) {
	hub := NewHub(nil)
	a := boundSession(t, "a", "agent-a", "conv-1", 8)
	hub.Register(a, "conv-1")

	assert.True(t, hub.Unregister(a))
	assert.False(t, hub.Unregister(a))
	assert.Equal(t, 0, hub.RoomSize("conv-1"))
	assert.Equal(t, HubStats{}, hub.Stats())

	never := boundSession(t, "x", "agent-x", "conv-1", 8)
	assert.False(t, hub.Unregister(never))
}

func TestHub_RegisterMovesSession(t *testing.T) {
	hub := NewHub(nil)
	a := boundSession(t, "a", "agent-a", "conv-1", 8)
	hub.Register(a, "conv-1")
	hub.Register(a, "conv-2")

	assert.Equal(t, 0, hub.RoomSize("conv-1"))
	assert.Equal(t, 1, hub.RoomSize("conv-2"))
	assert.Equal(t, HubStats{Rooms: 1, Sessions: 1, Agents: 1}, hub.Stats())

	// Same room twice is a no-op
	hub.Register(a, "conv-2")
	assert.Equal(t, HubStats{Rooms: 1, Sessions: 1, Agents: 1}, hub.Stats())
}

func TestHub_RegisterClosedSessionIgnored(t *testing.T) {
	hub := NewHub(nil)
	a := boundSession(t, "a", "agent-a", "conv-1", 8)
	a.Close()
	hub.Register(a, "conv-1")
	assert.Equal(t, 0, hub.RoomSize("conv-1"))
}

func TestHub_DeadReceiverIsolated(t *testing.T) {
	hub := NewHub(nil)
	sender := boundSession(t, "s", "agent-s", "conv-1", 8)
	full := boundSession(t, "full", "agent-f", "conv-1", 1)
	closed := boundSession(t, "closed", "agent-c", "conv-1", 8)
	healthy := boundSession(t, "ok", "agent-h", "conv-1", 8)
	for _, s := range []*Session{sender, full, closed, healthy} {
		hub.Register(s, "conv-1")
	}

	require.NoError(t, full.enqueue([]byte(`{"type":"typing"}`)))
	closed.Close()

	before := testutil.ToFloat64(metrics.DeliveryFailures)
	n := hub.Broadcast("conv-1", protocol.Typing(true, ""), sender.ID())

	assert.Equal(t, 1, n)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.DeliveryFailures)-before)
	assert.Len(t, drain(healthy), 1)
	assert.Equal(t, StateClosed, full.State())
	assert.Equal(t, 2, hub.RoomSize("conv-1"))

	// Next broadcast only reaches the survivors
	assert.Equal(t, 1, hub.Broadcast("conv-1", protocol.Typing(false, ""), sender.ID()))
}

func TestHub_PresenceOfflineOnLastSession(t *testing.T) {
	hub := NewHub(nil, WithPresence(true))
	a1 := boundSession(t, "a1", "agent-a", "conv-1", 8)
	a2 := boundSession(t, "a2", "agent-a", "conv-2", 8)
	b := boundSession(t, "b", "agent-b", "conv-3", 8)
	hub.Register(a1, "conv-1")
	hub.Register(a2, "conv-2")
	hub.Register(b, "conv-3")

	hub.Unregister(a1)
	assert.Empty(t, drain(b), "agent still has a session")

	hub.Unregister(a2)
	got := drain(b)
	require.Len(t, got, 1)
	assert.Equal(t, protocol.KindAgentStatusChanged, got[0].Kind)

	p, err := protocol.DecodePayload[protocol.AgentStatusPayload](got[0])
	require.NoError(t, err)
	assert.Equal(t, "agent-a", p.AgentID)
	assert.Equal(t, protocol.StatusOffline, p.Status)
}

func TestHub_PresenceDisabled(t *testing.T) {
	hub := NewHub(nil)
	a := boundSession(t, "a", "agent-a", "conv-1", 8)
	b := boundSession(t, "b", "agent-b", "conv-1", 8)
	hub.Register(a, "conv-1")
	hub.Register(b, "conv-1")

	hub.Unregister(a)
	assert.Empty(t, drain(b))
}

func TestHub_BroadcastAll(t *testing.T) {
	hub := NewHub(nil)
	a := boundSession(t, "a", "agent-a", "conv-1", 8)
	b := boundSession(t, "b", "agent-b", "conv-2", 8)
	c := boundSession(t, "c", "agent-c", "conv-3", 8)
	hub.Register(a, "conv-1")
	hub.Register(b, "conv-2")
	hub.Register(c, "conv-3")

	n := hub.BroadcastAll(protocol.AgentStatusChanged("agent-a", protocol.StatusAway, ""), a.ID())
	assert.Equal(t, 2, n)
	assert.Empty(t, drain(a))
	assert.Len(t, drain(b), 1)
	assert.Len(t, drain(c), 1)
}

func TestHub_PresenceQueries(t *testing.T) {
	hub := NewHub(nil)
	a1 := newSession("a1", nil, 8, testEpoch)
	require.NoError(t, a1.bind(protocol.AuthPayload{AgentID: "agent-a", ConversationID: "conv-1"}))
	a2 := newSession("a2", nil, 8, testEpoch.Add(time.Second))
	require.NoError(t, a2.bind(protocol.AuthPayload{AgentID: "agent-a", ConversationID: "conv-2"}))
	b := newSession("b", nil, 8, testEpoch.Add(2*time.Second))
	require.NoError(t, b.bind(protocol.AuthPayload{AgentID: "agent-b", UserID: "user-b", ConversationID: "conv-1"}))
	hub.Register(b, "conv-1")
	hub.Register(a1, "conv-1")
	hub.Register(a2, "conv-2")

	members := hub.Members("conv-1")
	require.Len(t, members, 2)
	assert.Equal(t, "a1", members[0].SessionID)
	assert.Equal(t, "b", members[1].SessionID)
	assert.Equal(t, "user-b", members[1].UserID)
	assert.Equal(t, "bound", members[1].State)

	agents := hub.ActiveAgents()
	require.Len(t, agents, 2)
	assert.Equal(t, AgentPresence{
		AgentID:       "agent-a",
		Status:        protocol.StatusOnline,
		Sessions:      2,
		Conversations: []string{"conv-1", "conv-2"},
	}, agents[0])
	assert.Equal(t, "agent-b", agents[1].AgentID)

	assert.Equal(t, HubStats{Rooms: 2, Sessions: 3, Agents: 2}, hub.Stats())
	assert.Empty(t, hub.Members("missing"))
}

func TestHub_ConcurrentRegisterBroadcast(t *testing.T) {
	hub := NewHub(nil)
	const workers = 16
	const rounds = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			conv := fmt.Sprintf("conv-%d", w%4)
			for i := 0; i < rounds; i++ {
				s := newSession(fmt.Sprintf("s-%d-%d", w, i), nil, rounds*workers, testEpoch)
				_ = s.bind(protocol.AuthPayload{AgentID: fmt.Sprintf("agent-%d", w), ConversationID: conv})
				hub.Register(s, conv)
				hub.Broadcast(conv, protocol.Typing(true, ""), s.ID())
				hub.BroadcastAll(protocol.Typing(false, ""), "")
				_ = hub.Members(conv)
				_ = hub.ActiveAgents()
				hub.Unregister(s)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, HubStats{}, hub.Stats())
	for w := 0; w < 4; w++ {
		assert.Equal(t, 0, hub.RoomSize(fmt.Sprintf("conv-%d", w)))
	}
}

func TestHub_MembersStableUnderConcurrentChurn(t *testing.T) {
	hub := NewHub(nil, WithPresence(true))
	a := boundSession(t, "a", "agent-a", "conv-1", 1024)
	b := boundSession(t, "b", "agent-b", "conv-1", 1024)
	hub.Register(a, "conv-1")
	hub.Register(b, "conv-1")

	const workers = 8
	const rounds = 100

	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			ids := make(map[string]bool)
			for _, m := range hub.Members("conv-1") {
				ids[m.SessionID] = true
			}
			if !ids["a"] || !ids["b"] {
				t.Errorf("stable members missing from snapshot: %v", ids)
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				conv := "conv-1"
				if i%2 == 1 {
					conv = fmt.Sprintf("conv-%d", 2+w%3)
				}
				s := newSession(fmt.Sprintf("churn-%d-%d", w, i), nil, rounds*workers, testEpoch)
				_ = s.bind(protocol.AuthPayload{AgentID: fmt.Sprintf("churn-%d", w), ConversationID: conv})
				hub.Register(s, conv)
				hub.Unregister(s)
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	readers.Wait()

	members := hub.Members("conv-1")
	require.Len(t, members, 2)
	assert.Equal(t, "a", members[0].SessionID)
	assert.Equal(t, "b", members[1].SessionID)
	assert.Equal(t, HubStats{Rooms: 1, Sessions: 2, Agents: 2}, hub.Stats())
}
