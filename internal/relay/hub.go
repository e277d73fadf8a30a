package relay

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/convrelay/internal/metrics"
	"github.com/rickgao/convrelay/internal/protocol"
)

// membership records where a registered session lives.
type membership struct {
	session        *Session
	conversationID string
	agentID        string
}

// HubStats provides statistics about the hub.
type HubStats struct {
	Rooms    int `json:"rooms"`
	Sessions int `json:"sessions"`
	Agents   int `json:"agents"`
}

// AgentPresence describes one agent with at least one registered session.
type AgentPresence struct {
	AgentID       string   `json:"agentId"`
	Status        string   `json:"status"`
	Sessions      int      `json:"sessions"`
	Conversations []string `json:"conversations"`
}

// Hub is the room registry: it maps conversation ids to the sessions
// subscribed to them and performs fan-out. A Hub is safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Session // conversationID -> sessionID -> session
	members map[string]membership          // sessionID -> membership
	agents  map[string]int                 // agentID -> registered sessions

	presence  bool
	onOffline func(conversationID string, env protocol.Envelope)
	logger    *slog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithPresence enables offline announcements when an agent's last session
// leaves the hub.
func WithPresence(enabled bool) HubOption {
	return func(h *Hub) {
		h.presence = enabled
	}
}

// OnOffline sets a callback run after an offline announcement has been
// delivered locally. conversationID is the room the agent's last session
// left.
func (h *Hub) OnOffline(f func(conversationID string, env protocol.Envelope)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onOffline = f
}

// NewHub creates an empty hub. Pass nil logger for default.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Hub{
		rooms:   make(map[string]map[string]*Session),
		members: make(map[string]membership),
		agents:  make(map[string]int),
		logger:  logger.With("component", "hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds session to the room for conversationID, creating the room if
// needed. A session already registered elsewhere is moved.
func (h *Hub) Register(session *Session, conversationID string) {
	if session.State() == StateClosed {
		h.logger.Debug("not registering closed session", "session_id", session.ID())
		return
	}

	agentID := session.AgentID()

	h.mu.Lock()
	if prev, ok := h.members[session.ID()]; ok {
		if prev.conversationID == conversationID {
			h.mu.Unlock()
			return
		}
		h.removeLocked(session.ID())
	}

	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[string]*Session)
		h.rooms[conversationID] = room
	}
	room[session.ID()] = session
	h.members[session.ID()] = membership{
		session:        session,
		conversationID: conversationID,
		agentID:        agentID,
	}
	if agentID != "" {
		h.agents[agentID]++
	}
	size := len(room)
	h.updateGaugesLocked()
	h.mu.Unlock()

	h.logger.Debug("session registered",
		"session_id", session.ID(),
		"agent_id", agentID,
		"conversation_id", conversationID,
		"room_size", size,
	)
}

// Unregister removes session from whatever room it is in. Calling it twice,
// or for a session that was never registered, does nothing. It reports
// whether the session was removed.
func (h *Hub) Unregister(session *Session) bool {
	h.mu.Lock()
	m, ok := h.members[session.ID()]
	if !ok {
		h.mu.Unlock()
		return false
	}
	lastForAgent := h.removeLocked(session.ID())
	onOffline := h.onOffline
	h.mu.Unlock()

	h.logger.Debug("session unregistered",
		"session_id", session.ID(),
		"agent_id", m.agentID,
		"conversation_id", m.conversationID,
	)

	if lastForAgent && h.presence {
		env := protocol.AgentStatusChanged(m.agentID, protocol.StatusOffline, "")
		h.BroadcastAll(env, session.ID())
		if onOffline != nil {
			onOffline(m.conversationID, env)
		}
	}
	return true
}

// removeLocked drops a session and reports whether it was the agent's last
// registered session. Must be called with h.mu held.
func (h *Hub) removeLocked(sessionID string) (lastForAgent bool) {
	m, ok := h.members[sessionID]
	if !ok {
		return false
	}
	delete(h.members, sessionID)

	if room, ok := h.rooms[m.conversationID]; ok {
		delete(room, sessionID)
		if len(room) == 0 {
			delete(h.rooms, m.conversationID)
		}
	}

	if m.agentID != "" {
		h.agents[m.agentID]--
		if h.agents[m.agentID] <= 0 {
			delete(h.agents, m.agentID)
			lastForAgent = true
		}
	}

	h.updateGaugesLocked()
	return lastForAgent
}

func (h *Hub) updateGaugesLocked() {
	metrics.SessionsActive.Set(float64(len(h.members)))
	metrics.RoomsActive.Set(float64(len(h.rooms)))
}

// Broadcast delivers env to every session registered for conversationID
// except excludeSessionID. A receiver whose delivery fails is unregistered
// and closed; delivery to the others continues. It returns the number of
// receivers the envelope was handed to.
func (h *Hub) Broadcast(conversationID string, env protocol.Envelope, excludeSessionID string) int {
	// Snapshot under read lock; enqueue outside it
	h.mu.RLock()
	room := h.rooms[conversationID]
	targets := make([]*Session, 0, len(room))
	for id, s := range room {
		if id == excludeSessionID {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	return h.deliver(env, targets, conversationID)
}

// BroadcastAll delivers env to every registered session except
// excludeSessionID. Used for presence.
func (h *Hub) BroadcastAll(env protocol.Envelope, excludeSessionID string) int {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.members))
	for id, m := range h.members {
		if id == excludeSessionID {
			continue
		}
		targets = append(targets, m.session)
	}
	h.mu.RUnlock()

	return h.deliver(env, targets, "")
}

func (h *Hub) deliver(env protocol.Envelope, targets []*Session, conversationID string) int {
	if len(targets) == 0 {
		return 0
	}

	data, err := protocol.Encode(env)
	if err != nil {
		h.logger.Error("failed to encode envelope", "kind", env.Kind, "error", err)
		return 0
	}

	delivered := 0
	for _, s := range targets {
		if err := s.enqueue(data); err != nil {
			h.logger.Warn("delivery failed, dropping receiver",
				"session_id", s.ID(),
				"conversation_id", conversationID,
				"kind", env.Kind,
				"error", err,
			)
			metrics.DeliveryFailures.Inc()
			h.Unregister(s)
			s.Close()
			continue
		}
		delivered++
	}

	metrics.EnvelopesRelayed.WithLabelValues(string(env.Kind)).Inc()
	metrics.Deliveries.Add(float64(delivered))
	return delivered
}

// Members returns the sessions registered for conversationID, oldest first.
func (h *Hub) Members(conversationID string) []SessionInfo {
	h.mu.RLock()
	room := h.rooms[conversationID]
	sessions := make([]*Session, 0, len(room))
	for _, s := range room {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].ConnectedAt.Equal(infos[j].ConnectedAt) {
			return infos[i].SessionID < infos[j].SessionID
		}
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// RoomSize returns the number of sessions registered for conversationID.
func (h *Hub) RoomSize(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[conversationID])
}

// ActiveAgents lists agents with at least one registered session.
func (h *Hub) ActiveAgents() []AgentPresence {
	h.mu.RLock()
	byAgent := make(map[string]*AgentPresence, len(h.agents))
	seen := make(map[string]map[string]struct{}, len(h.agents))
	for _, m := range h.members {
		if m.agentID == "" {
			continue
		}
		p, ok := byAgent[m.agentID]
		if !ok {
			p = &AgentPresence{AgentID: m.agentID, Status: protocol.StatusOnline}
			byAgent[m.agentID] = p
			seen[m.agentID] = make(map[string]struct{})
		}
		p.Sessions++
		if _, dup := seen[m.agentID][m.conversationID]; !dup {
			seen[m.agentID][m.conversationID] = struct{}{}
			p.Conversations = append(p.Conversations, m.conversationID)
		}
	}
	h.mu.RUnlock()

	out := make([]AgentPresence, 0, len(byAgent))
	for _, p := range byAgent {
		sort.Strings(p.Conversations)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Stats returns current hub statistics.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		Rooms:    len(h.rooms),
		Sessions: len(h.members),
		Agents:   len(h.agents),
	}
}
