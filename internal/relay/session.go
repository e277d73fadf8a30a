package relay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/convrelay/internal/protocol"
)

// Errors
var (
	ErrAlreadyBound  = errors.New("session already bound")
	ErrInvalidAuth   = errors.New("auth requires agent and conversation ids")
	ErrNotAdmitted   = errors.New("auth names an agent or conversation the upgrade was not admitted for")
	ErrSessionClosed = errors.New("session closed")
	ErrQueueFull     = errors.New("session send queue full")
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateUnbound State = iota // accepted, waiting for auth
	StateBound                // registered in a room
	StateClosed               // transport gone, terminal
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	SessionID      string    `json:"sessionId"`
	AgentID        string    `json:"agentId"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId"`
	State          string    `json:"state"`
	ConnectedAt    time.Time `json:"connectedAt"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
}

// Session is the server-side state of one live transport.
type Session struct {
	id          string
	conn        *websocket.Conn // nil for sessions not backed by a socket
	connectedAt time.Time

	// Outbound queue, drained by a single writer
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// Identity, written once by bind
	mu             sync.RWMutex
	state          State
	agentID        string
	userID         string
	conversationID string

	// Scope admitted at upgrade; empty fields are unrestricted
	admittedAgent        string
	admittedConversation string

	lastSeen atomic.Int64 // unix nanoseconds
}

func newSession(id string, conn *websocket.Conn, queueSize int, now time.Time) *Session {
	if queueSize < 1 {
		queueSize = 1
	}
	s := &Session{
		id:          id,
		conn:        conn,
		connectedAt: now,
		send:        make(chan []byte, queueSize),
		done:        make(chan struct{}),
	}
	s.lastSeen.Store(now.UnixNano())
	return s
}

// ID returns the opaque session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// AgentID returns the bound agent, or "" before auth.
func (s *Session) AgentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentID
}

// ConversationID returns the bound conversation, or "" before auth.
func (s *Session) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationID
}

// Origin describes the session as the sender of relayed envelopes.
func (s *Session) Origin() protocol.Origin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return protocol.Origin{
		SessionID:      s.id,
		AgentID:        s.agentID,
		UserID:         s.userID,
		ConversationID: s.conversationID,
	}
}

// LastSeen returns when the last inbound frame arrived.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		SessionID:      s.id,
		AgentID:        s.agentID,
		UserID:         s.userID,
		ConversationID: s.conversationID,
		State:          s.state.String(),
		ConnectedAt:    s.connectedAt,
		LastSeenAt:     time.Unix(0, s.lastSeen.Load()),
	}
}

// admit restricts which agent and conversation a later auth may bind to.
func (s *Session) admit(agentID, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admittedAgent = agentID
	s.admittedConversation = conversationID
}

func (s *Session) touch(t time.Time) {
	s.lastSeen.Store(t.UnixNano())
}

// bind moves an unbound session to Bound. Identity is immutable afterwards.
func (s *Session) bind(p protocol.AuthPayload) error {
	if p.Agent() == "" || p.ConversationID == "" {
		return ErrInvalidAuth
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateBound:
		return ErrAlreadyBound
	case StateClosed:
		return ErrSessionClosed
	}
	if (s.admittedAgent != "" && p.Agent() != s.admittedAgent) ||
		(s.admittedConversation != "" && p.ConversationID != s.admittedConversation) {
		return ErrNotAdmitted
	}

	s.state = StateBound
	s.agentID = p.Agent()
	s.userID = p.UserID
	if s.userID == "" {
		s.userID = s.agentID
	}
	s.conversationID = p.ConversationID
	return nil
}

// enqueue hands an encoded frame to the writer without blocking.
func (s *Session) enqueue(data []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrQueueFull
	}
}

// Close marks the session closed and tears down its transport. Safe to call
// more than once and from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()

		close(s.done)

		if s.conn != nil {
			s.conn.Close()
		}
	})
}
