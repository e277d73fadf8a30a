package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Relay endpoint (e.g., wss://relay.example.com/ws)
	Token            string        // Bearer token for the upgrade request ("" = none)
	HandshakeTimeout time.Duration // Dial handshake timeout
	PingInterval     time.Duration // Interval between keepalive pings
	PingTimeout      time.Duration // Max time without pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// OverflowPolicy decides what a full Outbox discards.
type OverflowPolicy string

const (
	DropNewest OverflowPolicy = "drop-newest"
	DropOldest OverflowPolicy = "drop-oldest"
)

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	AgentID        string // Sent in the auth handshake
	UserID         string // Defaults to AgentID
	ConversationID string

	ReconnectDelay time.Duration  // Fixed wait before reconnecting
	DialTimeout    time.Duration  // Bound on a single dial attempt
	OutboxSize     int            // Sends queued while disconnected (0 = drop)
	OutboxPolicy   OverflowPolicy // What to discard when the outbox is full

	Client ClientConfig
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectDelay: 3 * time.Second,
		DialTimeout:    10 * time.Second,
		OutboxPolicy:   DropNewest,
		Client:         DefaultClientConfig(),
	}
}

// State is the lifecycle state of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing // terminal
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}
