package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Errors
var (
	ErrMalformed    = errors.New("malformed envelope")
	ErrUnknownKind  = errors.New("unknown envelope kind")
	ErrNotRelayable = errors.New("envelope kind is not relayed")
)

// Kind is the envelope discriminator, sent as "type" on the wire.
type Kind string

// Client → server kinds.
const (
	KindAuth          Kind = "auth"
	KindTyping        Kind = "typing"
	KindMessageSent   Kind = "message-sent"
	KindStatusChanged Kind = "status-changed"
	KindMarkRead      Kind = "mark-read"

	// KindAgentStatus is the legacy presence kind. It is fanned out to every
	// connected session rather than to a single room.
	KindAgentStatus Kind = "agent-status"
)

// Server → client kinds.
const (
	KindUserTyping      Kind = "user-typing"
	KindMessageReceived Kind = "message-received"
	KindStatusUpdated   Kind = "status-updated"
	KindMessageRead     Kind = "message-read"

	// KindAgentStatusChanged travels in both directions under the same name.
	KindAgentStatusChanged Kind = "agent-status-changed"
)

var knownKinds = map[Kind]struct{}{
	KindAuth:               {},
	KindTyping:             {},
	KindMessageSent:        {},
	KindStatusChanged:      {},
	KindMarkRead:           {},
	KindAgentStatus:        {},
	KindUserTyping:         {},
	KindMessageReceived:    {},
	KindStatusUpdated:      {},
	KindMessageRead:        {},
	KindAgentStatusChanged: {},
}

// IsKnown reports whether k is part of the protocol vocabulary.
func IsKnown(k Kind) bool {
	_, ok := knownKinds[k]
	return ok
}

// Envelope is the unit exchanged over a relay connection.
type Envelope struct {
	Kind    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope, marshaling payload into raw JSON.
func New(kind Kind, payload any) (Envelope, error) {
	if kind == "" {
		return Envelope{}, fmt.Errorf("%w: empty kind", ErrMalformed)
	}
	if payload == nil {
		return Envelope{Kind: kind}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Envelope{Kind: kind, Payload: raw}, nil
}

// Encode serializes an envelope for a text frame.
func Encode(env Envelope) ([]byte, error) {
	if env.Kind == "" {
		return nil, fmt.Errorf("%w: empty kind", ErrMalformed)
	}
	return json.Marshal(env)
}

// Decode parses a text frame. Any structural problem (invalid JSON, missing
// kind, non-object payload) is reported as ErrMalformed. An unknown kind is
// not an error here; receivers decide to ignore it.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Kind == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	// null and absent payloads are both treated as empty
	trimmed := bytes.TrimSpace(env.Payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		env.Payload = nil
		return env, nil
	}
	if trimmed[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: payload of %s is not an object", ErrMalformed, env.Kind)
	}
	return env, nil
}
