package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Scope selects the audience of a relayed envelope.
type Scope int

const (
	// ScopeRoom delivers to the other sessions of the sender's conversation.
	ScopeRoom Scope = iota
	// ScopeAll delivers to every bound session.
	ScopeAll
)

func (s Scope) String() string {
	if s == ScopeAll {
		return "all"
	}
	return "room"
}

// Origin identifies the bound session an envelope came from.
type Origin struct {
	SessionID      string
	AgentID        string
	UserID         string
	ConversationID string
}

// timestampLayout matches the millisecond UTC form browsers produce.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Relay converts an inbound envelope into the form delivered to other
// sessions. Server-owned fields (sender identity, conversation, timestamp)
// are written into the payload; every other field is passed through as is.
//
// It returns ErrUnknownKind for kinds outside the vocabulary, ErrNotRelayable
// for auth and server-only kinds, and *PayloadError when the payload does not
// match its kind.
func Relay(env Envelope, from Origin, now time.Time) (Envelope, Scope, error) {
	switch env.Kind {
	case KindTyping:
		if _, err := DecodePayload[TypingPayload](env); err != nil {
			return Envelope{}, ScopeRoom, err
		}
		out, err := rewrite(env, KindUserTyping, map[string]any{
			"userId":         from.UserID,
			"conversationId": from.ConversationID,
		})
		return out, ScopeRoom, err

	case KindMessageSent:
		if _, err := DecodePayload[MessageSentPayload](env); err != nil {
			return Envelope{}, ScopeRoom, err
		}
		out, err := rewrite(env, KindMessageReceived, map[string]any{
			"conversationId": from.ConversationID,
			"timestamp":      now.UTC().Format(timestampLayout),
		})
		return out, ScopeRoom, err

	case KindStatusChanged:
		if _, err := DecodePayload[StatusPayload](env); err != nil {
			return Envelope{}, ScopeRoom, err
		}
		out, err := rewrite(env, KindStatusUpdated, map[string]any{
			"conversationId": from.ConversationID,
		})
		return out, ScopeRoom, err

	case KindMarkRead:
		if _, err := DecodePayload[ReadReceiptPayload](env); err != nil {
			return Envelope{}, ScopeRoom, err
		}
		out, err := rewrite(env, KindMessageRead, map[string]any{
			"conversationId": from.ConversationID,
		})
		return out, ScopeRoom, err

	case KindAgentStatusChanged, KindAgentStatus:
		p, err := DecodePayload[AgentStatusPayload](env)
		if err != nil {
			return Envelope{}, ScopeRoom, err
		}
		set := map[string]any{}
		if p.AgentID == "" {
			set["agentId"] = from.AgentID
		}
		scope := ScopeRoom
		if env.Kind == KindAgentStatus {
			scope = ScopeAll
		}
		out, err := rewrite(env, KindAgentStatusChanged, set)
		return out, scope, err
	}

	if IsKnown(env.Kind) {
		return Envelope{}, ScopeRoom, fmt.Errorf("%w: %s", ErrNotRelayable, env.Kind)
	}
	return Envelope{}, ScopeRoom, fmt.Errorf("%w: %s", ErrUnknownKind, env.Kind)
}

// rewrite renames env and overwrites the given payload fields.
func rewrite(env Envelope, kind Kind, set map[string]any) (Envelope, error) {
	fields := map[string]json.RawMessage{}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &fields); err != nil {
			return Envelope{}, &PayloadError{Kind: env.Kind, Err: err}
		}
	}

	for key, value := range set {
		raw, err := json.Marshal(value)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s: %w", key, err)
		}
		fields[key] = raw
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Envelope{Kind: kind, Payload: payload}, nil
}
