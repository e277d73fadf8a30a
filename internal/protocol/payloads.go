package protocol

import (
	"encoding/json"
	"fmt"
)

// PayloadError reports a payload whose shape does not match its kind.
type PayloadError struct {
	Kind Kind
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("decode %s payload: %v", e.Kind, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// AuthPayload binds a connection to an agent and a conversation.
// It must be the first frame on every connection.
type AuthPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	AgentID        string `json:"agentId,omitempty"`
}

// Agent returns the agent identity, falling back to the user id.
func (p AuthPayload) Agent() string {
	if p.AgentID != "" {
		return p.AgentID
	}
	return p.UserID
}

// TypingPayload is sent by a client while its agent types.
type TypingPayload struct {
	IsTyping  bool   `json:"isTyping"`
	AgentName string `json:"agentName,omitempty"`
}

// UserTypingPayload is the relayed form of TypingPayload.
type UserTypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
	AgentName      string `json:"agentName,omitempty"`
}

// MessageSentPayload announces a message the sender already stored with the
// helpdesk platform. Message is opaque to the relay.
type MessageSentPayload struct {
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message,omitempty"`
	SenderID       string          `json:"senderId,omitempty"`
	SenderType     string          `json:"senderType,omitempty"`
}

// MessageReceivedPayload is the relayed form of MessageSentPayload.
type MessageReceivedPayload struct {
	ConversationID string          `json:"conversationId"`
	Message        json.RawMessage `json:"message,omitempty"`
	SenderID       string          `json:"senderId,omitempty"`
	SenderType     string          `json:"senderType,omitempty"`
	Timestamp      string          `json:"timestamp"` // RFC 3339, set by the server
}

// StatusPayload carries a conversation status change. The same shape is used
// for status-changed and status-updated.
type StatusPayload struct {
	ConversationID string `json:"conversationId"`
	Status         string `json:"status"`
	UpdatedBy      string `json:"updatedBy,omitempty"`
}

// ReadReceiptPayload carries a read receipt. The same shape is used for
// mark-read and message-read.
type ReadReceiptPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	ReadBy         string `json:"readBy,omitempty"`
}

// Agent presence states.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusAway    = "away"
)

// AgentStatusPayload carries agent presence.
type AgentStatusPayload struct {
	AgentID   string `json:"agentId"`
	Status    string `json:"status"`
	AgentName string `json:"agentName,omitempty"`
}

// DecodePayload unmarshals the payload of env into T. A missing payload
// yields the zero value of T.
func DecodePayload[T any](env Envelope) (T, error) {
	var out T
	if len(env.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, &PayloadError{Kind: env.Kind, Err: err}
	}
	return out, nil
}

// Constructors used by clients.

// Auth builds the handshake envelope.
func Auth(agentID, conversationID string) Envelope {
	return mustNew(KindAuth, AuthPayload{UserID: agentID, ConversationID: conversationID, AgentID: agentID})
}

// Typing builds a typing indicator envelope.
func Typing(isTyping bool, agentName string) Envelope {
	return mustNew(KindTyping, TypingPayload{IsTyping: isTyping, AgentName: agentName})
}

// MessageSent builds a new-message notification. message must be valid JSON
// or empty.
func MessageSent(conversationID, senderID string, message json.RawMessage) (Envelope, error) {
	return New(KindMessageSent, MessageSentPayload{
		ConversationID: conversationID,
		Message:        message,
		SenderID:       senderID,
		SenderType:     "agent",
	})
}

// StatusChanged builds a status change envelope.
func StatusChanged(conversationID, status, updatedBy string) Envelope {
	return mustNew(KindStatusChanged, StatusPayload{ConversationID: conversationID, Status: status, UpdatedBy: updatedBy})
}

// MarkRead builds a read receipt envelope.
func MarkRead(conversationID, messageID, readBy string) Envelope {
	return mustNew(KindMarkRead, ReadReceiptPayload{ConversationID: conversationID, MessageID: messageID, ReadBy: readBy})
}

// AgentStatusChanged builds a presence envelope.
func AgentStatusChanged(agentID, status, agentName string) Envelope {
	return mustNew(KindAgentStatusChanged, AgentStatusPayload{AgentID: agentID, Status: status, AgentName: agentName})
}

// mustNew is only used with the fixed payload structs above, which always marshal.
func mustNew(kind Kind, payload any) Envelope {
	env, err := New(kind, payload)
	if err != nil {
		panic(err)
	}
	return env
}
