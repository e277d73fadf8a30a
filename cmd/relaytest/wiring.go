package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/rickgao/convrelay/internal/auth"
	"github.com/rickgao/convrelay/internal/config"
	"github.com/rickgao/convrelay/internal/connection"
	"github.com/rickgao/convrelay/internal/protocol"
	"github.com/rickgao/convrelay/internal/router"
)

func applyFlags(c *config.ClientConfig, rawURL, agentID, conversationID, token string) {
	if rawURL != "" {
		c.URL = rawURL
	}
	if agentID != "" {
		c.AgentID = agentID
	}
	if conversationID != "" {
		c.ConversationID = conversationID
	}
	if token != "" {
		c.Token = token
	}
}

func mintToken(cfg *config.Config) (string, error) {
	var svc *auth.TokenService
	switch {
	case cfg.Auth.Secret != "":
		svc = auth.NewHS256([]byte(cfg.Auth.Secret), cfg.Auth.Issuer)
	case cfg.Auth.PrivateKeyPath != "":
		key, err := auth.LoadPrivateKey(cfg.Auth.PrivateKeyPath)
		if err != nil {
			return "", err
		}
		svc = auth.NewRS256(key, cfg.Auth.Issuer)
	default:
		return "", auth.ErrCannotSign
	}

	agentID := cfg.Client.AgentID
	if agentID == "" {
		agentID = cfg.Client.UserID
	}
	return svc.Issue(agentID, cfg.Auth.TokenTTL)
}

// withConversation adds the conversationId query parameter the upgrade
// guard uses for access checks.
func withConversation(rawURL, conversationID string) string {
	u, err := url.Parse(rawURL)
	if err != nil || conversationID == "" {
		return rawURL
	}
	q := u.Query()
	if q.Get("conversationId") == "" {
		q.Set("conversationId", conversationID)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func managerConfig(c config.ClientConfig) connection.ManagerConfig {
	cfg := connection.DefaultManagerConfig()
	cfg.AgentID = c.AgentID
	cfg.UserID = c.UserID
	cfg.ConversationID = c.ConversationID
	cfg.ReconnectDelay = c.ReconnectDelay
	cfg.DialTimeout = c.DialTimeout
	cfg.OutboxSize = c.OutboxSize
	cfg.OutboxPolicy = connection.OverflowPolicy(c.OutboxPolicy)
	cfg.Client.URL = withConversation(c.URL, c.ConversationID)
	cfg.Client.Token = c.Token
	cfg.Client.PingInterval = c.PingInterval
	cfg.Client.PingTimeout = 3 * c.PingInterval
	return cfg
}

func printHandlers(w io.Writer, verbose bool) router.Handlers {
	h := router.Handlers{
		OnTyping: func(p protocol.UserTypingPayload) {
			fmt.Fprintf(w, "[TYPING] user=%s typing=%t name=%s\n", p.UserID, p.IsTyping, p.AgentName)
		},
		OnMessageReceived: func(p protocol.MessageReceivedPayload) {
			fmt.Fprintf(w, "[MESSAGE] sender=%s at=%s message=%s\n", p.SenderID, p.Timestamp, p.Message)
		},
		OnStatusChanged: func(p protocol.StatusPayload) {
			fmt.Fprintf(w, "[STATUS] conversation=%s status=%s by=%s\n", p.ConversationID, p.Status, p.UpdatedBy)
		},
		OnAgentStatus: func(p protocol.AgentStatusPayload) {
			fmt.Fprintf(w, "[AGENT] agent=%s status=%s name=%s\n", p.AgentID, p.Status, p.AgentName)
		},
		OnMessageRead: func(p protocol.ReadReceiptPayload) {
			fmt.Fprintf(w, "[READ] message=%s by=%s\n", p.MessageID, p.ReadBy)
		},
	}
	if verbose {
		h.OnMessage = func(env protocol.Envelope) {
			fmt.Fprintf(w, "[RAW] type=%s payload=%s\n", env.Kind, env.Payload)
		}
	}
	return h
}

// sender is the part of connection.Manager commands use.
type sender interface {
	SendTyping(isTyping bool, agentName string) bool
	SendStatusChange(status string) bool
	MarkMessageAsRead(messageID string) bool
	SendMessageNotification(message json.RawMessage) bool
	SendAgentStatus(status, agentName string) bool
}

type command func(sender) bool

var errUsage = errors.New(usage)

// parseCommand turns one stdin line into a command. Blank lines yield nil.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	if !strings.HasPrefix(line, "/") {
		msg, err := json.Marshal(map[string]string{"id": uuid.NewString(), "text": line})
		if err != nil {
			return nil, err
		}
		return func(s sender) bool { return s.SendMessageNotification(msg) }, nil
	}

	fields := strings.Fields(line)
	args := fields[1:]
	rest := func(from int) string {
		if len(args) <= from {
			return ""
		}
		return strings.Join(args[from:], " ")
	}

	switch fields[0] {
	case "/typing":
		if len(args) == 0 || (args[0] != "on" && args[0] != "off") {
			return nil, errUsage
		}
		on, name := args[0] == "on", rest(1)
		return func(s sender) bool { return s.SendTyping(on, name) }, nil
	case "/status":
		if len(args) != 1 {
			return nil, errUsage
		}
		status := args[0]
		return func(s sender) bool { return s.SendStatusChange(status) }, nil
	case "/read":
		if len(args) != 1 {
			return nil, errUsage
		}
		id := args[0]
		return func(s sender) bool { return s.MarkMessageAsRead(id) }, nil
	case "/agent":
		if len(args) == 0 {
			return nil, errUsage
		}
		status, name := args[0], rest(1)
		return func(s sender) bool { return s.SendAgentStatus(status, name) }, nil
	}
	return nil, fmt.Errorf("unknown command %q\n%s", fields[0], usage)
}
