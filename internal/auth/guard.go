package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rickgao/convrelay/internal/metrics"
)

// Authorizer decides whether an agent may join a conversation.
type Authorizer interface {
	CanJoin(ctx context.Context, agentID, conversationID string) (bool, error)
}

// AllowAll admits every agent to every conversation.
type AllowAll struct{}

// CanJoin always returns true.
func (AllowAll) CanJoin(context.Context, string, string) (bool, error) { return true, nil }

type contextKey int

const (
	agentKey contextKey = iota
	conversationKey
)

// WithAgent returns ctx carrying the authenticated agent id.
func WithAgent(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentKey, agentID)
}

// AgentFromContext returns the agent id stored by Guard, or "".
func AgentFromContext(ctx context.Context) string {
	id, _ := ctx.Value(agentKey).(string)
	return id
}

// WithConversation returns ctx carrying the conversation the upgrade was
// admitted to.
func WithConversation(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, conversationKey, conversationID)
}

// ConversationFromContext returns the conversation stored by Guard, or "".
func ConversationFromContext(ctx context.Context) string {
	id, _ := ctx.Value(conversationKey).(string)
	return id
}

// Rejection reasons recorded in metrics.
const (
	rejectTokenMissing = "token_missing"
	rejectScopeMissing = "scope_missing"
	rejectTokenInvalid = "token_invalid"
	rejectForbidden    = "forbidden"
	rejectAuthzError   = "authz_error"
)

// Guard returns middleware that authenticates upgrade requests.
//
// With a nil verifier no token is required. The token is read from the
// Authorization bearer header, then from the "token" query parameter.
//
// Unless authz is AllowAll (or nil), the request must name a
// "conversationId" and an agent (the token subject, else the "agentId"
// parameter) and authz must admit the pair. The admitted agent and
// conversation are stored in the request context; the relay refuses an
// auth frame that names anything else.
func Guard(verifier TokenVerifier, authz Authorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if authz == nil {
		authz = AllowAll{}
	}
	logger = logger.With("component", "guard")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			agentID := r.URL.Query().Get("agentId")

			if verifier != nil {
				token := extractToken(r)
				sub, err := verifier.Verify(token)
				if err != nil {
					reason := rejectTokenInvalid
					if errors.Is(err, ErrTokenMissing) {
						reason = rejectTokenMissing
					}
					metrics.UpgradesRejected.WithLabelValues(reason).Inc()
					logger.Warn("upgrade rejected", "remote_addr", r.RemoteAddr, "reason", reason, "error", err)
					http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
					return
				}
				agentID = sub
				ctx = WithAgent(ctx, sub)
			}

			conv := r.URL.Query().Get("conversationId")
			if _, open := authz.(AllowAll); !open {
				if conv == "" || agentID == "" {
					metrics.UpgradesRejected.WithLabelValues(rejectScopeMissing).Inc()
					logger.Warn("upgrade rejected", "remote_addr", r.RemoteAddr, "reason", rejectScopeMissing)
					http.Error(w, `{"error":"agent and conversationId required"}`, http.StatusBadRequest)
					return
				}

				ok, err := authz.CanJoin(ctx, agentID, conv)
				if err != nil {
					metrics.UpgradesRejected.WithLabelValues(rejectAuthzError).Inc()
					logger.Error("access check failed", "agent_id", agentID, "conversation_id", conv, "error", err)
					http.Error(w, `{"error":"access check failed"}`, http.StatusServiceUnavailable)
					return
				}
				if !ok {
					metrics.UpgradesRejected.WithLabelValues(rejectForbidden).Inc()
					logger.Warn("upgrade forbidden", "agent_id", agentID, "conversation_id", conv)
					http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
					return
				}
				ctx = WithAgent(ctx, agentID)
			}
			if conv != "" {
				ctx = WithConversation(ctx, conv)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken reads a bearer token from the header or the query string.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
