package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rickgao/convrelay/internal/relay"
	"github.com/rickgao/convrelay/internal/version"
)

// CheckFunc probes one dependency for the health endpoint.
type CheckFunc func(ctx context.Context) error

// Check is the result of one dependency probe.
type Check struct {
	Status  string `json:"status"` // pass, fail
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string           `json:"status"` // healthy, degraded
	Instance  string           `json:"instance"`
	Version   version.Info     `json:"version"`
	Hub       relay.HubStats   `json:"hub"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// PresenceResponse is the body of GET /api/presence.
type PresenceResponse struct {
	Agents []relay.AgentPresence `json:"agents"`
}

// SessionsResponse is the body of GET /api/conversations/{id}/sessions.
type SessionsResponse struct {
	ConversationID string              `json:"conversationId"`
	Sessions       []relay.SessionInfo `json:"sessions"`
}

type handler struct {
	hub        *relay.Hub
	instanceID string
	checks     map[string]CheckFunc
	now        func() time.Time
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Instance:  h.instanceID,
		Version:   version.Get(),
		Hub:       h.hub.Stats(),
		Timestamp: h.now().UTC(),
	}

	if len(h.checks) > 0 {
		names := make([]string, 0, len(h.checks))
		for name := range h.checks {
			names = append(names, name)
		}
		sort.Strings(names)

		resp.Checks = make(map[string]Check, len(names))
		for _, name := range names {
			start := time.Now()
			if err := h.checks[name](ctx); err != nil {
				resp.Checks[name] = Check{Status: "fail", Message: err.Error()}
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *handler) presence(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PresenceResponse{Agents: h.hub.ActiveAgents()})
}

func (h *handler) conversationSessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "conversation id is required")
		return
	}
	writeJSON(w, http.StatusOK, SessionsResponse{
		ConversationID: id,
		Sessions:       h.hub.Members(id),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
