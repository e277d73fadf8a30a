package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/convrelay/internal/auth"
	"github.com/rickgao/convrelay/internal/metrics"
	"github.com/rickgao/convrelay/internal/protocol"
)

// ServerConfig configures the websocket side of the relay.
type ServerConfig struct {
	SendQueueSize   int           // Per-session outbound queue depth
	ReadLimit       int64         // Max inbound frame size in bytes
	WriteTimeout    time.Duration // Write deadline for each frame
	PingInterval    time.Duration // Interval between pings (0 = no pings)
	PongWait        time.Duration // Read deadline extended by each pong (0 = none)
	ReadBufferSize  int
	WriteBufferSize int
	AllowedOrigins  []string // Empty allows any origin
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SendQueueSize:   256,
		ReadLimit:       64 * 1024,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// Bridge carries relayed envelopes to other relay instances.
type Bridge interface {
	Publish(ctx context.Context, conversationID string, scope protocol.Scope, env protocol.Envelope) error
}

// Server accepts websocket connections and runs one Session per socket.
type Server struct {
	hub      *Hub
	cfg      ServerConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
	bridge   Bridge
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithBridge publishes every locally relayed envelope to b.
func WithBridge(b Bridge) ServerOption {
	return func(s *Server) {
		s.bridge = b
	}
}

// WithNow overrides the time source used for timestamps and liveness.
func WithNow(now func() time.Time) ServerOption {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer creates a Server that registers sessions in hub.
// Pass nil logger for default.
func NewServer(hub *Hub, cfg ServerConfig, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		hub:      hub,
		cfg:      cfg,
		logger:   logger.With("component", "relay"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bridge != nil {
		hub.OnOffline(func(conversationID string, env protocol.Envelope) {
			s.publish(conversationID, protocol.ScopeAll, env)
		})
	}
	return s
}

// originChecker allows requests without an Origin header and those whose
// host matches an allowed entry. An empty list allows everything.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	hosts := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if u, err := url.Parse(a); err == nil && u.Host != "" {
			hosts[strings.ToLower(u.Host)] = struct{}{}
			continue
		}
		hosts[strings.ToLower(a)] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := hosts[strings.ToLower(u.Host)]
		return ok
	}
}

// Hub returns the registry sessions are registered in.
func (s *Server) Hub() *Hub { return s.hub }

// ServeHTTP upgrades the request and serves the session until the transport
// closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.UpgradesRejected.WithLabelValues("upgrade").Inc()
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	session := newSession(uuid.NewString(), conn, s.cfg.SendQueueSize, s.now())
	session.admit(auth.AgentFromContext(r.Context()), auth.ConversationFromContext(r.Context()))
	if !s.track(session) {
		session.Close()
		return
	}
	metrics.ConnectionsAccepted.Inc()

	s.logger.Debug("session accepted",
		"session_id", session.ID(),
		"remote_addr", r.RemoteAddr,
	)

	go func() {
		defer s.wg.Done()
		s.writePump(session)
	}()

	s.readPump(session)
	s.cleanup(session)
}

func (s *Server) track(session *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[session.ID()] = session
	s.wg.Add(1)
	return true
}

// cleanup closes the session and removes it from the hub and tracking.
// Safe to call more than once.
func (s *Server) cleanup(session *Session) {
	session.Close()
	s.hub.Unregister(session)

	s.mu.Lock()
	delete(s.sessions, session.ID())
	s.mu.Unlock()

	s.logger.Debug("session closed",
		"session_id", session.ID(),
		"agent_id", session.AgentID(),
		"conversation_id", session.ConversationID(),
	)
}

// readPump reads frames until the transport fails.
func (s *Server) readPump(session *Session) {
	conn := session.conn

	if s.cfg.ReadLimit > 0 {
		conn.SetReadLimit(s.cfg.ReadLimit)
	}
	if s.cfg.PongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	}
	conn.SetPongHandler(func(string) error {
		session.touch(s.now())
		if s.cfg.PongWait > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		}
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-session.Done():
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Warn("session read failed", "session_id", session.ID(), "error", err)
				}
			}
			return
		}

		session.touch(s.now())
		s.handleFrame(session, data)
	}
}

// writePump drains the session queue. It is the only writer on the socket
// apart from control frames.
func (s *Server) writePump(session *Session) {
	conn := session.conn

	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-session.Done():
			return

		case data := <-session.send:
			if s.cfg.WriteTimeout > 0 {
				conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("session write failed", "session_id", session.ID(), "error", err)
				session.Close()
				return
			}

		case <-ping:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("failed to send ping", "session_id", session.ID(), "error", err)
				session.Close()
				return
			}
		}
	}
}

// handleFrame applies one inbound frame to the session.
func (s *Server) handleFrame(session *Session, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		metrics.FramesDropped.WithLabelValues(metrics.DropMalformed).Inc()
		s.logger.Warn("dropping malformed frame", "session_id", session.ID(), "error", err)
		return
	}

	switch session.State() {
	case StateUnbound:
		s.handleAuth(session, env)
	case StateBound:
		s.handleRelay(session, env)
	}
}

func (s *Server) handleAuth(session *Session, env protocol.Envelope) {
	if env.Kind != protocol.KindAuth {
		metrics.FramesDropped.WithLabelValues(metrics.DropUnbound).Inc()
		s.logger.Debug("ignoring frame before auth", "session_id", session.ID(), "kind", env.Kind)
		return
	}

	p, err := protocol.DecodePayload[protocol.AuthPayload](env)
	if err != nil {
		metrics.FramesDropped.WithLabelValues(metrics.DropPayload).Inc()
		s.logger.Warn("invalid auth payload", "session_id", session.ID(), "error", err)
		return
	}

	if err := session.bind(p); err != nil {
		if errors.Is(err, ErrNotAdmitted) {
			metrics.FramesDropped.WithLabelValues(metrics.DropNotAdmitted).Inc()
		}
		s.logger.Warn("auth rejected",
			"session_id", session.ID(),
			"agent_id", p.Agent(),
			"conversation_id", p.ConversationID,
			"error", err,
		)
		return
	}

	s.hub.Register(session, p.ConversationID)

	s.logger.Info("session bound",
		"session_id", session.ID(),
		"agent_id", session.AgentID(),
		"conversation_id", p.ConversationID,
	)
}

func (s *Server) handleRelay(session *Session, env protocol.Envelope) {
	if env.Kind == protocol.KindAuth {
		s.logger.Debug("ignoring redundant auth", "session_id", session.ID())
		return
	}

	origin := session.Origin()
	out, scope, err := protocol.Relay(env, origin, s.now())
	if err != nil {
		var perr *protocol.PayloadError
		switch {
		case errors.Is(err, protocol.ErrUnknownKind):
			metrics.FramesDropped.WithLabelValues(metrics.DropUnknown).Inc()
			s.logger.Debug("ignoring unknown kind", "session_id", session.ID(), "kind", env.Kind)
		case errors.Is(err, protocol.ErrNotRelayable):
			metrics.FramesDropped.WithLabelValues(metrics.DropNotRelayed).Inc()
			s.logger.Debug("ignoring non-relayed kind", "session_id", session.ID(), "kind", env.Kind)
		case errors.As(err, &perr):
			metrics.FramesDropped.WithLabelValues(metrics.DropPayload).Inc()
			s.logger.Warn("dropping envelope with bad payload", "session_id", session.ID(), "error", err)
		default:
			s.logger.Error("failed to relay envelope", "session_id", session.ID(), "error", err)
		}
		return
	}

	var delivered int
	if scope == protocol.ScopeAll {
		delivered = s.hub.BroadcastAll(out, session.ID())
	} else {
		delivered = s.hub.Broadcast(origin.ConversationID, out, session.ID())
	}

	s.logger.Debug("envelope relayed",
		"session_id", session.ID(),
		"kind", out.Kind,
		"scope", scope.String(),
		"delivered", delivered,
	)

	s.publish(origin.ConversationID, scope, out)
}

// publish hands a locally delivered envelope to the bridge, if any.
func (s *Server) publish(conversationID string, scope protocol.Scope, env protocol.Envelope) {
	if s.bridge == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout())
	defer cancel()
	if err := s.bridge.Publish(ctx, conversationID, scope, env); err != nil {
		s.logger.Warn("bridge publish failed", "kind", env.Kind, "error", err)
	}
}

func (s *Server) publishTimeout() time.Duration {
	if s.cfg.WriteTimeout > 0 {
		return s.cfg.WriteTimeout
	}
	return 5 * time.Second
}

// DeliverRemote fans out an envelope received from another relay instance.
// Nothing is excluded and nothing is re-published.
func (s *Server) DeliverRemote(conversationID string, scope protocol.Scope, env protocol.Envelope) int {
	if scope == protocol.ScopeAll {
		return s.hub.BroadcastAll(env, "")
	}
	return s.hub.Broadcast(conversationID, env, "")
}

// SessionCount returns the number of live sockets, bound or not.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops accepting sessions and closes every live one.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	s.wg.Wait()

	s.logger.Info("relay closed", "sessions", len(sessions))
}
