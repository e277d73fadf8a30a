package connection

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/convrelay/internal/metrics"
	"github.com/rickgao/convrelay/internal/protocol"
	"github.com/rickgao/convrelay/internal/router"
)

// DialFunc opens a connected transport.
type DialFunc func(ctx context.Context) (Client, error)

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State      string
	Reconnects int64
	Sent       int64
	Dropped    int64
	Queued     int
	Outbox     OutboxStats // zero when no outbox is configured
	Dispatch   router.DispatchStats
}

// Manager keeps one authenticated connection to the relay alive.
//
// State machine:
//
//	Disconnected --Connect--> Connecting --open+auth--> Open
//	Connecting/Open --error/close--> Disconnected (+ one reconnect timer)
//	any --Close--> Closing (terminal)
type Manager struct {
	cfg        ManagerConfig
	logger     *slog.Logger
	dial       DialFunc
	clock      Clock
	dispatcher *router.Dispatcher
	outbox     *Outbox[[]byte] // nil when OutboxSize is 0

	mu        sync.Mutex
	state     State
	client    Client // set once Open
	handshake Client // transport between dial and Open
	gen       uint64 // bumped by every Connect and by Close
	timer     Timer
	timerSeq  uint64

	reconnects atomic.Int64
	sent       atomic.Int64
	dropped    atomic.Int64
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDialer replaces the websocket dialer.
func WithDialer(dial DialFunc) ManagerOption {
	return func(m *Manager) {
		m.dial = dial
	}
}

// WithClock replaces the clock used for reconnect timers.
func WithClock(c Clock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// NewManager creates a Manager in the Disconnected state. Call Connect to
// start it. Pass nil logger for default.
func NewManager(cfg ManagerConfig, handlers router.Handlers, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserID == "" {
		cfg.UserID = cfg.AgentID
	}

	m := &Manager{
		cfg:        cfg,
		logger:     logger.With("component", "connection"),
		clock:      realClock{},
		dispatcher: router.NewDispatcher(handlers, logger),
	}
	m.dial = m.dialWebsocket
	if cfg.OutboxSize > 0 {
		m.outbox = NewOutbox[[]byte](cfg.OutboxSize, cfg.OutboxPolicy)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) dialWebsocket(ctx context.Context) (Client, error) {
	c := NewClient(m.cfg.Client, m.logger)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// SetHandlers replaces the callbacks for inbound envelopes.
func (m *Manager) SetHandlers(h router.Handlers) {
	m.dispatcher.SetHandlers(h)
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the manager is Open.
func (m *Manager) IsConnected() bool {
	return m.State() == StateOpen
}

// Connect starts a dial unless one is in progress, the connection is open or
// the manager is closed. It returns immediately.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}

	m.stopTimerLocked()
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.logger.Debug("connecting", "url", m.cfg.Client.URL, "attempt", gen)

	go m.dialAttempt(gen)
}

func (m *Manager) dialAttempt(gen uint64) {
	ctx := context.Background()
	if m.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()
	}

	c, err := m.dial(ctx)

	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		// Superseded by Close or a newer attempt
		m.mu.Unlock()
		if c != nil {
			c.Close()
		}
		return
	}

	if err != nil {
		m.state = StateDisconnected
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		m.logger.Warn("connect failed", "url", m.cfg.Client.URL, "error", err)
		return
	}
	m.handshake = c
	m.mu.Unlock()

	auth, _ := protocol.New(protocol.KindAuth, protocol.AuthPayload{
		UserID:         m.cfg.UserID,
		ConversationID: m.cfg.ConversationID,
		AgentID:        m.cfg.AgentID,
	})
	data, _ := protocol.Encode(auth)
	if err := c.Send(data); err != nil {
		m.abortHandshake(c, gen, "auth handshake failed", err)
		return
	}

	flushed, ok := m.flushOutbox(c, gen)
	if !ok {
		return
	}

	m.logger.Info("connected",
		"conversation_id", m.cfg.ConversationID,
		"agent_id", m.cfg.AgentID,
		"flushed", flushed,
	)

	go m.readLoop(c)
}

// flushOutbox sends queued frames after auth, oldest first, then moves the
// manager to Open. The manager stays Connecting while it runs, so concurrent
// Sends queue behind the backlog. A frame leaves the outbox only once written.
func (m *Manager) flushOutbox(c Client, gen uint64) (int, bool) {
	n := 0
	for {
		m.mu.Lock()
		if gen != m.gen || m.state != StateConnecting {
			m.mu.Unlock()
			c.Close()
			return n, false
		}

		var (
			data   []byte
			ticket uint64
			queued bool
		)
		if m.outbox != nil {
			data, ticket, queued = m.outbox.Peek()
		}
		if !queued {
			m.handshake = nil
			m.client = c
			m.state = StateOpen
			m.mu.Unlock()
			return n, true
		}
		m.mu.Unlock()

		if err := c.Send(data); err != nil {
			m.abortHandshake(c, gen, "outbox flush interrupted", err)
			return n, false
		}
		m.outbox.Commit(ticket)
		m.sent.Add(1)
		n++
	}
}

// abortHandshake drops a transport that failed before reaching Open.
func (m *Manager) abortHandshake(c Client, gen uint64, msg string, err error) {
	m.mu.Lock()
	if gen == m.gen && m.state == StateConnecting {
		m.handshake = nil
		m.state = StateDisconnected
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	c.Close()
	m.logger.Warn(msg, "error", err)
}

// readLoop dispatches frames until the transport stops.
func (m *Manager) readLoop(c Client) {
	for {
		select {
		case msg := <-c.Messages():
			m.dispatcher.Route(msg.Data)
		case <-c.Done():
			// Frames read before the failure are still delivered
		drain:
			for {
				select {
				case msg := <-c.Messages():
					m.dispatcher.Route(msg.Data)
				default:
					break drain
				}
			}

			var err error = ErrNotConnected
			select {
			case err = <-c.Errors():
			default:
			}
			m.handleDisconnect(c, err)
			return
		}
	}
}

// handleDisconnect moves an Open manager back to Disconnected and schedules
// one reconnect. Stale transports are ignored.
func (m *Manager) handleDisconnect(c Client, cause error) {
	m.mu.Lock()
	if m.client != c {
		m.mu.Unlock()
		return
	}
	m.client = nil
	if m.state == StateClosing {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.scheduleReconnectLocked()
	m.mu.Unlock()

	c.Close()
	m.logger.Warn("connection lost",
		"error", cause,
		"reconnect_in", m.cfg.ReconnectDelay,
	)
}

// scheduleReconnectLocked arms the reconnect timer unless one is pending.
func (m *Manager) scheduleReconnectLocked() {
	if m.timer != nil {
		return
	}
	m.timerSeq++
	seq := m.timerSeq
	m.timer = m.clock.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.fireReconnect(seq)
	})
}

func (m *Manager) stopTimerLocked() {
	if m.timer == nil {
		return
	}
	m.timer.Stop()
	m.timer = nil
	m.timerSeq++
}

func (m *Manager) fireReconnect(seq uint64) {
	m.mu.Lock()
	if seq != m.timerSeq || m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	m.reconnects.Add(1)
	metrics.ClientReconnects.Inc()
	m.Connect()
}

// Send transmits env when Open. Otherwise it is queued in the outbox if one
// is configured, or dropped with a warning. It reports whether env was sent
// or queued.
func (m *Manager) Send(env protocol.Envelope) bool {
	data, err := protocol.Encode(env)
	if err != nil {
		m.logger.Warn("cannot encode envelope", "kind", env.Kind, "error", err)
		return false
	}

	m.mu.Lock()
	if m.state == StateOpen && m.client != nil {
		c := m.client
		m.mu.Unlock()

		// The write runs without the lock so Close and State never wait on
		// a stalled socket.
		err := c.Send(data)
		if err == nil {
			m.sent.Add(1)
			return true
		}
		m.logger.Warn("send failed, reconnecting", "kind", env.Kind, "error", err)

		m.mu.Lock()
		if m.client == c {
			m.client = nil
			m.state = StateDisconnected
			m.scheduleReconnectLocked()
			go c.Close()
		}
	}
	defer m.mu.Unlock()

	if m.state != StateClosing && m.outbox != nil {
		if m.outbox.Push(data) {
			return true
		}
	}

	m.dropped.Add(1)
	metrics.ClientSendsDropped.Inc()
	m.logger.Warn("not connected, dropping envelope", "kind", env.Kind, "state", m.state.String())
	return false
}

// SendTyping reports whether the local agent is typing.
func (m *Manager) SendTyping(isTyping bool, agentName string) bool {
	return m.Send(protocol.Typing(isTyping, agentName))
}

// SendStatusChange announces a new conversation status.
func (m *Manager) SendStatusChange(status string) bool {
	return m.Send(protocol.StatusChanged(m.cfg.ConversationID, status, m.cfg.AgentID))
}

// MarkMessageAsRead sends a read receipt for messageID.
func (m *Manager) MarkMessageAsRead(messageID string) bool {
	return m.Send(protocol.MarkRead(m.cfg.ConversationID, messageID, m.cfg.AgentID))
}

// SendMessageNotification announces a message already stored elsewhere.
func (m *Manager) SendMessageNotification(message json.RawMessage) bool {
	env, err := protocol.MessageSent(m.cfg.ConversationID, m.cfg.AgentID, message)
	if err != nil {
		m.logger.Warn("invalid message notification", "error", err)
		return false
	}
	return m.Send(env)
}

// SendAgentStatus announces the local agent's presence to the conversation.
func (m *Manager) SendAgentStatus(status, agentName string) bool {
	return m.Send(protocol.AgentStatusChanged(m.cfg.AgentID, status, agentName))
}

// Close stops the manager for good. Pending timers are cancelled, an
// in-flight dial is discarded and the transport is closed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosing {
		m.mu.Unlock()
		return
	}
	m.state = StateClosing
	m.gen++
	m.stopTimerLocked()
	c, h := m.client, m.handshake
	m.client, m.handshake = nil, nil
	m.mu.Unlock()

	if c != nil {
		c.Close()
	}
	if h != nil {
		h.Close()
	}
	m.logger.Info("connection manager closed")
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	stats := ManagerStats{
		State:      m.State().String(),
		Reconnects: m.reconnects.Load(),
		Sent:       m.sent.Load(),
		Dropped:    m.dropped.Load(),
		Dispatch:   m.dispatcher.Stats(),
	}
	if m.outbox != nil {
		stats.Outbox = m.outbox.Stats()
		stats.Queued = stats.Outbox.Count
	}
	return stats
}
