package router

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/convrelay/internal/protocol"
)

// Handlers are the callbacks a client registers for server envelopes.
// Nil callbacks are skipped.
type Handlers struct {
	OnMessage         func(protocol.Envelope)
	OnTyping          func(protocol.UserTypingPayload)
	OnMessageReceived func(protocol.MessageReceivedPayload)
	OnStatusChanged   func(protocol.StatusPayload)
	OnAgentStatus     func(protocol.AgentStatusPayload)
	OnMessageRead     func(protocol.ReadReceiptPayload)
}

// DispatchStats contains runtime statistics.
type DispatchStats struct {
	MessagesReceived int64
	MessagesRouted   int64
	ParseErrors      int64
	UnknownMessages  int64
}

// Dispatcher routes frames to Handlers. It is safe for concurrent use, but
// callbacks for one connection are invoked from a single goroutine.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers Handlers

	received    atomic.Int64
	routed      atomic.Int64
	parseErrors atomic.Int64
	unknown     atomic.Int64
}

// NewDispatcher creates a Dispatcher. Pass nil logger for default.
func NewDispatcher(h Handlers, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger.With("component", "dispatcher"),
		handlers: h,
	}
}

// SetHandlers replaces the registered callbacks.
func (d *Dispatcher) SetHandlers(h Handlers) {
	d.mu.Lock()
	d.handlers = h
	d.mu.Unlock()
}

// Route decodes one frame and invokes the matching callbacks.
func (d *Dispatcher) Route(data []byte) {
	d.received.Add(1)

	env, err := protocol.Decode(data)
	if err != nil {
		d.parseErrors.Add(1)
		d.logger.Warn("failed to decode frame", "error", err)
		return
	}

	d.mu.RLock()
	h := d.handlers
	d.mu.RUnlock()

	if h.OnMessage != nil {
		h.OnMessage(env)
	}

	var ok bool
	switch env.Kind {
	case protocol.KindUserTyping:
		ok = dispatch(d, env, h.OnTyping)
	case protocol.KindMessageReceived:
		ok = dispatch(d, env, h.OnMessageReceived)
	case protocol.KindStatusUpdated:
		ok = dispatch(d, env, h.OnStatusChanged)
	case protocol.KindAgentStatusChanged:
		ok = dispatch(d, env, h.OnAgentStatus)
	case protocol.KindMessageRead:
		ok = dispatch(d, env, h.OnMessageRead)
	default:
		d.unknown.Add(1)
		d.logger.Debug("no handler for kind", "kind", env.Kind)
		return
	}

	if ok {
		d.routed.Add(1)
	}
}

// dispatch decodes the payload and calls fn. It reports false on a payload
// mismatch.
func dispatch[T any](d *Dispatcher, env protocol.Envelope, fn func(T)) bool {
	p, err := protocol.DecodePayload[T](env)
	if err != nil {
		d.parseErrors.Add(1)
		d.logger.Warn("failed to decode payload", "kind", env.Kind, "error", err)
		return false
	}
	if fn != nil {
		fn(p)
	}
	return true
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		MessagesReceived: d.received.Load(),
		MessagesRouted:   d.routed.Load(),
		ParseErrors:      d.parseErrors.Load(),
		UnknownMessages:  d.unknown.Load(),
	}
}
