package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rickgao/convrelay/internal/protocol"
)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	fired   bool
	stopped bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []func()
	for _, t := range c.timers {
		if !t.fired && !t.stopped && t.at <= c.now {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()

	for _, f := range due {
		f()
	}
}

// Pending returns the number of armed timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// fakeClient is an in-memory transport.
type fakeClient struct {
	mu       sync.Mutex
	sent     [][]byte
	sendErr  error
	failAt   int           // 1-based write that fails once, 0 for never
	writes   int
	block    chan struct{} // when set, Send waits for a value or Close
	sending  chan struct{} // signalled when a blocked Send starts waiting
	closed   bool
	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}
	doneOnce sync.Once
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		messages: make(chan TimestampedMessage, 16),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (c *fakeClient) Connect(context.Context) error { return nil }

func (c *fakeClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeClient) Send(data []byte) error {
	c.mu.Lock()
	block, sending := c.block, c.sending
	c.mu.Unlock()
	if block != nil {
		if sending != nil {
			sending <- struct{}{}
		}
		select {
		case <-block:
		case <-c.done:
			return ErrNotConnected
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.writes++
	if c.writes == c.failAt {
		return errors.New("write: broken pipe")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeClient) Messages() <-chan TimestampedMessage { return c.messages }
func (c *fakeClient) Errors() <-chan error                { return c.errors }
func (c *fakeClient) Done() <-chan struct{}               { return c.done }

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// fail simulates the transport dropping.
func (c *fakeClient) fail(err error) {
	select {
	case c.errors <- err:
	default:
	}
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *fakeClient) deliver(frame string) {
	c.messages <- TimestampedMessage{Data: []byte(frame), ReceivedAt: time.Now()}
}

func (c *fakeClient) setSendErr(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// stall makes later writes wait until Close. The returned channel receives
// once per write that starts waiting.
func (c *fakeClient) stall() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block = make(chan struct{})
	c.sending = make(chan struct{}, 1)
	return c.sending
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// sentEnvelopes decodes every frame written so far.
func (c *fakeClient) sentEnvelopes() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(c.sent))
	for _, data := range c.sent {
		env, err := protocol.Decode(data)
		if err == nil {
			out = append(out, env)
		}
	}
	return out
}

// fakeDialer hands out fakeClients. When gate is set, each dial waits for a
// value on it. onDial may prepare each client before it is returned.
type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	clients []*fakeClient
	err     error
	gate    chan struct{}
	onDial  func(n int, c *fakeClient)
}

func (d *fakeDialer) dial(ctx context.Context) (Client, error) {
	if d.gate != nil {
		<-d.gate
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeClient()
	if d.onDial != nil {
		d.onDial(d.dials, c)
	}
	d.clients = append(d.clients, c)
	return c, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) == 0 {
		return nil
	}
	return d.clients[len(d.clients)-1]
}
