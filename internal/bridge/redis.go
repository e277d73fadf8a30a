package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/convrelay/internal/metrics"
	"github.com/rickgao/convrelay/internal/protocol"
)

// DefaultChannel is the Pub/Sub channel used when none is configured.
const DefaultChannel = "convrelay:envelopes"

// ErrAlreadyRunning is returned when Run is called twice.
var ErrAlreadyRunning = errors.New("bridge subscription already running")

// Frame is the Pub/Sub message body.
type Frame struct {
	Origin         string            `json:"origin"`
	ConversationID string            `json:"conversationId"`
	Scope          string            `json:"scope"`
	Envelope       protocol.Envelope `json:"envelope"`
}

// DeliverFunc hands a remote envelope to the local hub.
type DeliverFunc func(conversationID string, scope protocol.Scope, env protocol.Envelope) int

// Config configures the Redis bridge.
type Config struct {
	URL     string // redis://[:password@]host:port/db
	Channel string
}

// RedisBridge publishes and receives envelopes over Redis Pub/Sub.
type RedisBridge struct {
	client     *redis.Client
	ownsClient bool
	channel    string
	instanceID string
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, instanceID string, logger *slog.Logger) (*RedisBridge, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	b := NewWithClient(client, cfg.Channel, instanceID, logger)
	b.ownsClient = true
	return b, nil
}

// NewWithClient creates a bridge on an existing client. The caller keeps
// ownership of the client.
func NewWithClient(client *redis.Client, channel, instanceID string, logger *slog.Logger) *RedisBridge {
	if logger == nil {
		logger = slog.Default()
	}
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBridge{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		logger:     logger.With("component", "bridge", "instance_id", instanceID),
	}
}

// Channel returns the Pub/Sub channel name.
func (b *RedisBridge) Channel() string { return b.channel }

// Publish sends env to every other instance.
func (b *RedisBridge) Publish(ctx context.Context, conversationID string, scope protocol.Scope, env protocol.Envelope) error {
	data, err := EncodeFrame(Frame{
		Origin:         b.instanceID,
		ConversationID: conversationID,
		Scope:          scope.String(),
		Envelope:       env,
	})
	if err != nil {
		return err
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", b.channel, err)
	}

	metrics.BridgePublished.Inc()
	return nil
}

// Run subscribes and delivers remote frames until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context, deliver DeliverFunc) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	b.running = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
	}()

	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.channel, err)
	}

	b.logger.Info("bridge subscribed", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				b.logger.Warn("bridge channel closed")
				return nil
			}
			b.handle([]byte(msg.Payload), deliver)
		}
	}
}

// handle delivers one Pub/Sub payload. It reports whether the frame was
// delivered locally.
func (b *RedisBridge) handle(payload []byte, deliver DeliverFunc) bool {
	frame, scope, err := DecodeFrame(payload)
	if err != nil {
		b.logger.Warn("dropping bridge frame", "error", err)
		return false
	}
	if frame.Origin == b.instanceID {
		return false
	}

	metrics.BridgeReceived.Inc()
	n := deliver(frame.ConversationID, scope, frame.Envelope)

	b.logger.Debug("bridge frame delivered",
		"origin", frame.Origin,
		"conversation_id", frame.ConversationID,
		"kind", frame.Envelope.Kind,
		"delivered", n,
	)
	return true
}

// Ping checks the Redis connection.
func (b *RedisBridge) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the client if the bridge created it.
func (b *RedisBridge) Close() error {
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}

// EncodeFrame marshals a frame for publishing.
func EncodeFrame(f Frame) ([]byte, error) {
	if f.Envelope.Kind == "" {
		return nil, fmt.Errorf("%w: empty kind", protocol.ErrMalformed)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal bridge frame: %w", err)
	}
	return data, nil
}

// DecodeFrame parses a published frame and its scope.
func DecodeFrame(data []byte) (Frame, protocol.Scope, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, protocol.ScopeRoom, fmt.Errorf("unmarshal bridge frame: %w", err)
	}
	if f.Envelope.Kind == "" {
		return Frame{}, protocol.ScopeRoom, fmt.Errorf("%w: bridge frame without envelope kind", protocol.ErrMalformed)
	}

	switch f.Scope {
	case "all":
		return f, protocol.ScopeAll, nil
	case "room", "":
		if f.ConversationID == "" {
			return Frame{}, protocol.ScopeRoom, fmt.Errorf("%w: room frame without conversation", protocol.ErrMalformed)
		}
		return f, protocol.ScopeRoom, nil
	}
	return Frame{}, protocol.ScopeRoom, fmt.Errorf("%w: unknown scope %q", protocol.ErrMalformed, f.Scope)
}
