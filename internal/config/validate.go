package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the settings relayd needs.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path must start with /, got %q", c.Server.WSPath)
	}
	if c.Server.SendQueueSize < 1 {
		return errors.New("server.send_queue_size must be >= 1")
	}
	if c.Server.ReadLimit < 0 {
		return errors.New("server.read_limit must be >= 0")
	}
	if c.Server.PingInterval > 0 && c.Server.PongWait > 0 && c.Server.PongWait <= c.Server.PingInterval {
		return fmt.Errorf("server.pong_wait (%v) must exceed server.ping_interval (%v)", c.Server.PongWait, c.Server.PingInterval)
	}

	if c.Auth.Secret != "" && (c.Auth.PublicKeyPath != "" || c.Auth.PrivateKeyPath != "") {
		return errors.New("auth.secret cannot be combined with RSA key paths")
	}

	if c.Database.Enabled {
		if err := c.Database.Access.validate("database.access"); err != nil {
			return err
		}
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return errors.New("redis.url is required when redis is enabled")
	}

	if err := c.Logging.validate(); err != nil {
		return err
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}
	if c.Metrics.Path == c.Server.WSPath {
		return errors.New("metrics.path cannot equal server.ws_path")
	}

	return nil
}

// ValidateClient checks the settings a relay client needs.
func (c *Config) ValidateClient() error {
	if c.Client.URL == "" {
		return errors.New("client.url is required")
	}
	if c.Client.AgentID == "" && c.Client.UserID == "" {
		return errors.New("client.agent_id is required")
	}
	if c.Client.ConversationID == "" {
		return errors.New("client.conversation_id is required")
	}
	if c.Client.ReconnectDelay <= 0 {
		return errors.New("client.reconnect_delay must be > 0")
	}
	if c.Client.OutboxSize < 0 {
		return errors.New("client.outbox_size must be >= 0")
	}
	switch c.Client.OutboxPolicy {
	case "drop-newest", "drop-oldest":
	default:
		return fmt.Errorf("client.outbox_policy must be drop-newest or drop-oldest, got %q", c.Client.OutboxPolicy)
	}
	return c.Logging.validate()
}

func (l LoggingConfig) validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", l.Format)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
