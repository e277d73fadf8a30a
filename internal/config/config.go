package config

import "time"

// Config is the root configuration for a relay instance and its clients.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Client   ClientConfig   `yaml:"client"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// InstanceConfig identifies this relay. The id tags bridge frames.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds HTTP and websocket settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	WSPath          string        `yaml:"ws_path"`
	SendQueueSize   int           `yaml:"send_queue_size"`
	ReadLimit       int64         `yaml:"read_limit"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongWait        time.Duration `yaml:"pong_wait"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	DisablePresence bool          `yaml:"disable_presence"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig configures upgrade token verification. With neither a secret
// nor a key path set, upgrades are not authenticated.
type AuthConfig struct {
	Secret         string        `yaml:"secret"`           // HS256 shared secret
	PublicKeyPath  string        `yaml:"public_key_path"`  // RS256 verification key
	PrivateKeyPath string        `yaml:"private_key_path"` // RS256 signing key (token issuing)
	Issuer         string        `yaml:"issuer"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
}

// Enabled reports whether tokens are required.
func (a AuthConfig) Enabled() bool {
	return a.Secret != "" || a.PublicKeyPath != "" || a.PrivateKeyPath != ""
}

// DatabaseConfig holds the optional conversation access database.
type DatabaseConfig struct {
	Enabled bool     `yaml:"enabled"`
	Access  DBConfig `yaml:"access"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds the optional cross-instance bridge.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// ClientConfig holds settings for relay clients.
type ClientConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	AgentID        string        `yaml:"agent_id"`
	UserID         string        `yaml:"user_id"`
	ConversationID string        `yaml:"conversation_id"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	OutboxSize     int           `yaml:"outbox_size"`
	OutboxPolicy   string        `yaml:"outbox_policy"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Path string `yaml:"path"`
}
