package main

import (
	"github.com/rickgao/convrelay/internal/auth"
	"github.com/rickgao/convrelay/internal/config"
	"github.com/rickgao/convrelay/internal/relay"
)

func serverConfig(c config.ServerConfig) relay.ServerConfig {
	cfg := relay.DefaultServerConfig()
	cfg.SendQueueSize = c.SendQueueSize
	cfg.ReadLimit = c.ReadLimit
	cfg.WriteTimeout = c.WriteTimeout
	cfg.PingInterval = c.PingInterval
	cfg.PongWait = c.PongWait
	cfg.AllowedOrigins = c.AllowedOrigins
	return cfg
}

// buildVerifier returns nil when auth is not configured.
func buildVerifier(c config.AuthConfig) (auth.TokenVerifier, error) {
	switch {
	case c.Secret != "":
		return auth.NewHS256([]byte(c.Secret), c.Issuer), nil
	case c.PublicKeyPath != "":
		pub, err := auth.LoadPublicKey(c.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		return auth.NewRS256Verifier(pub, c.Issuer), nil
	case c.PrivateKeyPath != "":
		priv, err := auth.LoadPrivateKey(c.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		return auth.NewRS256(priv, c.Issuer), nil
	}
	return nil, nil
}
