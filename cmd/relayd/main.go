// relayd runs the conversation relay: it accepts websocket clients, groups
// them by conversation, and fans events out to each room.
//
// Usage: relayd --config configs/relayd.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/convrelay/internal/api"
	"github.com/rickgao/convrelay/internal/auth"
	"github.com/rickgao/convrelay/internal/bridge"
	"github.com/rickgao/convrelay/internal/config"
	"github.com/rickgao/convrelay/internal/database"
	"github.com/rickgao/convrelay/internal/relay"
	"github.com/rickgao/convrelay/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty = defaults)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	logger.Info("starting relayd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("relayd failed", "error", err)
		os.Exit(1)
	}
	logger.Info("relayd stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	checks := make(map[string]api.CheckFunc)

	verifier, err := buildVerifier(cfg.Auth)
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}
	if verifier == nil {
		logger.Warn("auth disabled, upgrades are not authenticated")
	}

	var authz auth.Authorizer = auth.AllowAll{}
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Access.Host,
			"port", cfg.Database.Access.Port,
			"database", cfg.Database.Access.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Access)
		if err != nil {
			return fmt.Errorf("connect access database: %w", err)
		}
		defer pool.Close()

		store := database.NewAccessStore(pool, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		authz = store
		checks["postgres"] = pool.Ping
		logger.Info("database connected")
	}

	hub := relay.NewHub(logger, relay.WithPresence(!cfg.Server.DisablePresence))

	var (
		serverOpts []relay.ServerOption
		rb         *bridge.RedisBridge
	)
	if cfg.Redis.Enabled {
		rb, err = bridge.New(ctx, bridge.Config{URL: cfg.Redis.URL, Channel: cfg.Redis.Channel}, cfg.Instance.ID, logger)
		if err != nil {
			return fmt.Errorf("start redis bridge: %w", err)
		}
		defer rb.Close()
		serverOpts = append(serverOpts, relay.WithBridge(rb))
		checks["redis"] = rb.Ping
		logger.Info("redis bridge connected", "channel", rb.Channel())
	}

	srv := relay.NewServer(hub, serverConfig(cfg.Server), logger, serverOpts...)

	httpServer := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(api.RouterConfig{
			Server:      srv,
			InstanceID:  cfg.Instance.ID,
			WSPath:      cfg.Server.WSPath,
			MetricsPath: cfg.Metrics.Path,
			Guard:       auth.Guard(verifier, authz, logger),
			Checks:      checks,
			CORSOrigins: cfg.Server.AllowedOrigins,
			Logger:      logger,
		}),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening",
			"addr", cfg.Server.Addr,
			"ws_path", cfg.Server.WSPath,
			"metrics_path", cfg.Metrics.Path,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if rb != nil {
		g.Go(func() error {
			return rb.Run(gctx, srv.DeliverRemote)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		// Hijacked websocket connections are not tracked by Shutdown.
		srv.Close()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
