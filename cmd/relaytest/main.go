// relaytest joins a conversation on a relay and prints every event it
// receives. Lines typed on stdin are sent as events; see usage below.
//
// Usage: go run ./cmd/relaytest --agent agent-1 --conversation conv-1 [--config configs/relaytest.yaml]
//
// A token is minted locally when the config carries an auth secret or
// private key and no client token is set.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/convrelay/internal/config"
	"github.com/rickgao/convrelay/internal/connection"
)

const usage = `commands:
  /typing on|off [name]   send a typing indicator
  /status <status>        change the conversation status
  /read <message-id>      mark a message as read
  /agent <status> [name]  announce agent presence
  /stats                  print connection statistics
  <text>                  announce a message with this text`

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	url := flag.String("url", "", "relay websocket URL (overrides client.url)")
	agent := flag.String("agent", "", "agent id (overrides client.agent_id)")
	conversation := flag.String("conversation", "", "conversation id (overrides client.conversation_id)")
	token := flag.String("token", "", "bearer token (overrides client.token)")
	verbose := flag.Bool("verbose", false, "print full envelope JSON")
	flag.Parse()

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	applyFlags(&cfg.Client, *url, *agent, *conversation, *token)

	logger := cfg.Logging.NewLogger(os.Stderr)

	if err := cfg.ValidateClient(); err != nil {
		logger.Error("invalid client config", "error", err)
		os.Exit(1)
	}

	if cfg.Client.Token == "" && cfg.Auth.Enabled() {
		minted, err := mintToken(cfg)
		if err != nil {
			logger.Error("failed to mint token", "error", err)
			os.Exit(1)
		}
		cfg.Client.Token = minted
		logger.Info("minted token", "agent_id", cfg.Client.AgentID, "ttl", cfg.Auth.TokenTTL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	mgr := connection.NewManager(managerConfig(cfg.Client), printHandlers(os.Stdout, *verbose), logger)
	logger.Info("connecting",
		"url", cfg.Client.URL,
		"agent_id", cfg.Client.AgentID,
		"conversation_id", cfg.Client.ConversationID,
	)
	mgr.Connect()

	// Stats printer
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logStats(logger, mgr.Stats())
			}
		}
	}()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	fmt.Fprintln(os.Stderr, usage)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if line == "/stats" {
				logStats(logger, mgr.Stats())
				continue
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			if cmd == nil {
				continue
			}
			if !cmd(mgr) {
				logger.Warn("event not sent", "state", mgr.State())
			}
		}
	}

	logger.Info("shutting down...")
	mgr.Close()
	logStats(logger, mgr.Stats())
}

func logStats(logger *slog.Logger, s connection.ManagerStats) {
	logger.Info("stats",
		"state", s.State,
		"reconnects", s.Reconnects,
		"sent", s.Sent,
		"dropped", s.Dropped,
		"queued", s.Queued,
		"outbox_dropped", s.Outbox.TotalDropped,
		"outbox_flushed", s.Outbox.TotalSent,
		"received", s.Dispatch.MessagesReceived,
		"routed", s.Dispatch.MessagesRouted,
		"parse_errors", s.Dispatch.ParseErrors,
		"unknown", s.Dispatch.UnknownMessages,
	)
}
