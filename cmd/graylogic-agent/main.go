// Gray Logic Agent - protocol attribute linking and polling.
//
// The agent links asset attributes to devices reachable over UDP, TCP,
// serial or MQTT, keeps their connections alive, polls devices that do not
// push updates, and publishes attribute updates and connection status to
// MQTT, SQLite history, InfluxDB and WebSocket clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-agent/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/agent.yaml"

// configEnv overrides the default configuration path.
const configEnv = "GRAYLOGIC_AGENT_CONFIG"

func main() {
	configPath := flag.String("config", getConfigPath(), "path to the YAML or TOML configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("graylogic-agent %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run loads the configuration, starts every component and blocks until ctx
// is cancelled. Components shut down in reverse start order.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Gray Logic Agent",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"agent_id", cfg.Agent.ID,
		"protocols", len(cfg.Protocols),
		"links", len(cfg.Links),
	)
	log.Debug("effective configuration", "config", cfg.String())

	a := &agent{cfg: cfg, log: log}
	defer a.shutdown()

	if err := a.start(ctx); err != nil {
		return err
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := a.wait(); err != nil {
		return err
	}
	log.Info("Gray Logic Agent stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_AGENT_CONFIG if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv(configEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
