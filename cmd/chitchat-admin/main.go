// ABOUTME: Entry point for chitchat-admin, the data maintenance tool
// ABOUTME: Wires config, logging, the store handle and the maintenance coordinator into CLI commands

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/2389/chitchat/internal/config"
	"github.com/2389/chitchat/internal/maintenance"
	"github.com/2389/chitchat/internal/metrics"
	"github.com/2389/chitchat/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
      _     _ _       _           _
  ___| |__ (_) |_ ___| |__   __ _| |_
 / __| '_ \| | __/ __| '_ \ / _' | __|
| (__| | | | | || (__| | | | (_| | |_
 \___|_| |_|_|\__\___|_| |_|\__,_|\__|
`

const defaultConfigPath = "chitchat.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "chitchat-admin",
		Usage:   "Schema, backup, retention and attachment maintenance for a chitchat store",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML or TOML config file",
				EnvVars: []string{"CHITCHAT_CONFIG"},
				Value:   defaultConfigPath,
			},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			backupCommand(),
			listCommand(),
			inspectCommand(),
			restoreCommand(),
			relocateCommand(),
			reapCommand(),
			historyCommand(),
			serveCommand(),
		},
	}
}

// runtime is everything a command needs once config is loaded
type runtime struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
	handle     *store.Handle
	metrics    *metrics.Metrics
	coord      *maintenance.Coordinator
}

func setup(c *cli.Context) (*runtime, error) {
	configPath := c.String("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stderr)
	handle := store.NewHandle(cfg.Database.Path, logger)
	m := metrics.New()

	coord := maintenance.New(handle, maintenance.Options{
		AttachmentRoot:       cfg.Attachments.Root,
		DefaultRetentionDays: cfg.Retention.DefaultDays,
		Actor:                currentActor(),
	}, m, logger)

	return &runtime{
		configPath: configPath,
		cfg:        cfg,
		logger:     logger,
		handle:     handle,
		metrics:    m,
		coord:      coord,
	}, nil
}

func (r *runtime) Close() {
	if err := r.handle.Release(); err != nil {
		r.logger.Warn("closing store", "error", err)
	}
}

// withRuntime adapts a command body that needs a loaded runtime
func withRuntime(fn func(c *cli.Context, rt *runtime) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(c, rt)
	}
}

// currentActor names who is running the tool for the maintenance journal
func currentActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
