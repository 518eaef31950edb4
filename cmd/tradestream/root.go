package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rickgao/tradestream/internal/config"
	"github.com/rickgao/tradestream/internal/version"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "tradestream",
		Short: "Resilient real-time client for the trading backend",
		Long: `tradestream keeps a websocket feed to the trading backend alive:
- reconnects with capped exponential backoff
- heartbeats and stale-connection detection
- fans events out to typed and wildcard subscribers
- optional TimescaleDB journal of every event`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "configs/tradestream.yaml", "config file path")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "override log.format (text, json)")

	root.AddCommand(newListenCommand(flags))
	root.AddCommand(newStatusCommand(flags))
	root.AddCommand(newVersionCommand())

	return root
}

// load reads and validates the config file, applying flag overrides, and
// builds the process logger from it.
func (f *globalFlags) load(out io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadWithDefaults(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("validate config: %w", err)
	}

	logger := newLogger(out, cfg.Log)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(out io.Writer, cfg config.LogConfig) *slog.Logger {
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
