// Package cli implements the rconsole command tree.
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/db"
	"github.com/energizer-project/rconsole/internal/dispatch"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/util"
)

// app holds the components shared by every subcommand.
type app struct {
	configPath string
	envFile    string
	logLevel   string

	cfg        *config.Config
	bus        *events.EventBus
	history    *db.HistoryStore
	dispatcher *dispatch.Dispatcher
}

// NewRootCommand builds the command tree.
func NewRootCommand(version string) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "rconsole",
		Short:         "Remote console for Source RCON servers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c",
		filepath.Join(config.DefaultConfigDir, config.DefaultConfigFile),
		"config file (.json, .yaml or .toml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newExecCommand(a),
		newConsoleCommand(a),
		newServersCommand(a),
		newHistoryCommand(a),
		newCheckCommand(a),
		newServeCommand(a, version),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	if err := config.LoadEnv(a.envFile); err != nil {
		return err
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	if err := util.InitLogger(util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    cfg.Logging.Console,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return fmt.Errorf("invalid configuration %s: %w", cfg.Path(), validation.Err())
	}

	a.cfg = cfg
	a.bus = events.NewEventBus()

	if cfg.History.Enabled {
		hs, err := db.NewHistoryStore(cfg.History.Path)
		if err != nil {
			return err
		}
		hs.Subscribe(a.bus)
		a.history = hs
	}

	a.dispatcher = dispatch.New(cfg, a.bus)
	return nil
}

// run wraps a RunE so the app is closed even when the command fails.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := a.close(); err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args)
	}
}

// close drains the bus before closing history so every event is recorded.
func (a *app) close() error {
	if a.bus != nil {
		a.bus.Stop()
	}
	if a.history != nil {
		return a.history.Close()
	}
	return nil
}
