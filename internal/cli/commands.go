// Package cli implements the simfs command line.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajaxzhan/simfs/internal/app"
	"github.com/ajaxzhan/simfs/internal/config"
	"github.com/ajaxzhan/simfs/internal/logging"
)

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	user       string
	logLevel   string
	backend    string
	dataPath   string

	cfg *config.Config
}

// New returns the root command.
func New() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:               "simfs",
		Short:             "A simulated multi-user filesystem with a POSIX style shell",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logging.Sync()
		},
	}

	cmd.AddCommand(shellCmd(g))
	cmd.AddCommand(runCmd(g))
	cmd.AddCommand(mountCmd(g))
	cmd.AddCommand(usersCmd(g))

	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "path to configuration file (YAML)")
	cmd.PersistentFlags().StringVarP(&g.user, "user", "u", "", "user to log in as (overrides config)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	cmd.PersistentFlags().StringVar(&g.backend, "backend", "", "storage backend: memory, file, sqlite (overrides config)")
	cmd.PersistentFlags().StringVar(&g.dataPath, "data", "", "storage path (overrides config)")
	return cmd
}

// init loads the configuration, applies flag overrides and starts logging.
func (g *globals) init() error {
	cfg, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if g.user != "" {
		cfg.Identity.LoginUser = g.user
		cfg.Mount.User = g.user
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.backend != "" {
		cfg.Storage.Backend = g.backend
	}
	if g.dataPath != "" {
		cfg.Storage.Path = g.dataPath
	}

	if err := logging.Init(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logging.Debug("Configuration loaded",
		logging.String("config", g.configPath),
		logging.String("backend", cfg.Storage.Backend),
		logging.String("storage_path", cfg.Storage.Path),
		logging.Strings("admin_groups", cfg.Shell.AdminGroups),
		logging.Int("history_limit", cfg.Shell.HistoryLimit))
	g.cfg = cfg
	return nil
}

// open starts an app instance for one command invocation.
func (g *globals) open(ctx context.Context, opts ...app.Option) (*app.App, error) {
	if err := ensureStorageDir(g.cfg); err != nil {
		return nil, err
	}
	return app.New(ctx, g.cfg, opts...)
}
