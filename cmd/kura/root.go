package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/app"
	"github.com/hyperjump/kura/internal/cli"
	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/pkg/utils"
)

const defaultConfigPath = "/usr/local/etc/kura/config.yaml"

// NewRootCmd creates the root kura command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kura",
		Short:         "kura - semantic knowledge store with cross-silo correlation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", defaultConfigPath, "config file path")
	root.PersistentFlags().String("server", "", "server URL; empty opens the store directly")
	root.PersistentFlags().StringP("output", "o", "text", "output format: text or json")
	root.PersistentFlags().Bool("debug", false, "enable debug logging")

	root.AddCommand(
		newServerCmd(),
		newAddCmd(),
		newIndexCmd(),
		newGetCmd(),
		newDeleteCmd(),
		newRecordCmd(),
		newClearCmd(),
		newSearchCmd(),
		newCrossSearchCmd(),
		newRecommendCmd(),
		newAnalyzeCmd(),
		newStatsCmd(),
		newStatusCmd(),
		newPatternsCmd(),
		newRebuildCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if present, so "kura server" from a project dir uses that
// project's config. A missing default file yields built-in defaults.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// session is an opened store plus the output settings of one command invocation.
type session struct {
	app        *app.App
	logger     *zap.Logger
	format     cli.OutputFormat
	configPath string
}

func (s *session) Close() {
	if err := s.app.Close(); err != nil {
		s.logger.Warn("close failed", zap.Error(err))
	}
	_ = s.logger.Sync()
}

// openSession loads config and opens the store. When rebuild is set, derived indices
// are rebuilt first so correlation and pattern queries see every stored document.
func openSession(cmd *cobra.Command, rebuild bool) (*session, error) {
	format, err := outputFormat(cmd)
	if err != nil {
		return nil, err
	}
	path, _ := cmd.Flags().GetString("config")
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	// Commands stay quiet unless debugging; the server logs at info.
	logger := zap.NewNop()
	if debug, _ := cmd.Flags().GetBool("debug"); debug || cfg.Debug {
		if logger, err = utils.NewLogger(true); err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
	}

	ctx := commandContext(cmd)
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if rebuild {
		if _, err := a.Start(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("rebuilding indices: %w", err)
		}
	}
	return &session{app: a, logger: logger, format: format, configPath: resolved}, nil
}

func outputFormat(cmd *cobra.Command) (cli.OutputFormat, error) {
	s, _ := cmd.Flags().GetString("output")
	return cli.ParseFormat(s)
}

// remote returns a client for --server, or nil when the store is opened directly.
func remote(cmd *cobra.Command) *apiClient {
	url, _ := cmd.Flags().GetString("server")
	if url == "" {
		return nil
	}
	return newAPIClient(url)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "kura version %s\n", version)
			return err
		},
	}
}
