package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/app"
	"github.com/hyperjump/kura/internal/server"
	"github.com/hyperjump/kura/pkg/utils"
)

func newServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server and the inbox watcher",
		Args:  cobra.NoArgs,
		RunE:  runServer,
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	debug, _ := cmd.Flags().GetBool("debug")
	debug = debug || cfg.Debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	if _, err := a.Start(ctx); err != nil {
		return fmt.Errorf("rebuilding indices: %w", err)
	}
	if err := a.StartWatcher(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	opts := []server.Option{}
	if resolved != "" {
		opts = append(opts, server.WithConfigPath(resolved))
	}
	srv := server.NewServer(a, opts...)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
