// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sgreports-dev/sgreports/internal/config"
	"github.com/sgreports-dev/sgreports/internal/logging"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sgreports agent server",
		Long:  "Load configuration, open the stores, register providers and serve the chat API until interrupted.",
		RunE:  runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, path, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	logging.Setup(cfg.Logging, cmd.ErrOrStderr())
	if path != "" {
		config.WarnInsecurePermissions(path)
		slog.Info("loaded config", "path", path)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := Wire(ctx, cfg)
	if err != nil {
		return err
	}

	serveErr := app.Server.Start(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}

	return serveErr
}
