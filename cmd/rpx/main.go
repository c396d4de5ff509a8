// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: grafana-k6's cmd.rootCmd (cobra.Command/RunE/PersistentFlags
// binding) and spec.md §5's startup/shutdown contract.

// Command rpx runs the transparent Layer-4 reverse proxy described by a
// YAML configuration file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/lainera/rpx"
	"github.com/lainera/rpx/internal/config"
	"github.com/spf13/cobra"
)

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "rpx.yaml"
	}
	return filepath.Join(home, ".config", "rpx.yaml")
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rpx",
		Short: "Transparent Layer-4 reverse proxy",
		Long: `rpx peeks each incoming TCP connection for a TLS SNI or HTTP/1 Host
header, resolves the extracted name to a destination through a configurable
resolver pipeline, and splices the connection through without terminating
TLS or HTTP.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "file", "f", defaultConfigPath(), "path to the YAML configuration file")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath, logger)
	if err != nil {
		return fmt.Errorf("loading %s: %w", configPath, err)
	}

	for _, spec := range cfg.Listeners {
		logger.Info("listenerConfigured", "address", spec.Address)
	}

	if err := rpx.Serve(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("shutdownComplete")
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if errors.Is(err, config.ErrInvalid) {
			fmt.Fprintln(os.Stderr, "rpx: invalid configuration:", err)
		} else {
			fmt.Fprintln(os.Stderr, "rpx:", err)
		}
		os.Exit(1)
	}
}
