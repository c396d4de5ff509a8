// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: original_source/ormos/src/main.rs (config -> listeners ->
// block-until-fatal startup sequence) and spec.md §4.E/§5.

// Package rpx wires a validated [config.Config] into a running proxy: it
// composes the resolver pipeline, binds every configured listener, and
// blocks until the context is cancelled or a listener reports a fatal
// accept error.
package rpx

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/lainera/rpx/internal/config"
	"github.com/lainera/rpx/internal/forwarder"
	"github.com/lainera/rpx/internal/listener"
	"github.com/lainera/rpx/internal/parser"
	"github.com/lainera/rpx/internal/resolver"
)

// Serve runs the proxy described by cfg until ctx is cancelled or a
// listener stops accepting. It returns nil on a clean, context-driven
// shutdown and a non-nil error if any listener failed to bind or a
// running accept loop died.
//
// logger is optional; pass nil to discard all proxy logging.
func Serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pipeline := resolver.NewPipeline(resolver.Compose(cfg.Build))
	newForwarder := func(kinds []parser.Kind) *forwarder.Forwarder {
		return forwarder.New(kinds, pipeline, nil, logger)
	}

	sup := listener.New(cfg.Listeners, newForwarder, logger)
	fatal, err := sup.Start(ctx)
	if err != nil {
		return fmt.Errorf("rpx: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-fatal:
		return fmt.Errorf("rpx: %w", err)
	}
}
