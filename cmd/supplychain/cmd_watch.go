// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/supplychain/services/bandit/experiment"
	"github.com/AleutianAI/supplychain/services/bandit/telemetry"
)

// errWatchNeedsConfig is returned by watch without --config.
var errWatchNeedsConfig = errors.New("watch needs a config file: pass --config")

func newWatchCmd(opts *cliOptions) *cobra.Command {
	var (
		debounce time.Duration
		noTable  bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rerun the experiment whenever the config file changes",
		Long: `watch runs the experiment once, then again after every saved change to
the --config file. A change that leaves the config invalid is logged and
skipped. Interrupt to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.configPath == "" {
				return errWatchNeedsConfig
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := opts.logger.Slog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Telemetry settings are read once; later edits to them need a restart.
			shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer shutdownTelemetry(context.Background())

			watcher, err := experiment.NewConfigWatcher(opts.configPath, debounce, logger)
			if err != nil {
				return err
			}
			defer watcher.Close()

			out := cmd.OutOrStdout()
			if err := executeRun(ctx, out, nil, logger, cfg, noTable); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error("run failed", slog.String("error", err.Error()))
			}

			logger.Info("watching config", slog.String("path", watcher.Path()))
			err = watcher.Watch(ctx, func(ctx context.Context) {
				cfg, err := opts.loadConfig()
				if err != nil {
					logger.Warn("config change skipped", slog.String("error", err.Error()))
					return
				}
				logger.Info("config changed, rerunning")
				if err := executeRun(ctx, out, nil, logger, cfg, noTable); err != nil && ctx.Err() == nil {
					logger.Error("run failed", slog.String("error", err.Error()))
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", experiment.DefaultDebounce,
		"Quiet period after a change before rerunning")
	cmd.Flags().BoolVar(&noTable, "no-table", false, "Do not print the result tables")
	return cmd
}
