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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/supplychain/services/bandit/api"
	"github.com/AleutianAI/supplychain/services/bandit/experiment"
	badgerstore "github.com/AleutianAI/supplychain/services/bandit/storage/badger"
	"github.com/AleutianAI/supplychain/services/bandit/telemetry"
)

func newServeCmd(opts *cliOptions) *cobra.Command {
	var (
		addr      string
		maxTasks  int
		rateLimit float64
		burst     int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs and accept new ones over HTTP",
		Long: `serve exposes the results API under /v1 and Prometheus metrics at
/metrics. Runs are kept in the SQLite store when output.sqlite_path is set,
otherwise in the BadgerDB store at output.badger_path, otherwise in memory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := opts.logger.Slog()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer shutdownTelemetry(context.Background())

			store, err := openStore(cfg.Output, true)
			if err != nil {
				return err
			}
			defer store.Close()

			handlers := api.NewHandlers(store, logger).
				WithMaxTasks(maxTasks).
				WithRateLimit(rateLimit, burst)
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(cfg.Telemetry.ServiceName, handlers),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("results API listening", slog.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				logger.Info("shutting down results API")
				sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(sctx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().IntVar(&maxTasks, "max-tasks", 256,
		"Reject submitted runs with more policy runs than this (0 for no limit)")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 1,
		"Run submissions admitted per second (0 for no limit)")
	cmd.Flags().IntVar(&burst, "burst", 4, "Run submissions admitted in a burst")
	return cmd
}

// openStore opens the configured run store. SQLite wins over BadgerDB. With
// neither configured an in-memory BadgerDB is used when allowMemory is set.
func openStore(out experiment.OutputConfig, allowMemory bool) (experiment.Store, error) {
	switch {
	case out.SQLitePath != "":
		return experiment.OpenSQLiteStore(out.SQLitePath)
	case out.BadgerPath != "":
		return experiment.OpenBadgerStore(out.BadgerPath)
	case allowMemory:
		db, err := badgerstore.OpenInMemory()
		if err != nil {
			return nil, err
		}
		return experiment.NewBadgerStore(db), nil
	default:
		return nil, errors.New("no run store configured: set output.sqlite_path or output.badger_path")
	}
}
