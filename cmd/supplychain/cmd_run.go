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
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/supplychain/services/bandit/experiment"
	"github.com/AleutianAI/supplychain/services/bandit/telemetry"
)

// runFlags override config values when set.
type runFlags struct {
	metricsAddr string
	trials      int
	workers     int
	label       string
	outputDir   string
	noTable     bool
	progress    bool
}

func newRunCmd(opts *cliOptions) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an experiment and write its results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("trials") {
				cfg.Trials = flags.trials
			}
			if cmd.Flags().Changed("workers") {
				cfg.Workers = flags.workers
			}
			if flags.label != "" {
				cfg.Output.Label = flags.label
			}
			if flags.outputDir != "" {
				cfg.Output.Dir = flags.outputDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runExperiment(cmd, opts.logger.Slog(), cfg, flags)
		},
	}
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "",
		"Serve Prometheus metrics on this address while the run is in progress (e.g. :9090)")
	cmd.Flags().IntVar(&flags.trials, "trials", 0, "Override the number of trials")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "Override the number of parallel policy runs")
	cmd.Flags().StringVar(&flags.label, "label", "", "Override the output label")
	cmd.Flags().StringVarP(&flags.outputDir, "output", "o", "", "Override the output directory")
	cmd.Flags().BoolVar(&flags.noTable, "no-table", false, "Do not print the result tables")
	cmd.Flags().BoolVar(&flags.progress, "progress", false, "Draw a progress bar on stderr while running")
	return cmd
}

func runExperiment(cmd *cobra.Command, logger *slog.Logger, cfg experiment.Config, flags *runFlags) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := shutdownTelemetry(sctx); serr != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", serr.Error()))
		}
	}()

	if flags.metricsAddr != "" {
		stopMetrics, err := serveMetrics(flags.metricsAddr, logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	var progressOut io.Writer
	if flags.progress {
		progressOut = cmd.ErrOrStderr()
	}
	return executeRun(ctx, cmd.OutOrStdout(), progressOut, logger, cfg, flags.noTable)
}

// executeRun runs one experiment, saves it and reports it on out. A non-nil
// progressOut receives a progress bar while the run executes.
func executeRun(ctx context.Context, out, progressOut io.Writer, logger *slog.Logger, cfg experiment.Config, noTable bool) error {
	runner, err := experiment.NewRunner(cfg, logger)
	if err != nil {
		return err
	}
	var bar *progressReporter
	if progressOut != nil {
		bar = startProgress(ctx, progressOut, len(cfg.Modes)*len(cfg.Sweep.Values())*len(cfg.Policies))
		runner.OnResult(bar.report)
	}
	run, err := runner.Run(ctx)
	if bar != nil {
		bar.finish()
	}
	if err != nil {
		return fmt.Errorf("running experiment: %w", err)
	}

	if err := saveRun(ctx, cfg.Output, run, logger); err != nil {
		return err
	}

	if !noTable {
		printTables(out, run)
	}
	fmt.Fprintf(out, "Run %s finished: %d results in %s\n",
		run.ID, len(run.Results), run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	return nil
}

// saveRun writes run to every configured sink. All sinks are attempted.
func saveRun(ctx context.Context, out experiment.OutputConfig, run *experiment.Run, logger *slog.Logger) error {
	var errs []error

	var files []string
	if out.TSV {
		written, err := experiment.WriteTSV(out.Dir, run)
		if err != nil {
			errs = append(errs, err)
		} else {
			files = written
			logger.Info("results written", slog.Any("files", files))
		}
	}
	if out.BadgerPath != "" {
		errs = append(errs, saveTo(ctx, "badger", run, logger, func() (experiment.Store, error) {
			return experiment.OpenBadgerStore(out.BadgerPath)
		}))
	}
	if out.SQLitePath != "" {
		errs = append(errs, saveTo(ctx, "sqlite", run, logger, func() (experiment.Store, error) {
			return experiment.OpenSQLiteStore(out.SQLitePath)
		}))
	}
	if out.Influx.Enabled() {
		errs = append(errs, writeInflux(ctx, out.Influx, run, logger))
	}
	if out.GCS.Enabled() && len(files) > 0 {
		errs = append(errs, archiveGCS(ctx, out.GCS, run, files, logger))
	}
	return errors.Join(errs...)
}

func writeInflux(ctx context.Context, cfg experiment.InfluxConfig, run *experiment.Run, logger *slog.Logger) error {
	sink, err := experiment.NewInfluxSink(cfg)
	if err != nil {
		return err
	}
	defer sink.Close()
	if err := sink.Write(ctx, run); err != nil {
		return err
	}
	logger.Info("results sent to influxdb", slog.String("bucket", cfg.Bucket), slog.Int("points", len(run.Results)))
	return nil
}

func archiveGCS(ctx context.Context, cfg experiment.GCSConfig, run *experiment.Run, files []string, logger *slog.Logger) error {
	archive, err := experiment.NewGCSArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer archive.Close()
	objects, err := archive.Upload(ctx, run, files)
	if err != nil {
		return err
	}
	logger.Info("results archived", slog.String("bucket", cfg.Bucket), slog.Any("objects", objects))
	return nil
}

func saveTo(ctx context.Context, name string, run *experiment.Run, logger *slog.Logger, open func() (experiment.Store, error)) error {
	store, err := open()
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	saveErr := store.Save(ctx, run)
	closeErr := store.Close()
	if saveErr != nil {
		return fmt.Errorf("%s: save run: %w", name, saveErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%s: close: %w", name, closeErr)
	}
	logger.Info("run stored", slog.String("store", name), slog.String("run_id", run.ID))
	return nil
}

func printTables(w io.Writer, run *experiment.Run) {
	color := experiment.IsTerminal(w)
	for _, mode := range run.Modes {
		fmt.Fprintln(w, experiment.RenderTable(run, mode, color))
	}
}

// serveMetrics exposes /metrics on addr until the returned func is called.
func serveMetrics(addr string, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
