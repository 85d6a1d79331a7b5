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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/supplychain/pkg/logging"
	"github.com/AleutianAI/supplychain/services/bandit/experiment"
)

// cliOptions holds the persistent flags and what they set up.
type cliOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
	logDir     string

	logger *logging.Logger
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "supplychain",
		Short: "Compare multi-armed bandit policies on simulated supply chains",
		Long: `supplychain builds trees of agents and leaf suppliers, lets a bandit
policy drive the root agent's budget and reports the mean service time of
every policy across a sweep of noise scales or budgets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logging.New(logging.Config{
				Level:   level,
				LogDir:  opts.logDir,
				Service: "supplychain",
				JSON:    opts.logJSON,
				Output:  cmd.ErrOrStderr(),
			})
			slog.SetDefault(opts.logger.Slog())
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logger == nil {
				return nil
			}
			return opts.logger.Close()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Experiment config file (YAML or JSON). SUPPLYCHAIN_* env vars override it.")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info",
		"Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "Log to stderr as JSON")
	rootCmd.PersistentFlags().StringVar(&opts.logDir, "log-dir", "",
		"Also write JSON logs to a daily file in this directory")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newServeCmd(opts),
		newWatchCmd(opts),
		newShowCmd(opts),
		newPoliciesCmd(opts),
		newConfigCmd(opts),
	)
	return rootCmd
}

// loadConfig loads the experiment config named by --config.
func (o *cliOptions) loadConfig() (experiment.Config, error) {
	cfg, err := experiment.LoadConfig(o.configPath)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
