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

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/supplychain/services/bandit/experiment"
)

func newShowCmd(opts *cliOptions) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the result tables of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg.Output, false)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if mode == "" {
				printTables(out, run)
				return nil
			}
			fmt.Fprintln(out, experiment.RenderTable(run, mode, experiment.IsTerminal(out)))
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Only print this mode (dynamic or static)")
	return cmd
}

func newPoliciesCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the supported and configured policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Supported policies:")
			for _, kind := range experiment.PolicyKinds() {
				budget := "no"
				if (experiment.PolicyConfig{Kind: kind}).RequiresBudget() {
					budget = "yes"
				}
				fmt.Fprintf(out, "  %-10s precommitted budget: %s\n", kind, budget)
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "\nConfigured policies:")
			for i, pc := range cfg.Policies {
				name := pc.Name
				if name == "" {
					name = pc.Kind
				}
				fmt.Fprintf(out, "  %2d. %-15s (%s)\n", i+1, name, pc.Kind)
			}
			fmt.Fprintf(out, "\nFallback for non-root agents: %s\n", cfg.Tree.Fallback.Kind)
			return nil
		},
	}
}

func newConfigCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			return enc.Close()
		},
	}
}
