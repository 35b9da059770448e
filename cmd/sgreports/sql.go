// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sgreports-dev/sgreports/internal/sqlguard"
)

func newSQLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sql",
		Short: "Inspect the SQL safety policy",
	}

	check := &cobra.Command{
		Use:   "check <query>",
		Short: "Validate a query against the configured allowlist",
		Long: "Run a query through the same validator used for model-authored SQL. " +
			"Accepted queries are printed with the row limit the agent would apply.",
		Args: cobra.MinimumNArgs(1),
		RunE: runSQLCheck,
	}
	check.Flags().Int("limit", 0, "row limit to apply (default agent.row_limit)")

	cmd.AddCommand(check, &cobra.Command{
		Use:   "tables",
		Short: "List tables the validator allows",
		Args:  cobra.NoArgs,
		RunE:  runSQLTables,
	})
	return cmd
}

func runSQLCheck(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = cfg.Agent.RowLimit
	}

	query := strings.Join(args, " ")
	verdict := sqlguard.New(cfg.SQL.Policy()).Validate(query)
	if err := verdict.Err(); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "accepted: %s\n", sqlguard.EnsureLimit(query, limit))
	return err
}

func runSQLTables(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, t := range sqlguard.New(cfg.SQL.Policy()).AllowedTables() {
		if _, err := fmt.Fprintln(out, t); err != nil {
			return err
		}
	}
	return nil
}
