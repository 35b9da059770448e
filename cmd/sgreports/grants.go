// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sgreports-dev/sgreports/internal/sqlguard"
	"github.com/sgreports-dev/sgreports/internal/store"
	"github.com/sgreports-dev/sgreports/internal/store/postgres"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// openStores is a package-level variable so tests can avoid a live database.
var openStores = store.Open

func newGrantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "Inspect the restricted database role",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Compare the restricted role's grants with the SQL allowlist",
		Long: "Connect with database.query_dsn and verify the role can SELECT exactly the allowlisted " +
			"tables and holds no other privileges. Requires the postgres backend.",
		Args: cobra.NoArgs,
		RunE: runGrantsCheck,
	})
	return cmd
}

func runGrantsCheck(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	stores, err := openStores(cfg.Database.StoreConfig())
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	if stores.Grants == nil {
		return sgerr.Errorf(sgerr.CodeStoreBackendUnsupported,
			"grants check requires the postgres backend, got %q", cfg.Database.Backend)
	}

	allowed := sqlguard.New(cfg.SQL.Policy()).AllowedTables()
	report, err := postgres.CheckGrants(cmd.Context(), stores.Grants, allowed)
	if err != nil && !sgerr.HasCode(err, sgerr.CodeStoreGrantsMismatch) {
		return err
	}

	_, _ = fmt.Fprintln(cmd.OutOrStdout(), report.String())
	return err
}
