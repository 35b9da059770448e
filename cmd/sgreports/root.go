// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sgreports-dev/sgreports/internal/config"
	"github.com/sgreports-dev/sgreports/internal/secrets"
)

// NewRootCmd creates the root sgreports command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sgreports",
		Short:         "Research assistant for UN Secretary-General reports",
		Long:          "sgreports answers questions about SG reports, mandates and reporting frequencies using a tool-calling agent over a read-only document store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	root.AddCommand(
		newServeCmd(),
		newAskCmd(),
		newSQLCmd(),
		newGrantsCmd(),
		newSecretCmd(),
		newInitCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)

	return root
}

// configSearchPaths lists where sgreports.yaml is looked up when --config
// is not given, in order.
func configSearchPaths() []string {
	paths := []string{"sgreports.yaml"}
	if p, err := config.DefaultConfigPath(); err == nil {
		paths = append(paths, p)
	}
	return append(paths, filepath.Join("/etc", "sgreports", "sgreports.yaml"))
}

// configPath returns the --config flag, or the first existing file from
// configSearchPaths. Empty means defaults and environment only.
func configPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	for _, p := range configSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// secretStoreFactory creates a secrets.Store. It is a package-level variable
// so tests can substitute a mock implementation.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path := configPath(cmd)
	cfg, err := config.Load(path, secretStoreFactory())
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
