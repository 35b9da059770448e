// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sgreports-dev/sgreports/internal/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long:  "Write the built-in defaults to --config, or to ~/.config/sgreports/sgreports.yaml, with owner-only permissions.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
	cmd.Flags().Bool("force", false, "overwrite an existing config file")
	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	force, _ := cmd.Flags().GetBool("force")

	if err := config.WriteDefault(path, force); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Wrote %s\n", path)
	_, _ = fmt.Fprintln(out, "Next: store a provider key with \"sgreports secret set azure-api-key\" and set")
	_, _ = fmt.Fprintln(out, "llm.providers.azure.api_key to keyring://sgreports/azure-api-key.")
	return nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with credentials redacted",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})
	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	out, err := config.Effective(configPath(cmd))
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
