// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sgreports-dev/sgreports/internal/secrets"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long: "Store and delete credentials under the sgreports service in the operating system keyring. " +
			"Reference them from the config file as keyring://sgreports/<name>.",
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}
	cmd.Flags().String("service", secrets.DefaultService, "keyring service name")
	return cmd
}

func newSecretDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
	cmd.Flags().String("service", secrets.DefaultService, "keyring service name")
	return cmd
}

// readSecretValue reads the first line of r. The value is never taken from
// a flag so it stays out of shell history.
func readSecretValue(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", sgerr.Wrap(err, sgerr.CodeCLIInputInvalid, "reading secret from stdin")
	}
	value := strings.TrimRight(line, "\r\n")
	if value == "" {
		return "", sgerr.New(sgerr.CodeCLIInputInvalid, "secret value is empty")
	}
	return value, nil
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]
	service, _ := cmd.Flags().GetString("service")

	value, err := readSecretValue(cmd.InOrStdin())
	if err != nil {
		return err
	}
	if err := secretStoreFactory().Set(service, name, value); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: keyring://%s/%s\n", service, name)
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]
	service, _ := cmd.Flags().GetString("service")

	if err := secretStoreFactory().Delete(service, name); err != nil {
		if sgerr.HasCode(err, sgerr.CodeSecretNotFound) {
			return sgerr.Errorf(sgerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}
