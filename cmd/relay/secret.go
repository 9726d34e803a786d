// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/sigil-dev/relay/internal/secrets"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"github.com/spf13/cobra"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage backend API keys stored in the OS keyring",
		Long: `Store, list and delete secrets kept under the relay service in the
operating system keyring. Reference a stored secret from a backend's api_key
as keyring://relay/<name>.`,
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretListCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret read from stdin",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretSet,
	}
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all stored secret names",
		Args:    cobra.NoArgs,
		RunE:    runSecretList,
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"delete"},
		Short:   "Delete a secret by name",
		Args:    cobra.ExactArgs(1),
		RunE:    runSecretDelete,
	}
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]
	value, err := readSecretValue(cmd.InOrStdin())
	if err != nil {
		return err
	}

	if err := secretStoreFactory().Store(secrets.DefaultService, name, value); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret %s; reference it as keyring://%s/%s\n", name, secrets.DefaultService, name)
	return nil
}

// readSecretValue reads the first line of r.
func readSecretValue(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", relayerr.Errorf(relayerr.CodeCLIInputInvalid, "reading secret value: %w", err)
	}
	value := strings.TrimRight(line, "\r\n")
	if value == "" {
		return "", usageError("secret value must be provided on stdin")
	}
	return value, nil
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	keys, err := secretStoreFactory().List(secrets.DefaultService)
	if err != nil {
		return relayerr.Wrapf(err, relayerr.CodeSecretStoreFailure, "listing secrets")
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}

	slices.Sort(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := secretStoreFactory().Delete(secrets.DefaultService, name); err != nil {
		if relayerr.HasCode(err, relayerr.CodeSecretNotFound) {
			return relayerr.Errorf(relayerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}
