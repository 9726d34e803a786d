// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"os"

	"github.com/sigil-dev/relay/internal/config"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long:  "Write the commented default relay.yaml, leaving an existing file untouched.",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}

	cmd.Flags().String("path", "", "where to write the config (default ~/.config/relay/relay.yaml)")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("path")
	if path == "" {
		var err error
		if path, err = config.DefaultConfigPath(); err != nil {
			return err
		}
	}
	out := cmd.OutOrStdout()

	if _, err := os.Stat(path); err == nil {
		_, _ = fmt.Fprintf(out, "Config already exists at %s\n", path)
		return nil
	}

	if written := config.BootstrapConfig(path); written == "" {
		return relayerr.Errorf(relayerr.CodeCLISetupFailure, "writing config to %s", path)
	}

	_, _ = fmt.Fprintf(out, "Wrote %s\n", path)
	_, _ = fmt.Fprintln(out, "Add backends to it, then store API keys with: relay secret set <name>")
	return nil
}
