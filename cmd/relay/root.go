// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/sigil-dev/relay/internal/config"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root relay command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relay",
		Short:         "Relay dispatches prompts to AI backends",
		Long:          "Relay runs prompts against CLI and streaming-API backends, tracks usage and rate limits, and reroutes to fallbacks while a backend is unavailable.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().String("log-format", "", "log format (text, json)")

	root.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newStatusCmd(),
		newRecoverCmd(),
		newFallbackCmd(),
		newRunsCmd(),
		newSecretCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	return root
}

// loadConfig reads the config named by --config (or the discovered one),
// applies flag overrides and installs the default logger.
func loadConfig(cmd *cobra.Command, extra ...config.Binding) (*config.Config, error) {
	flags := cmd.Root().PersistentFlags()
	path, _ := flags.GetString("config")

	bindings := append([]config.Binding{
		{Key: "data_dir", Flag: flags.Lookup("data-dir")},
		{Key: "log.format", Flag: flags.Lookup("log-format")},
	}, extra...)

	cfg, err := config.Load(path, bindings...)
	if err != nil {
		return nil, err
	}

	verbose, _ := flags.GetBool("verbose")
	setupLogging(cmd.ErrOrStderr(), cfg.Log, verbose)
	config.WarnInsecurePermissions(cfg.Source)
	return cfg, nil
}

func setupLogging(w io.Writer, lc config.LogConfig, verbose bool) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(lc.Level))); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		_, isFile := w.(*os.File)
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    !isFile,
		})
	}
	slog.SetDefault(slog.New(handler))
}

func usageError(format string, args ...any) error {
	return relayerr.Errorf(relayerr.CodeCLIInputInvalid, format, args...)
}
