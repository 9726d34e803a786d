// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sigil-dev/relay/internal/run"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <backend> <prompt...>",
		Short: "Run a prompt against a backend and stream its output",
		Long: `Run a prompt against a backend and stream its output to stdout.

If the backend is unavailable the run is rerouted to its fallback. A prompt
of "-" is read from stdin. Interrupting the command stops the run.`,
		Args: cobra.MinimumNArgs(2),
		RunE: runRun,
	}

	cmd.Flags().String("model", "", "model override")
	cmd.Flags().Duration("timeout", 0, "timeout override (e.g. 90s, 5m)")
	cmd.Flags().String("workdir", "", "working directory for process backends")
	cmd.Flags().String("task-fallback", "", "backend to try first when the requested one is unavailable")
	cmd.Flags().StringSlice("image", nil, "image file to attach (repeatable)")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	prompt, err := readPrompt(cmd.InOrStdin(), args[1:])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := wireApp(cfg)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	model, _ := flags.GetString("model")
	timeout, _ := flags.GetDuration("timeout")
	workdir, _ := flags.GetString("workdir")
	taskFallback, _ := flags.GetString("task-fallback")
	images, _ := flags.GetStringSlice("image")
	if timeout < 0 {
		return usageError("--timeout must not be negative")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	h, done, err := app.Executor.Dispatch(ctx, run.Request{
		BackendID:      args[0],
		Prompt:         prompt,
		Model:          model,
		WorkingDir:     workdir,
		Timeout:        timeout,
		TaskFallbackID: taskFallback,
		ImagePaths:     images,
	}, run.Callbacks{
		OnOutput: func(_, chunk string) {
			_, _ = io.WriteString(out, chunk)
		},
	})
	if err != nil {
		return err
	}

	var rec *run.Record
	select {
	case rec = <-done:
	case <-ctx.Done():
		app.Executor.StopRun(h.RunID)
		rec = <-done
	}
	if rec == nil {
		return relayerr.Errorf(relayerr.CodeCLIRunFailure, "run %s ended without a record", h.RunID)
	}

	printRunSummary(cmd.ErrOrStderr(), rec)
	if rec.State() != run.StateSucceeded {
		return relayerr.Errorf(relayerr.CodeCLIRunFailure, "run %s %s", rec.ID, rec.State())
	}
	return nil
}

func readPrompt(stdin io.Reader, words []string) (string, error) {
	if len(words) == 1 && words[0] == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return "", relayerr.Errorf(relayerr.CodeCLIInputInvalid, "reading prompt from stdin: %w", err)
		}
		words = []string{string(raw)}
	}
	prompt := strings.TrimSpace(strings.Join(words, " "))
	if prompt == "" {
		return "", usageError("prompt must not be empty")
	}
	return prompt, nil
}

func printRunSummary(w io.Writer, rec *run.Record) {
	_, _ = fmt.Fprintln(w)
	line := fmt.Sprintf("run %s on %s: %s", rec.ID, rec.BackendID, rec.State())
	if rec.DurationMS != nil {
		line += fmt.Sprintf(" in %s", (time.Duration(*rec.DurationMS) * time.Millisecond).Round(time.Millisecond))
	}
	_, _ = fmt.Fprintln(w, dimStyle.Render(line))

	if rec.UsedFallback {
		_, _ = fmt.Fprintf(w, "rerouted from %s (%s fallback)\n", rec.RequestedBackendID, rec.FallbackSource)
	}
	if rec.Termination == run.TerminationTimeout {
		_, _ = fmt.Fprintln(w, badStyle.Render("run timed out"))
	}
	if c := rec.Error; c != nil && c.HasError {
		_, _ = fmt.Fprintf(w, "%s %s: %s\n", badStyle.Render("error"), c.Category, c.Message)
		if c.Remediation != "" {
			_, _ = fmt.Fprintf(w, "hint: %s\n", c.Remediation)
		}
	}
}
