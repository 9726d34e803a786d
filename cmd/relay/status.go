// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/sigil-dev/relay/internal/server"
	"github.com/sigil-dev/relay/pkg/health"
	"github.com/spf13/cobra"
)

func addAddressFlag(cmd *cobra.Command) {
	cmd.Flags().String("address", "", "query a running relay server at host:port instead of local state")
}

func remoteAddress(cmd *cobra.Command) string {
	addr, _ := cmd.Flags().GetString("address")
	return addr
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [backend]",
		Short: "Show backend availability",
		Long:  "Show each configured backend with its availability, the reason it is unavailable and the estimated recovery time.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runStatus,
	}

	addOutputFlag(cmd)
	addAddressFlag(cmd)

	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	summaries, err := backendSummaries(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		summaries, err = filterSummaries(summaries, args[0])
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if format != formatTable {
		return render(out, format, summaries)
	}
	if len(summaries) == 0 {
		_, _ = fmt.Fprintln(out, "No backends configured.")
		return nil
	}

	t := newTable("BACKEND", "KIND", "ENABLED", "STATUS", "REASON", "RECOVERS IN", "FAILURES")
	for _, s := range summaries {
		t.Row(
			s.ID,
			s.Kind,
			strconv.FormatBool(s.Enabled),
			availabilityLabel(s.Status.Available),
			s.Status.Reason,
			recoveryLabel(s.Status),
			strconv.Itoa(s.Status.FailureCount),
		)
	}
	_, _ = fmt.Fprintln(out, t.Render())
	return nil
}

// backendSummaries reads availability from the server named by --address,
// or from the local status file.
func backendSummaries(cmd *cobra.Command) ([]server.BackendSummary, error) {
	if addr := remoteAddress(cmd); addr != "" {
		var body struct {
			Backends []server.BackendSummary `json:"backends"`
		}
		if err := newServerClient(addr).getJSON("/api/v1/backends", &body); err != nil {
			return nil, err
		}
		return body.Backends, nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	app, err := wireApp(cfg)
	if err != nil {
		return nil, err
	}
	summaries := make([]server.BackendSummary, 0, app.Backends.Len())
	for _, b := range app.Backends.List() {
		summaries = append(summaries, server.NewBackendSummary(b, app.Tracker.Snapshot(b.ID)))
	}
	return summaries, nil
}

func filterSummaries(all []server.BackendSummary, id string) ([]server.BackendSummary, error) {
	for _, s := range all {
		if s.ID == id {
			return []server.BackendSummary{s}, nil
		}
	}
	return nil, usageError("backend %q is not configured", id)
}

func recoveryLabel(s health.Snapshot) string {
	if s.Available {
		return "-"
	}
	if s.RecoveryIn == "" {
		return "unknown"
	}
	return s.RecoveryIn
}

func newRecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover <backend>",
		Short: "Mark a backend available",
		Long:  "Clear a usage-limit or rate-limit mark so the backend receives runs again.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecover,
	}

	addAddressFlag(cmd)

	return cmd
}

func runRecover(cmd *cobra.Command, args []string) error {
	id := args[0]
	var snap health.Snapshot

	if addr := remoteAddress(cmd); addr != "" {
		path := "/api/v1/backends/" + url.PathEscape(id) + "/recover"
		if err := newServerClient(addr).postJSON(path, nil, &snap); err != nil {
			return err
		}
	} else {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		app, err := wireApp(cfg)
		if err != nil {
			return err
		}
		if _, err := app.Backends.Require(id); err != nil {
			return err
		}
		if _, err := app.Tracker.MarkAvailable(id); err != nil {
			return err
		}
		snap = app.Tracker.Snapshot(id)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", id, availabilityLabel(snap.Available))
	return nil
}

func newFallbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fallback <backend>",
		Short: "Show which backend a run would be rerouted to",
		Long: `Resolve the fallback for a backend the way run dispatch does: the task
fallback first, then the backend's configured fallback, then the system
priority list. Only available backends are chosen.`,
		Args: cobra.ExactArgs(1),
		RunE: runFallback,
	}

	cmd.Flags().String("task-fallback", "", "task-level fallback backend tried first")
	addAddressFlag(cmd)

	return cmd
}

func runFallback(cmd *cobra.Command, args []string) error {
	id := args[0]
	taskFallback, _ := cmd.Flags().GetString("task-fallback")
	out := cmd.OutOrStdout()

	if addr := remoteAddress(cmd); addr != "" {
		path := "/api/v1/backends/" + url.PathEscape(id) + "/fallback"
		if taskFallback != "" {
			path += "?task_fallback=" + url.QueryEscape(taskFallback)
		}
		var body server.FallbackBody
		if err := newServerClient(addr).getJSON(path, &body); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "%s -> %s (%s fallback)\n", id, body.BackendID, body.Source)
		return nil
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := wireApp(cfg)
	if err != nil {
		return err
	}
	if _, err := app.Backends.Require(id); err != nil {
		return err
	}

	fb, ok := app.Tracker.FallbackProvider(id, app.Backends.List(), taskFallback)
	if !ok {
		_, _ = fmt.Fprintf(out, "No fallback available for %s.\n", id)
		return nil
	}
	_, _ = fmt.Fprintf(out, "%s -> %s (%s fallback)\n", id, fb.Backend.ID, fb.Source)
	return nil
}
