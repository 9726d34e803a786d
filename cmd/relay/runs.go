// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/sigil-dev/relay/internal/run"
	"github.com/sigil-dev/relay/internal/server"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"github.com/spf13/cobra"
)

const listPromptWidth = 40

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and remove run history",
	}

	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsRemoveCmd(),
	)

	return cmd
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List runs, newest first",
		Args:    cobra.NoArgs,
		RunE:    runRunsList,
	}
	addOutputFlag(cmd)
	addAddressFlag(cmd)
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run record and its captured output",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsShow,
	}
	addOutputFlag(cmd)
	addAddressFlag(cmd)
	return cmd
}

func newRunsRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <run-id>...",
		Aliases: []string{"delete"},
		Short:   "Delete finished runs",
		Args:    cobra.MinimumNArgs(1),
		RunE:    runRunsRemove,
	}
	addAddressFlag(cmd)
	return cmd
}

// localRunStore opens the run store named by the loaded config.
func localRunStore(cmd *cobra.Command) (*run.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return run.NewStore(cfg.Runs.Dir), nil
}

func runView(rec run.Record) server.RunView {
	return server.RunView{Run: rec, State: rec.State(), Active: !rec.Terminal()}
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	var views []server.RunView
	if addr := remoteAddress(cmd); addr != "" {
		var body struct {
			Runs []server.RunView `json:"runs"`
		}
		if err := newServerClient(addr).getJSON("/api/v1/runs", &body); err != nil {
			return err
		}
		views = body.Runs
	} else {
		store, err := localRunStore(cmd)
		if err != nil {
			return err
		}
		recs, err := store.List()
		if err != nil {
			return err
		}
		views = make([]server.RunView, 0, len(recs))
		for _, rec := range recs {
			views = append(views, runView(*rec))
		}
	}

	out := cmd.OutOrStdout()
	if format != formatTable {
		return render(out, format, views)
	}
	if len(views) == 0 {
		_, _ = fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	t := newTable("ID", "BACKEND", "STATE", "STARTED", "DURATION", "PROMPT")
	for _, v := range views {
		t.Row(
			v.Run.ID,
			backendLabel(v.Run),
			string(v.State),
			v.Run.StartedAt.Local().Format(time.DateTime),
			durationLabel(v.Run),
			oneLine(v.Run.Prompt, listPromptWidth),
		)
	}
	_, _ = fmt.Fprintln(out, t.Render())
	return nil
}

// runDetail is the machine-readable form of runs show.
type runDetail struct {
	server.RunView
	Output string `json:"output"`
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	id := args[0]

	var detail runDetail
	if addr := remoteAddress(cmd); addr != "" {
		c := newServerClient(addr)
		if err := c.getJSON("/api/v1/runs/"+url.PathEscape(id), &detail.RunView); err != nil {
			return err
		}
		var body struct {
			Output string `json:"output"`
		}
		if err := c.getJSON("/api/v1/runs/"+url.PathEscape(id)+"/output", &body); err != nil {
			return err
		}
		detail.Output = body.Output
	} else {
		store, err := localRunStore(cmd)
		if err != nil {
			return err
		}
		rec, err := store.Get(id)
		if err != nil {
			return err
		}
		output, err := store.Output(id)
		if err != nil {
			return err
		}
		detail = runDetail{RunView: runView(*rec), Output: output}
	}

	out := cmd.OutOrStdout()
	if format != formatTable {
		return render(out, format, detail)
	}
	printRunDetail(out, detail)
	return nil
}

func printRunDetail(w io.Writer, d runDetail) {
	rec := d.Run
	field := func(name, value string) {
		if value != "" {
			_, _ = fmt.Fprintf(w, "%-12s %s\n", dimStyle.Render(name+":"), value)
		}
	}

	field("Run", rec.ID)
	field("Backend", backendLabel(rec))
	field("Model", rec.Model)
	field("State", string(d.State))
	field("Started", rec.StartedAt.Local().Format(time.DateTime))
	field("Duration", durationLabel(rec))
	if rec.ExitCode != nil {
		field("Exit code", fmt.Sprint(*rec.ExitCode))
	}
	field("Signal", rec.Signal)
	field("Termination", string(rec.Termination))
	if c := rec.Error; c != nil && c.HasError {
		field("Error", fmt.Sprintf("%s: %s", c.Category, c.Message))
		field("Hint", c.Remediation)
	}
	field("Prompt", rec.Prompt)

	if d.Output != "" {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, strings.TrimRight(d.Output, "\n"))
	}
}

func runRunsRemove(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if addr := remoteAddress(cmd); addr != "" {
		c := newServerClient(addr)
		for _, id := range args {
			if err := c.delete("/api/v1/runs/" + url.PathEscape(id)); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Deleted run: %s\n", id)
		}
		return nil
	}

	store, err := localRunStore(cmd)
	if err != nil {
		return err
	}
	for _, id := range args {
		rec, err := store.Get(id)
		if err != nil {
			return err
		}
		// A record without a terminal update belongs to a run still
		// executing in another process.
		if !rec.Terminal() {
			return relayerr.New(relayerr.CodeRunRequestInvalid, "run is still active: "+id, relayerr.FieldRunID(id))
		}
		if err := store.Delete(id); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Deleted run: %s\n", id)
	}
	return nil
}

func backendLabel(rec run.Record) string {
	if rec.UsedFallback {
		return fmt.Sprintf("%s (from %s)", rec.BackendID, rec.RequestedBackendID)
	}
	return rec.BackendID
}

func durationLabel(rec run.Record) string {
	if rec.DurationMS == nil {
		return "-"
	}
	return (time.Duration(*rec.DurationMS) * time.Millisecond).Round(time.Millisecond).String()
}

func oneLine(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > width {
		return string(r[:width-3]) + "..."
	}
	return s
}
