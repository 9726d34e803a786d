// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package run

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sigil-dev/relay/internal/classify"
)

// killGrace bounds how long Wait keeps draining output after the process
// group has been killed.
const killGrace = 2 * time.Second

// outputBuffer accumulates combined stdout and stderr and forwards each
// chunk as it arrives.
type outputBuffer struct {
	mu      sync.Mutex
	buf     strings.Builder
	onChunk func(string)
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	chunk := string(p)
	b.mu.Lock()
	b.buf.WriteString(chunk)
	b.mu.Unlock()
	if b.onChunk != nil {
		b.onChunk(chunk)
	}
	return len(p), nil
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// ExecuteCLIRun launches the backend command with the prompt appended to its
// arguments and waits for it to exit, be stopped, or time out.
func (e *Executor) ExecuteCLIRun(ctx context.Context, h *Handle, cb Callbacks) (*Record, error) {
	runCtx, cancel, err := e.begin(ctx, h)
	if err != nil {
		return nil, err
	}
	defer cancel()

	out := &outputBuffer{}
	if cb.OnOutput != nil {
		out.onChunk = func(chunk string) { cb.OnOutput(h.RunID, chunk) }
	}

	args := append(slices.Clone(h.Backend.Args), h.Request.Prompt)
	cmd := exec.CommandContext(runCtx, h.Backend.Command, args...)
	cmd.Dir = h.Request.WorkingDir
	cmd.Env = mergeEnv(os.Environ(), h.Backend.Env)
	// A single comparable writer makes exec share one pipe for both streams.
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = killGrace
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		o := outcome{termination: terminationOf(runCtx, h)}
		c := classify.Unknown(fmt.Sprintf("failed to start %s: %v", h.Backend.Command, err))
		if o.termination == TerminationStopped {
			c = stoppedClassification()
		}
		o.classification = &c
		return e.finish(h, o, cb)
	}

	waitErr := cmd.Wait()
	output := out.String()

	o := outcome{output: output}
	var exitCode *int
	if ps := cmd.ProcessState; ps != nil {
		if code := ps.ExitCode(); code >= 0 {
			exitCode = classify.ExitCode(code)
		}
		o.signal = signalOf(ps)
	}
	o.exitCode = exitCode

	if waitErr == nil && exitCode != nil && *exitCode == 0 {
		return e.finish(h, o, cb)
	}

	o.termination = terminationOf(runCtx, h)
	c := classify.Classify(output, exitCode)
	switch o.termination {
	case TerminationStopped:
		c = stoppedClassification()
	case TerminationTimeout:
		if !c.HasError || c.Category == classify.CategoryUnknown {
			c = classify.Timeout(h.Timeout)
		}
	}
	if !c.HasError {
		c = classify.Unknown(fmt.Sprintf("process ended abnormally: %v", waitErr))
	}
	o.classification = &c
	return e.finish(h, o, cb)
}

// mergeEnv overlays extra onto a KEY=VALUE environment. Overridden keys are
// replaced in place so the child sees one value per key.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[key]; overridden {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
