// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build unix

package run_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sigil-dev/relay/internal/availability"
	"github.com/sigil-dev/relay/internal/classify"
	"github.com/sigil-dev/relay/internal/provider"
	"github.com/sigil-dev/relay/internal/run"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteCLIRun_Success(t *testing.T) {
	f := newFixture(t, 0, shBackend("echo", `echo "got: $0"; echo "on stderr" >&2`))

	h, err := f.exec.CreateRun(run.Request{BackendID: "echo", Prompt: "hello"})
	require.NoError(t, err)
	assert.True(t, f.exec.IsRunActive(h.RunID))

	initial, err := f.store.Get(h.RunID)
	require.NoError(t, err)
	assert.False(t, initial.Terminal())
	assert.Nil(t, initial.Success)
	assert.Equal(t, run.StateRunning, initial.State())

	got := &captured{}
	rec, err := f.exec.Execute(context.Background(), h, got.callbacks())
	require.NoError(t, err)

	require.NotNil(t, rec.Success)
	assert.True(t, *rec.Success)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 0, *rec.ExitCode)
	assert.Nil(t, rec.Error)
	assert.Equal(t, run.StateSucceeded, rec.State())
	assert.False(t, f.exec.IsRunActive(h.RunID))

	out, err := f.store.Output(h.RunID)
	require.NoError(t, err)
	assert.Contains(t, out, "got: hello")
	assert.Contains(t, out, "on stderr")
	assert.Equal(t, int64(len(out)), rec.OutputSize)

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.NotEmpty(t, got.chunks)
	assert.False(t, got.chunkAfterFinal, "chunks must precede completion")
	require.NotNil(t, got.completed)
	assert.Equal(t, rec.ID, got.completed.ID)
}

func TestExecuteCLIRun_MergesEnvAndWorkingDir(t *testing.T) {
	b := shBackend("env", `echo "$RELAY_TEST_VAR in $(pwd)"`)
	b.Env = map[string]string{"RELAY_TEST_VAR": "injected"}
	f := newFixture(t, 0, b)

	wd := t.TempDir()
	h, err := f.exec.CreateRun(run.Request{BackendID: "env", Prompt: "p", WorkingDir: wd})
	require.NoError(t, err)
	rec, err := f.exec.Execute(context.Background(), h, run.Callbacks{})
	require.NoError(t, err)
	require.True(t, *rec.Success)

	out, err := f.store.Output(h.RunID)
	require.NoError(t, err)
	assert.Contains(t, out, "injected in ")
	assert.Equal(t, wd, rec.WorkingDir)
}

func TestExecuteCLIRun_RateLimitFailure(t *testing.T) {
	f := newFixture(t, 0, shBackend("codex", `echo "Error: 429 rate limit exceeded"; exit 1`))

	h, err := f.exec.CreateRun(run.Request{BackendID: "codex", Prompt: "p"})
	require.NoError(t, err)
	rec, err := f.exec.Execute(context.Background(), h, run.Callbacks{})
	require.NoError(t, err)

	assert.False(t, *rec.Success)
	assert.Equal(t, 1, *rec.ExitCode)
	require.NotNil(t, rec.Error)
	assert.Equal(t, classify.CategoryRateLimit, rec.Error.Category)
	assert.False(t, rec.Error.RequiresFallback)

	s := f.tracker.Status("codex")
	assert.False(t, s.Available)
	assert.Equal(t, availability.ReasonRateLimit, s.Reason)

	calls := f.hookCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "codex", calls[0].backendID)
	assert.Contains(t, calls[0].raw, "rate limit")
}

func TestExecuteCLIRun_UsageLimitFailure(t *testing.T) {
	f := newFixture(t, 0, shBackend("claude", `echo "Usage limit reached. Try again in 2 hours."; exit 2`))

	before := time.Now()
	h, err := f.exec.CreateRun(run.Request{BackendID: "claude", Prompt: "p"})
	require.NoError(t, err)
	rec, err := f.exec.Execute(context.Background(), h, run.Callbacks{})
	require.NoError(t, err)

	require.NotNil(t, rec.Error)
	assert.Equal(t, classify.CategoryUsageLimit, rec.Error.Category)
	assert.NotEmpty(t, rec.Error.WaitTime)

	s := f.tracker.Status("claude")
	require.False(t, s.Available)
	assert.Equal(t, availability.ReasonUsageLimit, s.Reason)
	require.NotNil(t, s.EstimatedRecovery)
	assert.WithinDuration(t, before.Add(2*time.Hour), *s.EstimatedRecovery, time.Minute)
}

func TestExecuteCLIRun_OtherFailureLeavesBackendAvailable(t *testing.T) {
	f := newFixture(t, 0, shBackend("broken", `echo "segfault somewhere"; exit 3`))

	h, err := f.exec.CreateRun(run.Request{BackendID: "broken", Prompt: "p"})
	require.NoError(t, err)
	rec, err := f.exec.Execute(context.Background(), h, run.Callbacks{})
	require.NoError(t, err)

	require.NotNil(t, rec.Error)
	assert.Equal(t, classify.CategoryUnknown, rec.Error.Category)
	assert.Equal(t, run.StateFailed, rec.State())
	assert.True(t, f.tracker.IsAvailable("broken"))
	assert.Empty(t, f.hookCalls())
}

func TestExecuteCLIRun_StartFailure(t *testing.T) {
	b := provider.Backend{ID: "ghost", Kind: provider.KindProcess, Command: "/nonexistent/relay-test-binary", Enabled: true}
	f := newFixture(t, 0, b)

	h, err := f.exec.CreateRun(run.Request{BackendID: "ghost", Prompt: "p"})
	require.NoError(t, err)
	rec, err := f.exec.Execute(context.Background(), h, run.Callbacks{})
	require.NoError(t, err)

	assert.False(t, *rec.Success)
	assert.Nil(t, rec.ExitCode)
	require.NotNil(t, rec.Error)
	assert.Contains(t, rec.Error.Message, "failed to start")
}

func TestExecuteCLIRun_Timeout(t *testing.T) {
	f := newFixture(t, 0, shBackend("slow", `sleep 30`))

	h, err := f.exec.CreateRun(run.Request{BackendID: "slow", Prompt: "p", Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, h.Timeout)

	start := time.Now()
	rec, err := f.exec.Execute(context.Background(), h, run.Callbacks{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.Equal(t, run.TerminationTimeout, rec.Termination)
	require.NotNil(t, rec.Error)
	assert.Equal(t, classify.CategoryTimeout, rec.Error.Category)
	assert.Equal(t, "SIGKILL", rec.Signal)
	assert.True(t, f.tracker.IsAvailable("slow"))
}

func TestStopRun(t *testing.T) {
	f := newFixture(t, 0, shBackend("slow", `echo started; sleep 30`))

	started := make(chan struct{}, 1)
	h, done, err := f.exec.Dispatch(context.Background(), run.Request{BackendID: "slow", Prompt: "p"}, run.Callbacks{
		OnOutput: func(string, string) {
			select {
			case started <- struct{}{}:
			default:
			}
		},
	})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("process never produced output")
	}

	assert.True(t, f.exec.StopRun(h.RunID))
	assert.False(t, f.exec.IsRunActive(h.RunID))
	assert.False(t, f.exec.StopRun(h.RunID), "second stop is a no-op")

	select {
	case rec := <-done:
		require.NotNil(t, rec)
		assert.Equal(t, run.TerminationStopped, rec.Termination)
		assert.Equal(t, run.StateStopped, rec.State())
		assert.False(t, *rec.Success)
	case <-time.After(10 * time.Second):
		t.Fatal("stopped run never finished")
	}

	_, ok := <-done
	assert.False(t, ok, "channel closes after the terminal record")

	stored, err := f.store.Get(h.RunID)
	require.NoError(t, err)
	assert.Equal(t, run.TerminationStopped, stored.Termination)
}

func TestStopRun_BeforeExecute(t *testing.T) {
	f := newFixture(t, 0, shBackend("slow", `sleep 30`))

	h, err := f.exec.CreateRun(run.Request{BackendID: "slow", Prompt: "p"})
	require.NoError(t, err)
	require.True(t, f.exec.StopRun(h.RunID))

	rec, err := f.exec.Execute(context.Background(), h, run.Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, run.TerminationStopped, rec.Termination)
}

func TestStopRun_UnknownID(t *testing.T) {
	f := newFixture(t, 0)
	assert.False(t, f.exec.StopRun("00000000-0000-0000-0000-000000000000"))
}

func TestExecute_Twice(t *testing.T) {
	f := newFixture(t, 0, shBackend("echo", `true`))

	h, err := f.exec.CreateRun(run.Request{BackendID: "echo", Prompt: "p"})
	require.NoError(t, err)
	_, err = f.exec.Execute(context.Background(), h, run.Callbacks{})
	require.NoError(t, err)

	_, err = f.exec.Execute(context.Background(), h, run.Callbacks{})
	require.Error(t, err)
	assert.True(t, relayerr.HasCode(err, relayerr.CodeRunRequestInvalid))
}

func TestDispatch_ExactlyOneTerminalRecord(t *testing.T) {
	f := newFixture(t, 0, shBackend("echo", `echo done`))

	var completions int
	h, done, err := f.exec.Dispatch(context.Background(), run.Request{BackendID: "echo", Prompt: "p"}, run.Callbacks{
		OnComplete: func(*run.Record) { completions++ },
	})
	require.NoError(t, err)

	var recs []*run.Record
	for rec := range done {
		recs = append(recs, rec)
	}
	require.Len(t, recs, 1)
	assert.Equal(t, h.RunID, recs[0].ID)
	assert.Equal(t, 1, completions)
}

func TestDispatch_DetachedFromCallerContext(t *testing.T) {
	f := newFixture(t, 0, shBackend("echo", `sleep 0.2; echo done`))

	ctx, cancel := context.WithCancel(context.Background())
	_, done, err := f.exec.Dispatch(ctx, run.Request{BackendID: "echo", Prompt: "p"}, run.Callbacks{})
	require.NoError(t, err)
	cancel()

	rec := <-done
	require.NotNil(t, rec)
	assert.True(t, *rec.Success)
}

func TestDeleteRun(t *testing.T) {
	f := newFixture(t, 0, shBackend("slow", `sleep 30`), shBackend("fast", `true`))

	h, err := f.exec.CreateRun(run.Request{BackendID: "slow", Prompt: "p"})
	require.NoError(t, err)
	err = f.exec.DeleteRun(h.RunID)
	require.Error(t, err, "active runs cannot be deleted")
	f.exec.StopRun(h.RunID)

	h2, err := f.exec.CreateRun(run.Request{BackendID: "fast", Prompt: "p"})
	require.NoError(t, err)
	_, err = f.exec.Execute(context.Background(), h2, run.Callbacks{})
	require.NoError(t, err)

	require.NoError(t, f.exec.DeleteRun(h2.RunID))
	_, err = f.store.Get(h2.RunID)
	assert.True(t, relayerr.IsNotFound(err))
}

func TestExecuteCLIRun_LongPromptTruncatedInRecord(t *testing.T) {
	f := newFixture(t, 0, shBackend("echo", `printf %s "$0" | wc -c`))

	prompt := strings.Repeat("x", 2000)
	h, err := f.exec.CreateRun(run.Request{BackendID: "echo", Prompt: prompt})
	require.NoError(t, err)
	rec, err := f.exec.Execute(context.Background(), h, run.Callbacks{})
	require.NoError(t, err)

	assert.Len(t, rec.Prompt, run.DefaultPromptPreviewChars+len("..."))
	full, err := f.store.Prompt(h.RunID)
	require.NoError(t, err)
	assert.Equal(t, prompt, full)

	out, err := f.store.Output(h.RunID)
	require.NoError(t, err)
	assert.Contains(t, out, "2000", "the process receives the full prompt")
}
