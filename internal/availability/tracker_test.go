// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package availability_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sigil-dev/relay/internal/availability"
	relayerr "github.com/sigil-dev/relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory Store that can be told to fail saves.
type memStore struct {
	mu       sync.Mutex
	data     map[string]availability.Status
	saves    int
	failSave error
	failLoad error
}

func (m *memStore) Load() (map[string]availability.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad != nil {
		return nil, m.failLoad
	}
	out := make(map[string]availability.Status, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Save(s map[string]availability.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.failSave != nil {
		return m.failSave
	}
	m.data = s
	return nil
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []availability.Event
}

func (r *recorder) Publish(e availability.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []availability.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]availability.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(t *testing.T, store availability.Store, pub availability.Publisher) (*availability.Tracker, *clock) {
	t.Helper()
	c := &clock{now: t0}
	tr := availability.NewTracker(store, availability.Config{Priority: []string{"p1", "p2"}}, pub)
	tr.SetNowFunc(c.Now)
	_, err := tr.Init()
	require.NoError(t, err)
	return tr, c
}

func TestTracker_UnknownBackendIsAvailable(t *testing.T) {
	tr, _ := newTestTracker(t, &memStore{}, nil)

	s := tr.Status("never-seen")
	assert.True(t, s.Available)
	assert.Equal(t, availability.ReasonOK, s.Reason)
	assert.Equal(t, 0, s.FailureCount)
	assert.True(t, tr.IsAvailable("never-seen"))
	assert.Empty(t, tr.TimeUntilRecovery("never-seen"))
}

func TestTracker_MarkUsageLimitDefaultWait(t *testing.T) {
	rec := &recorder{}
	tr, _ := newTestTracker(t, &memStore{}, rec)

	s, err := tr.MarkUsageLimit("claude", availability.UsageLimit{Message: "quota gone"})
	require.NoError(t, err)

	assert.False(t, s.Available)
	assert.Equal(t, availability.ReasonUsageLimit, s.Reason)
	assert.Equal(t, "quota gone", s.Message)
	assert.Equal(t, 1, s.FailureCount)
	require.NotNil(t, s.UnavailableSince)
	require.NotNil(t, s.EstimatedRecovery)
	assert.Equal(t, 24*time.Hour, s.EstimatedRecovery.Sub(*s.UnavailableSince))
	assert.Equal(t, []availability.EventType{availability.EventUsageLimit}, rec.types())
}

func TestTracker_MarkUsageLimitParsedWait(t *testing.T) {
	tr, _ := newTestTracker(t, &memStore{}, nil)

	s, err := tr.MarkUsageLimit("claude", availability.UsageLimit{Message: "limit", WaitTime: "2 hours"})
	require.NoError(t, err)
	assert.Equal(t, "2 hours", s.WaitTime)
	assert.Equal(t, t0.Add(2*time.Hour), *s.EstimatedRecovery)
}

func TestTracker_UnparseableWaitUsesDefault(t *testing.T) {
	tr, _ := newTestTracker(t, &memStore{}, nil)

	s, err := tr.MarkUsageLimit("claude", availability.UsageLimit{Message: "limit", WaitTime: "soon"})
	require.NoError(t, err)
	assert.Equal(t, t0.Add(24*time.Hour), *s.EstimatedRecovery)
}

func TestTracker_FailureCountAccumulates(t *testing.T) {
	tr, _ := newTestTracker(t, &memStore{}, nil)

	_, err := tr.MarkRateLimited("x")
	require.NoError(t, err)
	s, err := tr.MarkUsageLimit("x", availability.UsageLimit{Message: "m"})
	require.NoError(t, err)
	assert.Equal(t, 2, s.FailureCount)

	s, err = tr.MarkAvailable("x")
	require.NoError(t, err)
	assert.True(t, s.Available)
	assert.Equal(t, 0, s.FailureCount)
	assert.Nil(t, s.EstimatedRecovery)
}

func TestTracker_MarkRateLimited(t *testing.T) {
	rec := &recorder{}
	tr, _ := newTestTracker(t, &memStore{}, rec)

	s, err := tr.MarkRateLimited("codex")
	require.NoError(t, err)
	assert.False(t, s.Available)
	assert.Equal(t, availability.ReasonRateLimit, s.Reason)
	assert.Equal(t, t0.Add(5*time.Minute), *s.EstimatedRecovery)
	assert.Equal(t, "5m", tr.TimeUntilRecovery("codex"))
	assert.Equal(t, []availability.EventType{availability.EventRateLimit}, rec.types())
}

func TestTracker_RecoveryScenario(t *testing.T) {
	store := &memStore{}
	tr, c := newTestTracker(t, store, nil)

	_, err := tr.MarkUsageLimit("claude", availability.UsageLimit{Message: "limit", WaitTime: "2 hours"})
	require.NoError(t, err)

	c.Advance(time.Hour)
	assert.False(t, tr.IsAvailable("claude"))
	assert.Equal(t, "1h 0m", tr.TimeUntilRecovery("claude"))

	c.Advance(2 * time.Hour)

	// A fresh process reloads the persisted map and sweeps it.
	rec := &recorder{}
	restarted := availability.NewTracker(store, availability.Config{}, rec)
	restarted.SetNowFunc(c.Now)
	all, err := restarted.Init()
	require.NoError(t, err)

	assert.True(t, all["claude"].Available)
	assert.True(t, restarted.IsAvailable("claude"))
	assert.Equal(t, []availability.EventType{availability.EventRecovered}, rec.types())
}

func TestTracker_SweepLeavesPendingEntries(t *testing.T) {
	tr, c := newTestTracker(t, &memStore{}, nil)

	_, err := tr.MarkRateLimited("a")
	require.NoError(t, err)
	_, err = tr.MarkUsageLimit("b", availability.UsageLimit{Message: "m"})
	require.NoError(t, err)

	c.Advance(10 * time.Minute)
	require.NoError(t, tr.Sweep())

	assert.True(t, tr.IsAvailable("a"))
	assert.False(t, tr.IsAvailable("b"))
}

func TestTracker_SaveFailureKeepsMemoryState(t *testing.T) {
	store := &memStore{}
	tr, _ := newTestTracker(t, store, nil)

	store.failSave = relayerr.New(relayerr.CodeAvailabilityStoreFailure, "disk full")
	s, err := tr.MarkUsageLimit("claude", availability.UsageLimit{Message: "m"})
	require.Error(t, err)
	assert.True(t, relayerr.HasCode(err, relayerr.CodeAvailabilityStoreFailure))
	assert.False(t, s.Available)
	assert.False(t, tr.IsAvailable("claude"))
}

func TestTracker_InitPropagatesLoadFailure(t *testing.T) {
	store := &memStore{failLoad: relayerr.New(relayerr.CodeAvailabilityStoreFailure, "permission denied")}
	tr := availability.NewTracker(store, availability.Config{}, nil)

	_, err := tr.Init()
	require.Error(t, err)
	assert.True(t, relayerr.HasCode(err, relayerr.CodeAvailabilityStoreFailure))
}

func TestTracker_InitDiscardsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	tr := availability.NewTracker(availability.NewFileStore(path), availability.Config{}, nil)
	all, err := tr.Init()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTracker_Snapshot(t *testing.T) {
	tr, _ := newTestTracker(t, &memStore{}, nil)

	_, err := tr.MarkUsageLimit("claude", availability.UsageLimit{Message: "out of credits", WaitTime: "90 minutes"})
	require.NoError(t, err)

	snap := tr.Snapshot("claude")
	assert.Equal(t, "claude", snap.BackendID)
	assert.False(t, snap.Available)
	assert.Equal(t, "usage-limit", snap.Reason)
	assert.Equal(t, "out of credits", snap.Message)
	assert.Equal(t, "1h 30m", snap.RecoveryIn)
	assert.Equal(t, 1, snap.FailureCount)
}

func TestTracker_ConcurrentMarks(t *testing.T) {
	store := &memStore{}
	tr, _ := newTestTracker(t, store, nil)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tr.MarkRateLimited("hot")
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, tr.Status("hot").FailureCount)
	persisted, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 20, persisted["hot"].FailureCount)
}
