package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	mu     sync.Mutex
	sweeps int
	live   map[string]bool
}

func (f *fakeRegistry) Janitor() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return 0
}

func (f *fakeRegistry) Has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live[id]
}

func (f *fakeRegistry) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

type fakeStore struct {
	mu      sync.Mutex
	calls   int
	known   func(id string) bool
	removed int
	err     error
}

func (f *fakeStore) CleanOrphans(_ context.Context, known func(id string) bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.known = known
	return f.removed, f.err
}

func newTestScheduler(reg *fakeRegistry, store *fakeStore) *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(reg, store, logger)
}

func TestStartAndStop(t *testing.T) {
	s := newTestScheduler(&fakeRegistry{}, &fakeStore{})

	require.NoError(t, s.Start(context.Background()))
	assert.EqualError(t, s.Start(context.Background()), "scheduler already started")

	s.Stop()
	s.Stop()

	// Restartable after a clean stop.
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestSweepRegistry(t *testing.T) {
	reg := &fakeRegistry{}
	s := newTestScheduler(reg, &fakeStore{})

	s.sweepRegistry(context.Background())
	s.sweepRegistry(context.Background())

	assert.Equal(t, 2, reg.sweepCount())
}

func TestSweepOrphansConsultsRegistry(t *testing.T) {
	reg := &fakeRegistry{live: map[string]bool{"job1": true}}
	store := &fakeStore{removed: 3}
	s := newTestScheduler(reg, store)

	s.sweepOrphans(context.Background())

	require.Equal(t, 1, store.calls)
	require.NotNil(t, store.known)
	assert.True(t, store.known("job1"))
	assert.False(t, store.known("job2"))
}

func TestSweepOrphansSwallowsErrors(t *testing.T) {
	store := &fakeStore{err: errors.New("disk gone")}
	s := newTestScheduler(&fakeRegistry{}, store)

	s.sweepOrphans(context.Background())
	assert.Equal(t, 1, store.calls)
}

func TestRunProtectedRecoversPanic(t *testing.T) {
	s := newTestScheduler(&fakeRegistry{}, &fakeStore{})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.NotPanics(t, func() {
		s.runProtected("boom", func(context.Context) { panic("kaboom") })
	})
}

func TestRunProtectedSkipsAfterStop(t *testing.T) {
	s := newTestScheduler(&fakeRegistry{}, &fakeStore{})
	require.NoError(t, s.Start(context.Background()))
	s.Stop()

	ran := false
	s.runProtected("late", func(context.Context) { ran = true })
	assert.False(t, ran)
}
