package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/models"
)

func finishJob(t *testing.T, r *Registry, id string, status models.JobStatus) {
	t.Helper()
	dispatchJob(t, r, id)
	_, err := r.SetStatus(id, status, "")
	require.NoError(t, err)
}

func TestJanitorEvictsExpired(t *testing.T) {
	r := newTestRegistry(t, config.JobsConfig{Retention: 2 * time.Minute})

	expired := submitJob(t, r)
	finishJob(t, r, expired.ID, models.StatusReady)
	backdate(r, expired.ID, time.Now().UTC().Add(-5*time.Minute))

	fresh := submitJob(t, r)
	finishJob(t, r, fresh.ID, models.StatusReady)

	live := submitJob(t, r)

	assert.Equal(t, 1, r.Janitor())

	_, ok := r.Get(expired.ID)
	assert.False(t, ok)
	assert.NoDirExists(t, expired.WorkingDir)

	_, ok = r.Get(fresh.ID)
	assert.True(t, ok)
	_, ok = r.Get(live.ID)
	assert.True(t, ok)
}

func TestJanitorKeepsWatchedJobs(t *testing.T) {
	r := newTestRegistry(t, config.JobsConfig{Retention: 2 * time.Minute})

	a := submitJob(t, r)
	finishJob(t, r, a.ID, models.StatusReady)

	// Finished long ago but a stream read refreshed last access:
	// retention counts from whichever is newer.
	backdate(r, a.ID, time.Now().UTC().Add(-time.Hour))
	r.Touch(a.ID)

	assert.Zero(t, r.Janitor())
	_, ok := r.Get(a.ID)
	assert.True(t, ok)
}

func TestJanitorEnforcesTerminalCap(t *testing.T) {
	r := newTestRegistry(t, config.JobsConfig{MaxTerminal: 2})

	var ids []string
	for i := 0; i < 4; i++ {
		j := submitJob(t, r)
		finishJob(t, r, j.ID, models.StatusReady)
		ids = append(ids, j.ID)
		// Distinct finish times keep oldest-first deterministic.
		backdate(r, j.ID, time.Now().UTC().Add(-time.Duration(10-len(ids))*time.Second))
	}

	assert.Equal(t, 2, r.Janitor())

	_, ok := r.Get(ids[0])
	assert.False(t, ok)
	_, ok = r.Get(ids[1])
	assert.False(t, ok)
	_, ok = r.Get(ids[2])
	assert.True(t, ok)
	_, ok = r.Get(ids[3])
	assert.True(t, ok)
}

func TestJanitorNeverEvictsLiveJobs(t *testing.T) {
	r := newTestRegistry(t, config.JobsConfig{MaxTotal: 2, MaxTerminal: 1})

	a := submitJob(t, r)
	b := submitJob(t, r)
	dispatchJob(t, r, a.ID)

	assert.Zero(t, r.Janitor())
	_, ok := r.Get(a.ID)
	assert.True(t, ok)
	_, ok = r.Get(b.ID)
	assert.True(t, ok)
}

func TestStatsCounters(t *testing.T) {
	r := newTestRegistry(t, config.JobsConfig{})

	ok1 := submitJob(t, r)
	dispatchJob(t, r, ok1.ID)
	require.NoError(t, r.SetPlan(ok1.ID, models.HWAccelNVENC, 100))
	require.NoError(t, r.UpdateProgress(ok1.ID, models.ProgressUpdate{Progress: 90, Speed: 2}))
	// Output bytes are measured from the working tree at completion.
	require.NoError(t, os.WriteFile(filepath.Join(ok1.WorkingDir, "segment_00000.ts"), make([]byte, 4096), 0o644))
	_, err := r.SetStatus(ok1.ID, models.StatusReady, "")
	require.NoError(t, err)

	failed := submitJob(t, r)
	dispatchJob(t, r, failed.ID)
	require.NoError(t, r.SetPlan(failed.ID, models.HWAccelSoftware, 0))
	_, err = r.SetStatus(failed.ID, models.StatusError, "boom")
	require.NoError(t, err)

	cancelled := submitJob(t, r)
	require.NoError(t, r.Cancel(cancelled.ID))

	queued := submitJob(t, r)
	_ = queued

	s := r.Stats()
	assert.Equal(t, 4, s.TotalJobs)
	assert.Equal(t, 1, s.QueuedJobs)
	assert.Equal(t, 0, s.ProcessingJobs)
	assert.Equal(t, int64(3), s.Processed)
	assert.Equal(t, int64(1), s.Succeeded)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, int64(1), s.Cancelled)
	assert.Equal(t, int64(4096), s.BytesProcessed)
	assert.InDelta(t, 2.0, s.AverageSpeed, 1e-9)
	assert.Equal(t, int64(1), s.HWAccelUsage[models.HWAccelNVENC])
	assert.Equal(t, int64(1), s.HWAccelUsage[models.HWAccelSoftware])
}
