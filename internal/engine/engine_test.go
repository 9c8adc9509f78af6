package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodarr/vodarr/internal/admission"
	"github.com/vodarr/vodarr/internal/ffmpeg"
	"github.com/vodarr/vodarr/internal/models"
)

func TestEngineRunDispatchesQueuedJob(t *testing.T) {
	h := newEngineHarness(t, softwareProfile(), fixedProber{info: hdSource()})
	h.runner.script(func(_ context.Context, cmd *ffmpeg.Command, _ ffmpeg.RunOptions) error {
		writeStreamOutputs(t, filepath.Dir(cmd.Args[len(cmd.Args)-1]))
		return nil
	})

	job, err := h.registry.Submit(streamRequest("http://origin/live.mp4"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		h.engine.Run(ctx)
		close(done)
	}()
	h.engine.Wake()

	require.Eventually(t, func() bool {
		snap, ok := h.registry.Get(job.ID)
		return ok && snap.Status == models.StatusReady
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after context cancellation")
	}
}

func TestEngineDeniedAdmissionKeepsJobQueued(t *testing.T) {
	h := newEngineHarness(t, softwareProfile(), fixedProber{info: hdSource()})
	h.decider.decision = admission.Decision{Allow: false, Reason: admission.ReasonLoadCritical}

	job, err := h.registry.Submit(streamRequest("http://origin/live.mp4"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.engine.Run(ctx)
		close(done)
	}()
	h.engine.Wake()

	assert.Never(t, func() bool {
		snap, ok := h.registry.Get(job.ID)
		return !ok || snap.Status != models.StatusQueued
	}, 300*time.Millisecond, 25*time.Millisecond)
	assert.Equal(t, 1, h.registry.QueueLength())

	cancel()
	<-done
}

func TestEngineShutdownInterruptsWorker(t *testing.T) {
	h := newEngineHarness(t, softwareProfile(), fixedProber{info: hdSource()})
	h.runner.script(func(ctx context.Context, _ *ffmpeg.Command, _ ffmpeg.RunOptions) error {
		<-ctx.Done()
		return &ffmpeg.ProcessError{ExitCode: -1, Cancelled: true}
	})

	job, err := h.registry.Submit(streamRequest("http://origin/live.mp4"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.engine.Run(ctx)
		close(done)
	}()
	h.engine.Wake()

	require.Eventually(t, func() bool {
		snap, ok := h.registry.Get(job.ID)
		return ok && snap.Status == models.StatusProcessing
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop with a worker in flight")
	}

	snap, ok := h.registry.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusCancelled, snap.Status)
}

func TestEngineWakeDoesNotBlock(t *testing.T) {
	h := newEngineHarness(t, softwareProfile(), fixedProber{info: hdSource()})
	for i := 0; i < 3; i++ {
		h.engine.Wake()
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := New(testPlannerConfig(), Deps{}, logger)

	assert.Equal(t, 2*time.Second, eng.backoff(1))
	assert.Equal(t, 8*time.Second, eng.backoff(3))
	assert.Equal(t, backoffCap, eng.backoff(10))
}
