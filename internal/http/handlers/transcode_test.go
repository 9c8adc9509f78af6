package handlers_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodarr/vodarr/internal/config"
	"github.com/vodarr/vodarr/internal/hardware"
	"github.com/vodarr/vodarr/internal/http/handlers"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/registry"
	"github.com/vodarr/vodarr/internal/segments"
)

type fakeEngine struct {
	wakes int
}

func (e *fakeEngine) Wake() { e.wakes++ }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProfile() *hardware.Profile {
	return &hardware.Profile{
		Tier:     hardware.TierMedium,
		MaxJobs:  2,
		Families: []models.HWAccel{models.HWAccelVAAPI},
	}
}

// newTranscodeFixture wires a real registry and store behind the
// handler; only the engine is faked.
func newTranscodeFixture(t *testing.T, jobsCfg config.JobsConfig) (*chi.Mux, *registry.Registry, *fakeEngine) {
	t.Helper()
	logger := testLogger()

	store, err := segments.NewStore(t.TempDir(), logger)
	require.NoError(t, err)

	if jobsCfg.Retention == 0 {
		jobsCfg.Retention = time.Minute
	}
	if jobsCfg.MaxTotal == 0 {
		jobsCfg.MaxTotal = 20
	}
	if jobsCfg.MaxTerminal == 0 {
		jobsCfg.MaxTerminal = 10
	}
	reg := registry.New(jobsCfg, store, logger)

	engine := &fakeEngine{}
	handler := handlers.NewTranscodeHandler(reg, testProfile(), engine, false, "", logger)
	handler.SetDeleteWait(200*time.Millisecond, 10*time.Millisecond)

	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	handler.Register(api)
	return router, reg, engine
}

func postJSON(t *testing.T, router *chi.Mux, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handlers.ErrorDetail {
	t.Helper()
	var resp handlers.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Err
}

func TestStartTranscode(t *testing.T) {
	t.Run("queues a valid stream request", func(t *testing.T) {
		router, reg, engine := newTranscodeFixture(t, config.JobsConfig{})

		rec := postJSON(t, router, "/api/transcode/start", `{"source": "/media/input.mkv"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp handlers.StartOutput
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp.Body))
		assert.NotEmpty(t, resp.Body.JobID)
		assert.Equal(t, models.StatusQueued, resp.Body.Status)
		assert.Equal(t, "/stream/"+resp.Body.JobID+"/master.m3u8", resp.Body.StreamURL)

		assert.Equal(t, 1, engine.wakes)
		_, ok := reg.Get(resp.Body.JobID)
		assert.True(t, ok)
	})

	t.Run("batch requests get no stream url", func(t *testing.T) {
		router, _, _ := newTranscodeFixture(t, config.JobsConfig{})

		rec := postJSON(t, router, "/api/transcode/start",
			`{"source": "/media/input.mkv", "mode": "batch"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp handlers.StartOutput
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp.Body))
		assert.Empty(t, resp.Body.StreamURL)
	})

	t.Run("rejects a missing source", func(t *testing.T) {
		router, _, _ := newTranscodeFixture(t, config.JobsConfig{})

		rec := postJSON(t, router, "/api/transcode/start", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation", decodeError(t, rec).Code)
	})

	t.Run("rejects a relative source path", func(t *testing.T) {
		router, _, _ := newTranscodeFixture(t, config.JobsConfig{})

		rec := postJSON(t, router, "/api/transcode/start", `{"source": "media/input.mkv"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		detail := decodeError(t, rec)
		assert.Equal(t, "validation", detail.Code)
		assert.Equal(t, "source", detail.Field)
	})

	t.Run("rejects abr when disabled", func(t *testing.T) {
		router, _, _ := newTranscodeFixture(t, config.JobsConfig{})

		rec := postJSON(t, router, "/api/transcode/start",
			`{"source": "/media/input.mkv", "mode": "abr"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "mode", decodeError(t, rec).Field)
	})

	t.Run("rejects an absent encoder family", func(t *testing.T) {
		router, _, _ := newTranscodeFixture(t, config.JobsConfig{})

		// The fixture profile only has vaapi.
		rec := postJSON(t, router, "/api/transcode/start",
			`{"source": "/media/input.mkv", "hw_accel": "nvenc"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "hw_accel", decodeError(t, rec).Field)
	})

	t.Run("accepts software and present families", func(t *testing.T) {
		router, _, _ := newTranscodeFixture(t, config.JobsConfig{})

		for _, accel := range []string{"software", "vaapi", "auto"} {
			rec := postJSON(t, router, "/api/transcode/start",
				`{"source": "/media/input.mkv", "hw_accel": "`+accel+`"}`)
			assert.Equal(t, http.StatusOK, rec.Code, accel)
		}
	})

	t.Run("returns capacity when the table is full of live jobs", func(t *testing.T) {
		router, _, _ := newTranscodeFixture(t, config.JobsConfig{MaxTotal: 1, MaxTerminal: 1})

		rec := postJSON(t, router, "/api/transcode/start", `{"source": "/media/one.mkv"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = postJSON(t, router, "/api/transcode/start", `{"source": "/media/two.mkv"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "5", rec.Header().Get("Retry-After"))
		assert.Equal(t, "capacity", decodeError(t, rec).Code)
	})
}

func TestGetTranscodeStatus(t *testing.T) {
	t.Run("returns the job record", func(t *testing.T) {
		router, reg, _ := newTranscodeFixture(t, config.JobsConfig{})

		req := models.TranscodeRequest{Source: "/media/input.mkv"}
		req.Normalize()
		job, err := reg.Submit(req)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/transcode/"+job.ID+"/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var got models.Job
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, models.StatusQueued, got.Status)
		assert.Equal(t, "/media/input.mkv", got.Request.Source)
	})

	t.Run("unknown job is not found", func(t *testing.T) {
		router, _, _ := newTranscodeFixture(t, config.JobsConfig{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/transcode/01JUNKJUNKJUNKJUNKJUNKJUNK/status", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeError(t, rec).Code)
	})
}

func TestCancelTranscode(t *testing.T) {
	t.Run("cancels a queued job", func(t *testing.T) {
		router, reg, _ := newTranscodeFixture(t, config.JobsConfig{})

		req := models.TranscodeRequest{Source: "/media/input.mkv"}
		req.Normalize()
		job, err := reg.Submit(req)
		require.NoError(t, err)

		rec := postJSON(t, router, "/api/transcode/"+job.ID+"/cancel", "")
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp handlers.CancelOutput
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp.Body))
		assert.Equal(t, job.ID, resp.Body.JobID)
		assert.Equal(t, models.StatusCancelled, resp.Body.Status)

		got, ok := reg.Get(job.ID)
		require.True(t, ok)
		assert.Equal(t, models.StatusCancelled, got.Status)
	})

	t.Run("cancelling twice still acknowledges", func(t *testing.T) {
		router, reg, _ := newTranscodeFixture(t, config.JobsConfig{})

		req := models.TranscodeRequest{Source: "/media/input.mkv"}
		req.Normalize()
		job, err := reg.Submit(req)
		require.NoError(t, err)

		rec := postJSON(t, router, "/api/transcode/"+job.ID+"/cancel", "")
		require.Equal(t, http.StatusOK, rec.Code)
		rec = postJSON(t, router, "/api/transcode/"+job.ID+"/cancel", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown job is not found", func(t *testing.T) {
		router, _, _ := newTranscodeFixture(t, config.JobsConfig{})

		rec := postJSON(t, router, "/api/transcode/01JUNKJUNKJUNKJUNKJUNKJUNK/cancel", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDeleteTranscode(t *testing.T) {
	t.Run("deletes a terminal job and its workspace", func(t *testing.T) {
		router, reg, _ := newTranscodeFixture(t, config.JobsConfig{})

		req := models.TranscodeRequest{Source: "/media/input.mkv"}
		req.Normalize()
		job, err := reg.Submit(req)
		require.NoError(t, err)
		require.NoError(t, reg.Cancel(job.ID))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/transcode/"+job.ID, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		_, ok := reg.Get(job.ID)
		assert.False(t, ok)
		assert.NoDirExists(t, job.WorkingDir)
	})

	t.Run("cancels a queued job before deleting", func(t *testing.T) {
		router, reg, _ := newTranscodeFixture(t, config.JobsConfig{})

		req := models.TranscodeRequest{Source: "/media/input.mkv"}
		req.Normalize()
		job, err := reg.Submit(req)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/transcode/"+job.ID, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		_, ok := reg.Get(job.ID)
		assert.False(t, ok)
	})

	t.Run("unknown job is not found", func(t *testing.T) {
		router, _, _ := newTranscodeFixture(t, config.JobsConfig{})

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/transcode/01JUNKJUNKJUNKJUNKJUNKJUNK", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
