package callback

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodarr/vodarr/internal/models"
)

func testNotifier() *Notifier {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(&http.Client{Timeout: 2 * time.Second}, logger)
}

func readyJob(callbackURL string) *models.Job {
	job := models.NewJob(models.TranscodeRequest{
		Source:      "http://media.local/movie.mkv",
		Mode:        models.ModeStream,
		CallbackURL: callbackURL,
	})
	job.Status = models.StatusReady
	job.Progress = 100
	return job
}

func TestNotifyPostsJobSnapshot(t *testing.T) {
	var (
		calls       atomic.Int32
		contentType string
		payload     models.Job
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	job := readyJob(srv.URL)
	testNotifier().Notify(context.Background(), job)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, job.ID, payload.ID)
	assert.Equal(t, models.StatusReady, payload.Status)
	assert.Equal(t, float64(100), payload.Progress)
}

func TestNotifySkipsJobsWithoutCallback(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	testNotifier().Notify(context.Background(), readyJob(""))

	assert.Equal(t, int32(0), calls.Load())
}

func TestNotifySwallowsServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	testNotifier().Notify(context.Background(), readyJob(srv.URL))

	assert.Equal(t, int32(1), calls.Load(), "a rejected callback must not be retried")
}

func TestNotifySwallowsTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	testNotifier().Notify(context.Background(), readyJob(srv.URL))
}
