package subtitles

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vodarr/vodarr/internal/models"
)

const vttBody = "WEBVTT\n\n00:00.000 --> 00:02.000\nhello\n"

func newTestFetcher() *Fetcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFetcher(&http.Client{}, logger)
}

func TestFetchAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(vttBody))
	}))
	defer srv.Close()

	dir := t.TempDir()
	tracks := []models.SubtitleTrack{
		{URL: srv.URL + "/en.vtt", Language: "en", Title: "English", Default: true},
		{URL: srv.URL + "/de.vtt", Language: "de", Title: "Deutsch"},
	}

	got := newTestFetcher().FetchAll(context.Background(), dir, tracks)
	require.Len(t, got, 2)

	assert.Equal(t, "subs/en.vtt", got[0].Path)
	assert.True(t, got[0].Track.Default)
	assert.Equal(t, "subs/de.vtt", got[1].Path)

	data, err := os.ReadFile(filepath.Join(dir, "subs", "en.vtt"))
	require.NoError(t, err)
	assert.Equal(t, vttBody, string(data))
}

func TestFetchAllDropsFailedTracks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.vtt" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(vttBody))
	}))
	defer srv.Close()

	dir := t.TempDir()
	tracks := []models.SubtitleTrack{
		{URL: srv.URL + "/missing.vtt", Language: "en"},
		{URL: srv.URL + "/de.vtt", Language: "de"},
	}

	got := newTestFetcher().FetchAll(context.Background(), dir, tracks)
	require.Len(t, got, 1)
	assert.Equal(t, "de", got[0].Track.Language)

	assert.NoFileExists(t, filepath.Join(dir, "subs", "en.vtt"))
}

func TestFetchAllDuplicateLanguages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(vttBody))
	}))
	defer srv.Close()

	dir := t.TempDir()
	tracks := []models.SubtitleTrack{
		{URL: srv.URL + "/a.vtt", Language: "en"},
		{URL: srv.URL + "/b.vtt", Language: "en"},
	}

	got := newTestFetcher().FetchAll(context.Background(), dir, tracks)
	require.Len(t, got, 2)
	assert.Equal(t, "subs/en.vtt", got[0].Path)
	assert.Equal(t, "subs/en_2.vtt", got[1].Path)
}

func TestFetchAllEmpty(t *testing.T) {
	got := newTestFetcher().FetchAll(context.Background(), t.TempDir(), nil)
	assert.Empty(t, got)
}

func TestTrackFileNameSanitizes(t *testing.T) {
	tests := []struct {
		lang string
		want string
	}{
		{"en", "en.vtt"},
		{"pt-BR", "pt-br.vtt"},
		{"../evil", "evil.vtt"},
		{"", "track.vtt"},
		{"///", "track.vtt"},
	}

	for _, tt := range tests {
		t.Run(tt.lang, func(t *testing.T) {
			assert.Equal(t, tt.want, trackFileName(tt.lang, map[string]int{}))
		})
	}
}
