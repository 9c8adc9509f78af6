// Package subtitles downloads external subtitle tracks into a job's
// working directory so the playlist server can expose them alongside
// the generated renditions.
package subtitles

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/vodarr/vodarr/internal/httpclient"
	"github.com/vodarr/vodarr/internal/models"
)

// maxTrackBytes bounds a single subtitle download.
const maxTrackBytes = 10 << 20

// Fetched is a subtitle track that landed on disk.
type Fetched struct {
	Track models.SubtitleTrack

	// Path is relative to the job working directory, e.g. "subs/en.vtt".
	Path string
}

// Fetcher downloads subtitle tracks.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewFetcher creates a fetcher on the given client, which is expected
// to retry transient failures.
func NewFetcher(client *http.Client, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client: client,
		logger: logger.With(slog.String("component", "subtitles")),
	}
}

// FetchAll downloads every declared track into {dir}/subs. A track that
// cannot be downloaded is dropped with a warning; subtitles never fail
// the job.
func (f *Fetcher) FetchAll(ctx context.Context, dir string, tracks []models.SubtitleTrack) []Fetched {
	if len(tracks) == 0 {
		return nil
	}
	subsDir := filepath.Join(dir, "subs")
	if err := os.MkdirAll(subsDir, 0o755); err != nil {
		f.logger.Warn("creating subtitle directory, dropping all tracks",
			slog.String("dir", subsDir), slog.Any("error", err))
		return nil
	}

	seen := make(map[string]int)
	var out []Fetched
	for _, track := range tracks {
		rel := path.Join("subs", trackFileName(track.Language, seen))
		if err := f.fetchOne(ctx, track.URL, filepath.Join(dir, rel)); err != nil {
			f.logger.Warn("subtitle fetch failed, dropping track",
				slog.String("url", httpclient.ObfuscateURL(track.URL)),
				slog.String("language", track.Language),
				slog.Any("error", err))
			continue
		}
		f.logger.Debug("subtitle fetched",
			slog.String("language", track.Language), slog.String("path", rel))
		out = append(out, Fetched{Track: track, Path: rel})
	}
	return out
}

func (f *Fetcher) fetchOne(ctx context.Context, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	pending, err := renameio.NewPendingFile(target)
	if err != nil {
		return fmt.Errorf("creating pending file: %w", err)
	}
	defer pending.Cleanup() //nolint:errcheck

	n, err := io.Copy(pending, io.LimitReader(resp.Body, maxTrackBytes+1))
	if err != nil {
		return fmt.Errorf("downloading: %w", err)
	}
	if n > maxTrackBytes {
		return fmt.Errorf("track exceeds %d bytes", maxTrackBytes)
	}
	return pending.CloseAtomicallyReplace()
}

// trackFileName derives a safe on-disk name from the language tag.
// Repeated languages get a numeric suffix.
func trackFileName(lang string, seen map[string]int) string {
	name := sanitizeLang(lang)
	seen[name]++
	if n := seen[name]; n > 1 {
		return fmt.Sprintf("%s_%d.vtt", name, n)
	}
	return name + ".vtt"
}

func sanitizeLang(lang string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(lang) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "track"
	}
	return b.String()
}
