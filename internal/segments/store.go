// Package segments manages the on-disk workspace for transcode jobs:
// one directory per job under the configured temp root, holding media
// playlists, segment files and batch outputs. All lookups are confined
// to the job directory so request paths can never reach the rest of
// the filesystem.
package segments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/google/renameio/v2"
)

// MasterPlaylistName is the entry point playlist served for every
// HLS job, written by the engine before ffmpeg starts.
const MasterPlaylistName = "master.m3u8"

// orphanAge is how old an unclaimed job directory must be before the
// cleanup sweep removes it.
const orphanAge = time.Hour

// ErrPathEscape is returned when a requested path would resolve
// outside its job directory. Handlers treat it as not found.
var ErrPathEscape = errors.New("path escapes job directory")

// Store owns the temp root and all job directories beneath it.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates the temp root if needed and returns a store
// rooted there.
func NewStore(root string, logger *slog.Logger) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving temp root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("creating temp root: %w", err)
	}
	return &Store{
		root:   abs,
		logger: logger.With(slog.String("component", "segments")),
	}, nil
}

// Root returns the absolute temp root path.
func (s *Store) Root() string {
	return s.root
}

// JobDir returns the directory for a job without creating it.
func (s *Store) JobDir(id string) string {
	return filepath.Join(s.root, id)
}

// Create makes the job directory and returns its absolute path.
func (s *Store) Create(id string) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	dir := s.JobDir(id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating job directory: %w", err)
	}
	return dir, nil
}

// Remove deletes the job directory and everything in it.
func (s *Store) Remove(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := os.RemoveAll(s.JobDir(id)); err != nil {
		return fmt.Errorf("removing job directory: %w", err)
	}
	return nil
}

// SafePath resolves a request-supplied relative path inside the job
// directory. Absolute paths, empty paths and anything that cleans to
// outside the directory are rejected with ErrPathEscape.
func (s *Store) SafePath(id, rel string) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	if rel == "" || filepath.IsAbs(rel) {
		return "", ErrPathEscape
	}
	dir := s.JobDir(id)
	full := filepath.Join(dir, filepath.Clean(rel))
	if full != dir && !strings.HasPrefix(full, dir+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return full, nil
}

// WriteMasterPlaylist marshals the multivariant playlist and writes it
// atomically so readers never observe a partial file.
func (s *Store) WriteMasterPlaylist(id string, pl *playlist.Multivariant) error {
	data, err := pl.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling master playlist: %w", err)
	}
	if _, err := s.Create(id); err != nil {
		return err
	}
	return atomicWrite(filepath.Join(s.JobDir(id), MasterPlaylistName), data)
}

// WriteMediaPlaylist writes a generated media playlist at a relative
// path inside the job directory, creating parent directories as needed.
func (s *Store) WriteMediaPlaylist(id, rel string, pl *playlist.Media) error {
	data, err := pl.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling media playlist: %w", err)
	}
	full, err := s.SafePath(id, rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("creating playlist directory: %w", err)
	}
	return atomicWrite(full, data)
}

// FinalizePlaylists stamps the end-of-stream marker on every media
// playlist in the job directory. ffmpeg's VOD output usually carries
// the marker already, so most playlists are left untouched; the call
// is idempotent.
func (s *Store) FinalizePlaylists(id string) error {
	if err := validID(id); err != nil {
		return err
	}
	dir := s.JobDir(id)
	var finalized int
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".m3u8") {
			return nil
		}
		changed, err := s.finalizeOne(path)
		if err != nil {
			return err
		}
		if changed {
			finalized++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("finalizing playlists: %w", err)
	}
	if finalized > 0 {
		s.logger.Debug("stamped end of stream",
			slog.String("job_id", id), slog.Int("playlists", finalized))
	}
	return nil
}

func (s *Store) finalizeOne(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		// Not a playlist we understand; leave it alone.
		s.logger.Warn("skipping unparseable playlist",
			slog.String("path", path), slog.Any("error", err))
		return false, nil
	}
	media, ok := pl.(*playlist.Media)
	if !ok || media.Endlist {
		return false, nil
	}
	media.Endlist = true
	out, err := media.Marshal()
	if err != nil {
		return false, fmt.Errorf("marshaling playlist: %w", err)
	}
	if err := atomicWrite(path, out); err != nil {
		return false, err
	}
	return true, nil
}

// CleanOrphans removes job directories that no live job claims and
// that have not been touched for over an hour. Crashed runs and
// records evicted without their directories are both covered.
func (s *Store) CleanOrphans(ctx context.Context, known func(id string) bool) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("reading temp root: %w", err)
	}
	cutoff := time.Now().Add(-orphanAge)
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !entry.IsDir() || known(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, entry.Name())); err != nil {
			s.logger.Warn("removing orphaned directory",
				slog.String("dir", entry.Name()), slog.Any("error", err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed orphaned job directories", slog.Int("count", removed))
	}
	return removed, nil
}

func atomicWrite(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("creating pending file: %w", err)
	}
	defer pending.Cleanup() //nolint:errcheck
	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("writing pending file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replacing file: %w", err)
	}
	return nil
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id {
		return fmt.Errorf("%w: invalid job id %q", ErrPathEscape, id)
	}
	return nil
}
