package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/segments"
)

// minOutputBytes is the smallest output accepted as real media. ffmpeg
// exits 0 on some truncated runs, for example when a network source
// drops right after the header, leaving a header-only file behind.
const minOutputBytes = 1024

// validateOutput checks that a zero-exit run produced playable
// artifacts before the job is declared ready.
func (e *Engine) validateOutput(job *models.Job, plan *Plan) error {
	if plan.Mode.HLS() {
		return e.validateHLS(job, plan)
	}
	return validateFileSize(filepath.Join(job.WorkingDir, plan.OutputRel))
}

func (e *Engine) validateHLS(job *models.Job, plan *Plan) error {
	master, err := e.store.SafePath(job.ID, segments.MasterPlaylistName)
	if err != nil {
		return err
	}
	if _, err := os.Stat(master); err != nil {
		return fmt.Errorf("master playlist missing: %w", err)
	}
	for _, v := range plan.Variants {
		if err := e.validateVariant(job.ID, v); err != nil {
			return fmt.Errorf("variant %s: %w", v.Name, err)
		}
	}
	return nil
}

// validateVariant parses one media playlist and demuxes the head of its
// first segment. The muxer writes segment URIs relative to the playlist,
// so they resolve against the playlist's directory.
func (e *Engine) validateVariant(jobID string, v Variant) error {
	plPath, err := e.store.SafePath(jobID, v.Playlist)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(plPath)
	if err != nil {
		return fmt.Errorf("media playlist missing: %w", err)
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("media playlist unreadable: %w", err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return errors.New("media playlist has multivariant layout")
	}
	if len(media.Segments) == 0 {
		return errors.New("media playlist references no segments")
	}

	segRel := path.Join(path.Dir(filepath.ToSlash(v.Playlist)), media.Segments[0].URI)
	segPath, err := e.store.SafePath(jobID, segRel)
	if err != nil {
		return err
	}
	if err := validateFileSize(segPath); err != nil {
		return err
	}
	return validateTransportStream(segPath)
}

func validateFileSize(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("output missing: %w", err)
	}
	if info.Size() < minOutputBytes {
		return fmt.Errorf("output %s is %d bytes, likely truncated", filepath.Base(p), info.Size())
	}
	return nil
}

func validateTransportStream(p string) error {
	f, err := os.Open(p)
	if err != nil {
		return fmt.Errorf("opening segment: %w", err)
	}
	defer f.Close()

	dmx := astits.NewDemuxer(context.Background(), bufio.NewReader(f))
	if _, err := dmx.NextPacket(); err != nil {
		return fmt.Errorf("segment %s is not a transport stream: %w", filepath.Base(p), err)
	}
	return nil
}
