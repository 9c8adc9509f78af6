package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/registry"
	"github.com/vodarr/vodarr/internal/segments"
)

const (
	// playlistWait bounds how long a playlist request blocks while the
	// encoder produces its first segments; HDR sources can take 10-20
	// seconds before anything lands on disk.
	playlistWait = 30 * time.Second
	playlistPoll = 500 * time.Millisecond
)

// StreamHandler serves job artifacts: the HLS tree under /stream and
// batch outputs under /download. Both are raw chi routes; playlist
// waiting and range serving do not fit request/response codecs.
type StreamHandler struct {
	registry *registry.Registry
	store    *segments.Store
	logger   *slog.Logger

	playlistWait time.Duration
	playlistPoll time.Duration
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(reg *registry.Registry, store *segments.Store, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		registry:     reg,
		store:        store,
		logger:       logger,
		playlistWait: playlistWait,
		playlistPoll: playlistPoll,
	}
}

// SetPlaylistWait overrides the playlist wait budget (for testing).
func (h *StreamHandler) SetPlaylistWait(wait, poll time.Duration) {
	h.playlistWait = wait
	h.playlistPoll = poll
}

// RegisterChiRoutes registers the media routes as raw chi handlers.
func (h *StreamHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/stream/{jobID}/*", h.handleStream)
	router.Get("/download/{jobID}", h.handleDownload)
}

// handleStream serves one file from the job's working tree. Every read
// refreshes the job's last-access stamp so actively watched jobs
// outlive the retention sweep.
func (h *StreamHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	rel := chi.URLParam(r, "*")

	if _, ok := h.registry.Get(jobID); !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	h.registry.Touch(jobID)

	path, err := h.store.SafePath(jobID, rel)
	if err != nil {
		writeError(w, http.StatusNotFound, "no such file")
		return
	}

	if strings.HasSuffix(strings.ToLower(rel), ".m3u8") {
		h.servePlaylist(w, r, jobID, path)
		return
	}
	h.serveSegment(w, r, path)
}

// servePlaylist returns playlist bytes, waiting for the encoder to
// produce the file when the job is still live. Served playlists for
// ready jobs always carry the end-of-list marker even while the
// on-disk copy is mid-finalize.
func (h *StreamHandler) servePlaylist(w http.ResponseWriter, r *http.Request, jobID, path string) {
	deadline := time.Now().Add(h.playlistWait)

	for {
		data, err := os.ReadFile(path)
		if err == nil {
			if job, ok := h.registry.Get(jobID); ok && job.Status == models.StatusReady {
				data = segments.EnsureEndlist(data)
			}
			w.Header().Set("Content-Type", segments.ContentTypePlaylist)
			w.Header().Set("Cache-Control", "no-cache")
			w.Write(data)
			return
		}
		if !os.IsNotExist(err) {
			h.logger.Error("reading playlist",
				slog.String("job_id", jobID), slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "reading playlist")
			return
		}

		// A terminal job will never produce the file; a live one might.
		job, ok := h.registry.Get(jobID)
		if !ok || job.Status.IsTerminal() || time.Now().After(deadline) {
			writeError(w, http.StatusNotFound, "playlist not available")
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-time.After(h.playlistPoll):
		}
	}
}

// serveSegment serves a segment or subtitle file with range support.
// Missing files are 404; a seek into a not-yet-encoded part of the
// timeline resolves itself once the encoder catches up.
func (h *StreamHandler) serveSegment(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}

	w.Header().Set("Content-Type", segments.ContentTypeFor(path))
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// handleDownload serves a completed batch job's output file as an
// attachment.
func (h *StreamHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, ok := h.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Request.Mode != models.ModeBatch {
		writeError(w, http.StatusNotFound, "job has no downloadable output")
		return
	}
	if job.Status != models.StatusReady {
		writeError(w, http.StatusConflict, "job output is not ready")
		return
	}
	h.registry.Touch(jobID)

	name := "output." + string(job.Request.Output.Container)
	path, err := h.store.SafePath(jobID, name)
	if err != nil {
		writeError(w, http.StatusNotFound, "no such file")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "output file missing")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusNotFound, "output file missing")
		return
	}

	w.Header().Set("Content-Type", segments.ContentTypeFor(name))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", jobID+filepath.Ext(name)))
	http.ServeContent(w, r, name, info.ModTime(), f)
}
