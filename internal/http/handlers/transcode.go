package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vodarr/vodarr/internal/hardware"
	"github.com/vodarr/vodarr/internal/models"
	"github.com/vodarr/vodarr/internal/registry"
)

const (
	// deleteWait bounds how long a delete blocks on a cancelled worker
	// winding down before giving up with a conflict.
	deleteWait = 6 * time.Second
	deletePoll = 100 * time.Millisecond
)

// TranscodeHandler serves the job lifecycle endpoints.
type TranscodeHandler struct {
	registry  *registry.Registry
	profile   *hardware.Profile
	engine    Waker
	enableABR bool
	baseURL   string
	logger    *slog.Logger

	deleteWait time.Duration
	deletePoll time.Duration
}

// NewTranscodeHandler creates a transcode handler.
func NewTranscodeHandler(reg *registry.Registry, profile *hardware.Profile, engine Waker, enableABR bool, baseURL string, logger *slog.Logger) *TranscodeHandler {
	return &TranscodeHandler{
		registry:   reg,
		profile:    profile,
		engine:     engine,
		enableABR:  enableABR,
		baseURL:    baseURL,
		logger:     logger,
		deleteWait: deleteWait,
		deletePoll: deletePoll,
	}
}

// SetDeleteWait overrides the cancel-then-delete wait (for testing).
func (h *TranscodeHandler) SetDeleteWait(wait, poll time.Duration) {
	h.deleteWait = wait
	h.deletePoll = poll
}

// StartInput is the input for submitting a job.
type StartInput struct {
	Body models.TranscodeRequest
}

// StartBody is the submission acknowledgement.
type StartBody struct {
	JobID     string           `json:"job_id"`
	Status    models.JobStatus `json:"status"`
	StreamURL string           `json:"stream_url,omitempty"`
	DurationS float64          `json:"duration_s,omitempty"`
}

// StartOutput is the output for submitting a job.
type StartOutput struct {
	Body StartBody
}

// JobStatusInput is the input for reading a job record.
type JobStatusInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// JobStatusOutput is the output for reading a job record.
type JobStatusOutput struct {
	Body models.Job
}

// CancelInput is the input for cancelling a job.
type CancelInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// CancelBody acknowledges a cancellation.
type CancelBody struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
}

// CancelOutput is the output for cancelling a job.
type CancelOutput struct {
	Body CancelBody
}

// DeleteInput is the input for deleting a job.
type DeleteInput struct {
	ID string `path:"id" doc:"Job ID (ULID)"`
}

// DeleteOutput is the output for deleting a job.
type DeleteOutput struct{}

// Register registers the transcode routes with the API.
func (h *TranscodeHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startTranscode",
		Method:      "POST",
		Path:        "/api/transcode/start",
		Summary:     "Submit a transcode job",
		Description: "Validates the request, queues a job, and returns its identity",
		Tags:        []string{"Transcode"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "getTranscodeStatus",
		Method:      "GET",
		Path:        "/api/transcode/{id}/status",
		Summary:     "Get job status",
		Description: "Returns the full job record",
		Tags:        []string{"Transcode"},
	}, h.Status)

	huma.Register(api, huma.Operation{
		OperationID: "cancelTranscode",
		Method:      "POST",
		Path:        "/api/transcode/{id}/cancel",
		Summary:     "Cancel a job",
		Description: "Cancels a queued or processing job; terminal jobs are left as they are",
		Tags:        []string{"Transcode"},
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteTranscode",
		Method:        "DELETE",
		Path:          "/api/transcode/{id}",
		Summary:       "Delete a job",
		Description:   "Cancels the job if still active, then removes its record and working directory",
		Tags:          []string{"Transcode"},
		DefaultStatus: http.StatusNoContent,
	}, h.Delete)
}

// Start validates and queues a transcode request.
func (h *TranscodeHandler) Start(ctx context.Context, input *StartInput) (*StartOutput, error) {
	req := input.Body
	req.Normalize()

	if err := req.Validate(); err != nil {
		var verr models.ErrValidation
		if errors.As(err, &verr) {
			return nil, validationError(verr.Field, verr.Message)
		}
		return nil, validationError("source", err.Error())
	}

	if req.Mode == models.ModeABR && !h.enableABR {
		return nil, validationError("mode", "abr mode is disabled on this server")
	}

	if req.HWAccel != models.HWAccelAuto && !h.profile.FamilyAvailable(req.HWAccel) {
		return nil, validationError("hw_accel", models.ErrHWAccelUnavailable.Error())
	}

	job, err := h.registry.Submit(req)
	if err != nil {
		if errors.Is(err, registry.ErrCapacity) {
			return nil, huma.ErrorWithHeaders(
				&ErrorResponse{
					status: http.StatusServiceUnavailable,
					Err:    ErrorDetail{Code: "capacity", Message: "job capacity reached, retry shortly"},
				},
				http.Header{"Retry-After": []string{"5"}},
			)
		}
		return nil, huma.Error500InternalServerError("submitting job", err)
	}

	h.engine.Wake()

	body := jobBody(job, h.baseURL)
	return &StartOutput{
		Body: StartBody{
			JobID:     job.ID,
			Status:    job.Status,
			StreamURL: body.StreamURL,
			DurationS: job.DurationS,
		},
	}, nil
}

// Status returns the job record.
func (h *TranscodeHandler) Status(ctx context.Context, input *JobStatusInput) (*JobStatusOutput, error) {
	job, ok := h.registry.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("job not found")
	}

	return &JobStatusOutput{Body: jobBody(job, h.baseURL)}, nil
}

// Cancel requests cancellation. Cancelling a job that already reached
// a terminal status is a no-op that still acknowledges.
func (h *TranscodeHandler) Cancel(ctx context.Context, input *CancelInput) (*CancelOutput, error) {
	if err := h.registry.Cancel(input.ID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		return nil, huma.Error500InternalServerError("cancelling job", err)
	}

	return &CancelOutput{
		Body: CancelBody{JobID: input.ID, Status: models.StatusCancelled},
	}, nil
}

// Delete removes a job record and its working directory. Active jobs
// are cancelled first; the handler waits for the worker to land the
// job in a terminal status before removing it.
func (h *TranscodeHandler) Delete(ctx context.Context, input *DeleteInput) (*DeleteOutput, error) {
	job, ok := h.registry.Get(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("job not found")
	}

	if !job.Status.IsTerminal() {
		if err := h.registry.Cancel(input.ID); err != nil && !errors.Is(err, registry.ErrNotFound) {
			return nil, huma.Error500InternalServerError("cancelling job", err)
		}
		if err := h.awaitTerminal(ctx, input.ID); err != nil {
			return nil, err
		}
	}

	if err := h.registry.Delete(input.ID); err != nil {
		switch {
		case errors.Is(err, registry.ErrNotFound):
			// Evicted while we waited; the record is gone either way.
		case errors.Is(err, registry.ErrNotTerminal):
			return nil, &ErrorResponse{
				status: http.StatusConflict,
				Err:    ErrorDetail{Code: "conflict", Message: "job is still winding down, retry"},
			}
		default:
			return nil, huma.Error500InternalServerError("deleting job", err)
		}
	}

	h.logger.Info("job deleted via api", slog.String("job_id", input.ID))
	return &DeleteOutput{}, nil
}

// awaitTerminal polls until the job leaves its live status or the wait
// budget runs out. Timing out is not an error here; Delete surfaces
// the conflict if the record is still live.
func (h *TranscodeHandler) awaitTerminal(ctx context.Context, id string) error {
	deadline := time.NewTimer(h.deleteWait)
	defer deadline.Stop()

	ticker := time.NewTicker(h.deletePoll)
	defer ticker.Stop()

	for {
		job, ok := h.registry.Get(id)
		if !ok || job.Status.IsTerminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return huma.Error500InternalServerError("request cancelled", ctx.Err())
		case <-deadline.C:
			return nil
		case <-ticker.C:
		}
	}
}
