// Package callback delivers the one-shot completion notification for
// jobs submitted with a callback URL.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/vodarr/vodarr/internal/httpclient"
	"github.com/vodarr/vodarr/internal/models"
)

// Notifier POSTs job snapshots to their callback URLs.
type Notifier struct {
	client *http.Client
	logger *slog.Logger
}

// New creates a notifier on the given client, which is expected to
// enforce the delivery timeout and make exactly one attempt.
func New(client *http.Client, logger *slog.Logger) *Notifier {
	return &Notifier{
		client: client,
		logger: logger.With(slog.String("component", "callback")),
	}
}

// Notify POSTs the job snapshot as JSON. Delivery is best effort:
// failures are logged and never surfaced to the job.
func (n *Notifier) Notify(ctx context.Context, job *models.Job) {
	url := job.Request.CallbackURL
	if url == "" {
		return
	}

	body, err := json.Marshal(job)
	if err != nil {
		n.logger.Warn("marshaling callback payload",
			slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("building callback request",
			slog.String("job_id", job.ID),
			slog.String("url", httpclient.ObfuscateURL(url)),
			slog.Any("error", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("completion callback failed",
			slog.String("job_id", job.ID),
			slog.String("url", httpclient.ObfuscateURL(url)),
			slog.Any("error", err))
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		n.logger.Warn("completion callback rejected",
			slog.String("job_id", job.ID),
			slog.String("url", httpclient.ObfuscateURL(url)),
			slog.Int("status", resp.StatusCode))
		return
	}
	n.logger.Info("completion callback delivered",
		slog.String("job_id", job.ID),
		slog.Int("status", resp.StatusCode))
}
