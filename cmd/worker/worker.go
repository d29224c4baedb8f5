package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/unclebandit/campaign-batcher/internal/queue"
)

type deliverer interface {
	Deliver(ctx context.Context, job queue.Job) (queue.Decision, error)
}

// worker delivers each job and republishes it through the delay queue
// while the retry policy allows.
type worker struct {
	deliverer deliverer
	policy    queue.RetryPolicy
	republish func(job queue.Job, delay time.Duration) error
}

func (w *worker) handle(ctx context.Context, job queue.Job) error {
	decision, err := w.deliverer.Deliver(ctx, job)
	if decision == queue.Ack {
		if err != nil {
			slog.Warn("job_dropped", "campaign_id", job.CampaignID, "job_id", job.ID, "error", err)
		}
		return nil
	}

	next, delay, ok := w.policy.Next(job)
	if !ok {
		slog.Error("job_retries_exhausted", "campaign_id", job.CampaignID, "job_id", job.ID, "attempt", job.Attempt, "error", err)
		return nil
	}
	slog.Warn("job_retry", "campaign_id", job.CampaignID, "job_id", job.ID, "attempt", next.Attempt, "delay", delay, "error", err)
	if perr := w.republish(next, delay); perr != nil {
		return fmt.Errorf("republish job %s: %w", job.ID, perr)
	}
	return nil
}

// sweepTrigger calls the cron endpoint of the server.
type sweepTrigger struct {
	URL    string
	Secret string
	Client *http.Client
}

func (s *sweepTrigger) Run(ctx context.Context) {
	if err := s.call(ctx); err != nil {
		slog.Error("sweep_failed", "error", err)
	}
}

func (s *sweepTrigger) call(ctx context.Context) error {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.Secret)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sweep status %d: %s", resp.StatusCode, body)
	}
	slog.Info("sweep_triggered", "response", string(body))
	return nil
}
