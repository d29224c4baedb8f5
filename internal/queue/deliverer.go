package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Decision tells the consumer what to do with a job after delivery.
type Decision int

const (
	Ack Decision = iota
	Retry
)

// Deliverer turns a job into a signed POST to the process endpoint.
type Deliverer struct {
	BaseURL string
	Signer  *Signer
	Client  *http.Client
}

func NewDeliverer(baseURL string, signer *Signer) *Deliverer {
	return &Deliverer{
		BaseURL: baseURL,
		Signer:  signer,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// CallbackURL is the process endpoint of a campaign.
func CallbackURL(baseURL string, campaignID int64) string {
	return fmt.Sprintf("%s/campaigns/%d/process", baseURL, campaignID)
}

// Deliver posts the job. 2xx and 4xx are final; a 4xx means the server
// rejected the callback for good. 5xx and transport errors ask for a retry.
func (d *Deliverer) Deliver(ctx context.Context, job Job) (Decision, error) {
	url := CallbackURL(d.BaseURL, job.CampaignID)
	body, err := json.Marshal(job)
	if err != nil {
		return Ack, err
	}
	sig, err := d.Signer.Sign(url, body)
	if err != nil {
		return Ack, fmt.Errorf("sign callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Ack, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sig)

	resp, err := d.Client.Do(req)
	if err != nil {
		return Retry, fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return Retry, fmt.Errorf("callback status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		slog.Warn("callback_rejected", "campaign_id", job.CampaignID, "job_id", job.ID, "status", resp.StatusCode)
	}
	return Ack, nil
}

// RetryPolicy bounds redelivery of failed callbacks.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Next returns the job to publish again and its delay, or false once the
// attempts are used up.
func (p RetryPolicy) Next(job Job) (Job, time.Duration, bool) {
	if job.Attempt+1 >= p.MaxAttempts {
		return job, 0, false
	}
	job.Attempt++
	return job, time.Duration(job.Attempt) * p.Backoff, true
}
