package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"

	"github.com/unclebandit/campaign-batcher/internal/model"
)

// SendGridStats reads the provider-side request counter from /v3/stats.
type SendGridStats struct {
	Host string
}

func NewSendGridStats(host string) *SendGridStats {
	return &SendGridStats{Host: host}
}

type statsDay struct {
	Date  string `json:"date"`
	Stats []struct {
		Metrics struct {
			Requests int `json:"requests"`
		} `json:"metrics"`
	} `json:"stats"`
}

// SentSince sums the "requests" metric of every day from since onwards.
func (s *SendGridStats) SentSince(ctx context.Context, cred *model.SenderCredential, since time.Time) (int, error) {
	request := sendgrid.GetRequest(cred.ProviderKey, "/v3/stats", s.Host)
	request.Method = rest.Get
	request.QueryParams = map[string]string{
		"start_date":    since.UTC().Format("2006-01-02"),
		"aggregated_by": "day",
	}

	resp, err := rest.SendWithContext(ctx, request)
	if err != nil {
		return 0, fmt.Errorf("sendgrid stats: %w", err)
	}
	if err := checkSendGridStatus(resp); err != nil {
		return 0, err
	}

	var days []statsDay
	if err := json.Unmarshal([]byte(resp.Body), &days); err != nil {
		return 0, fmt.Errorf("decode sendgrid stats: %w", err)
	}
	total := 0
	for _, d := range days {
		for _, st := range d.Stats {
			total += st.Metrics.Requests
		}
	}
	return total, nil
}
