package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/resend/resend-go/v2"

	appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
	"github.com/unclebandit/campaign-batcher/internal/model"
)

// ResendSender sends through Resend. Inline images travel as data URIs.
type ResendSender struct {
	// BaseURL overrides the Resend API endpoint when set.
	BaseURL    string
	HTTPClient *http.Client
}

func NewResendSender() *ResendSender {
	return &ResendSender{}
}

func buildResendRequest(cred *model.SenderCredential, msg BatchMessage) *resend.SendEmailRequest {
	return &resend.SendEmailRequest{
		From:    senderAddress(cred),
		To:      []string{cred.OwnerEmail},
		Bcc:     msg.Recipients,
		Subject: msg.Subject,
		Html:    msg.InlinedHTML(),
	}
}

// statusRecorder keeps the last response status; the Resend client drops
// it from the errors it returns.
type statusRecorder struct {
	next   http.RoundTripper
	mu     sync.Mutex
	status int
}

func (s *statusRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := s.next.RoundTrip(req)
	if resp != nil {
		s.mu.Lock()
		s.status = resp.StatusCode
		s.mu.Unlock()
	}
	return resp, err
}

func (s *statusRecorder) last() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *ResendSender) client(key string) (*resend.Client, *statusRecorder, error) {
	base := http.DefaultClient
	if s.HTTPClient != nil {
		base = s.HTTPClient
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	rec := &statusRecorder{next: transport}
	httpClient := *base
	httpClient.Transport = rec

	c := resend.NewCustomClient(&httpClient, key)
	if s.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(s.BaseURL, "/") + "/")
		if err != nil {
			return nil, nil, fmt.Errorf("resend base url: %w", err)
		}
		c.BaseURL = u
	}
	return c, rec, nil
}

func (s *ResendSender) SendConfidentialBatch(ctx context.Context, cred *model.SenderCredential, msg BatchMessage) error {
	if len(msg.Recipients) == 0 {
		return nil
	}
	client, rec, err := s.client(cred.ProviderKey)
	if err != nil {
		return err
	}
	sent, err := client.Emails.SendWithContext(ctx, buildResendRequest(cred, msg))
	if err != nil {
		if status := rec.last(); status == http.StatusUnauthorized || status == http.StatusForbidden {
			return fmt.Errorf("resend status %d: %v: %w", status, err, appErrors.ErrAuthExpired)
		}
		return fmt.Errorf("resend send: %w", err)
	}
	slog.Info("resend_batch_sent", "owner", cred.OwnerEmail, "message_id", sent.Id, "recipients", len(msg.Recipients))
	return nil
}

var _ Sender = (*ResendSender)(nil)
