package mailer

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
	"github.com/unclebandit/campaign-batcher/internal/model"
)

// SendGridSender sends with the owner's SendGrid API key. The owner is the
// sole To address and the batch goes in BCC.
type SendGridSender struct {
	Host string
}

func NewSendGridSender(host string) *SendGridSender {
	return &SendGridSender{Host: host}
}

func buildSendGridMail(cred *model.SenderCredential, msg BatchMessage) *mail.SGMailV3 {
	from := mail.NewEmail(cred.FromName, cred.OwnerEmail)

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail(cred.FromName, cred.OwnerEmail))
	for _, r := range msg.Recipients {
		p.AddBCCs(mail.NewEmail("", r))
	}

	m := mail.NewV3Mail()
	m.SetFrom(from)
	m.Subject = msg.Subject
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/html", msg.HTML))

	for _, img := range msg.Images {
		a := mail.NewAttachment()
		a.SetContent(base64.StdEncoding.EncodeToString(img.Data))
		a.SetType(img.ContentType)
		a.SetFilename(img.Filename)
		a.SetDisposition("inline")
		a.SetContentID(img.ContentID)
		m.AddAttachment(a)
	}
	return m
}

func (s *SendGridSender) SendConfidentialBatch(ctx context.Context, cred *model.SenderCredential, msg BatchMessage) error {
	if len(msg.Recipients) == 0 {
		return nil
	}

	request := sendgrid.GetRequest(cred.ProviderKey, "/v3/mail/send", s.Host)
	request.Method = rest.Post
	request.Body = mail.GetRequestBody(buildSendGridMail(cred, msg))

	resp, err := rest.SendWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if err := checkSendGridStatus(resp); err != nil {
		return err
	}

	slog.Info("sendgrid_batch_sent", "owner", cred.OwnerEmail, "recipients", len(msg.Recipients))
	return nil
}

func checkSendGridStatus(resp *rest.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("sendgrid status %d: %w", resp.StatusCode, appErrors.ErrAuthExpired)
	case resp.StatusCode >= 300:
		return fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

var _ Sender = (*SendGridSender)(nil)
