package mailer

import (
	"context"
	"log/slog"

	"github.com/unclebandit/campaign-batcher/internal/model"
)

// ConsoleSender logs batches instead of sending them.
type ConsoleSender struct{}

func (ConsoleSender) SendConfidentialBatch(ctx context.Context, cred *model.SenderCredential, msg BatchMessage) error {
	slog.Info("console_batch",
		"from", senderAddress(cred),
		"subject", msg.Subject,
		"recipients", len(msg.Recipients),
		"inline_images", len(msg.Images),
	)
	return nil
}

var _ Sender = ConsoleSender{}
