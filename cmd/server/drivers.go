// cmd/server/drivers.go
package main

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/unclebandit/campaign-batcher/internal/config"
	"github.com/unclebandit/campaign-batcher/internal/mailer"
	"github.com/unclebandit/campaign-batcher/internal/quota"
)

func newSender(cfg *config.Config) (mailer.Sender, error) {
	switch cfg.MailDriver {
	case "sendgrid":
		return mailer.NewSendGridSender(cfg.SendGridHost), nil
	case "resend":
		return mailer.NewResendSender(), nil
	case "console":
		return mailer.ConsoleSender{}, nil
	}
	return nil, fmt.Errorf("unknown MAIL_DRIVER %q", cfg.MailDriver)
}

// newProviderCounter returns the sent-today counter of the configured
// driver, or nil when the driver has none and the ledger alone counts.
// The Redis cache wraps the counter only when rdb is set.
func newProviderCounter(cfg *config.Config, rdb *redis.Client) quota.ProviderCounter {
	if cfg.MailDriver != "sendgrid" {
		return nil
	}
	var counter quota.ProviderCounter = mailer.NewSendGridStats(cfg.SendGridHost)
	if rdb != nil {
		counter = quota.NewCachedCounter(counter, rdb, cfg.QuotaCacheTTL)
	}
	return counter
}
