// internal/quota/oracle.go
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
	"github.com/unclebandit/campaign-batcher/internal/model"
)

// ProviderCounter reports how many messages the mail provider has counted
// for the sender since the given instant.
type ProviderCounter interface {
	SentSince(ctx context.Context, cred *model.SenderCredential, since time.Time) (int, error)
}

// LedgerCounter counts local ledger rows. The sent email repository
// satisfies it.
type LedgerCounter interface {
	CountSince(ctx context.Context, owner string, since time.Time) (int, error)
}

// Limits are the daily caps per account type.
type Limits struct {
	Workspace int
	Personal  int
}

func (l Limits) For(t model.AccountType) int {
	if t == model.AccountWorkspace {
		return l.Workspace
	}
	return l.Personal
}

type Oracle struct {
	Provider ProviderCounter // optional
	Ledger   LedgerCounter
	Limits   Limits
	Now      func() time.Time
}

func NewOracle(provider ProviderCounter, ledger LedgerCounter, limits Limits) *Oracle {
	return &Oracle{Provider: provider, Ledger: ledger, Limits: limits, Now: time.Now}
}

// DayStart is the UTC midnight that opens the quota day containing t.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// GetAllowance reads the provider counter and the ledger in parallel and
// keeps the larger of the two. An expired provider authorization is
// returned as appErrors.ErrAuthExpired; any other provider failure leaves
// the ledger count alone in charge.
func (o *Oracle) GetAllowance(ctx context.Context, cred *model.SenderCredential) (model.QuotaSnapshot, error) {
	if cred == nil {
		return model.QuotaSnapshot{}, appErrors.ErrNoCredentials
	}
	now := o.Now()
	since := DayStart(now)

	var providerCount, ledgerCount int
	g, gctx := errgroup.WithContext(ctx)

	if o.Provider != nil {
		g.Go(func() error {
			n, err := o.Provider.SentSince(gctx, cred, since)
			if err != nil {
				if errors.Is(err, appErrors.ErrAuthExpired) {
					return err
				}
				slog.Warn("quota_provider_count_failed", "owner", cred.OwnerEmail, "error", err)
				return nil
			}
			providerCount = n
			return nil
		})
	}
	g.Go(func() error {
		n, err := o.Ledger.CountSince(gctx, cred.OwnerEmail, since)
		if err != nil {
			return fmt.Errorf("count ledger: %w", err)
		}
		ledgerCount = n
		return nil
	})

	if err := g.Wait(); err != nil {
		return model.QuotaSnapshot{}, err
	}

	sent := max(providerCount, ledgerCount)
	limit := o.Limits.For(cred.AccountType)
	return model.QuotaSnapshot{
		SentToday: sent,
		Limit:     limit,
		Remaining: max(0, limit-sent),
		ResetTime: since.Add(24 * time.Hour),
	}, nil
}
