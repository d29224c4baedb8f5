package quota_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
	"github.com/unclebandit/campaign-batcher/internal/model"
	"github.com/unclebandit/campaign-batcher/internal/quota"
)

type stubProvider struct {
	n     int
	err   error
	calls int
}

func (s *stubProvider) SentSince(ctx context.Context, cred *model.SenderCredential, since time.Time) (int, error) {
	s.calls++
	return s.n, s.err
}

type stubLedger struct {
	n     int
	err   error
	since time.Time
}

func (s *stubLedger) CountSince(ctx context.Context, owner string, since time.Time) (int, error) {
	s.since = since
	return s.n, s.err
}

var limits = quota.Limits{Workspace: 1500, Personal: 400}

func fixedOracle(p quota.ProviderCounter, l quota.LedgerCounter, now time.Time) *quota.Oracle {
	o := quota.NewOracle(p, l, limits)
	o.Now = func() time.Time { return now }
	return o
}

func TestAllowanceTakesLargerCount(t *testing.T) {
	now := time.Date(2026, 5, 4, 15, 30, 0, 0, time.UTC)
	ledger := &stubLedger{n: 80}
	o := fixedOracle(&stubProvider{n: 50}, ledger, now)

	snap, err := o.GetAllowance(context.Background(), &model.SenderCredential{OwnerEmail: "o@x.io", AccountType: model.AccountPersonal})
	require.NoError(t, err)
	assert.Equal(t, 80, snap.SentToday)
	assert.Equal(t, 400, snap.Limit)
	assert.Equal(t, 320, snap.Remaining)
	assert.Equal(t, time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC), snap.ResetTime)
	assert.Equal(t, time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC), ledger.since)

	o = fixedOracle(&stubProvider{n: 90}, &stubLedger{n: 10}, now)
	snap, err = o.GetAllowance(context.Background(), &model.SenderCredential{AccountType: model.AccountWorkspace})
	require.NoError(t, err)
	assert.Equal(t, 90, snap.SentToday)
	assert.Equal(t, 1410, snap.Remaining)
}

func TestAllowanceNeverNegative(t *testing.T) {
	o := fixedOracle(nil, &stubLedger{n: 450}, time.Now())
	snap, err := o.GetAllowance(context.Background(), &model.SenderCredential{AccountType: model.AccountPersonal})
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Remaining)
}

func TestAllowanceAuthExpiredPropagates(t *testing.T) {
	p := &stubProvider{err: fmt.Errorf("stats: %w", appErrors.ErrAuthExpired)}
	o := fixedOracle(p, &stubLedger{n: 1}, time.Now())

	_, err := o.GetAllowance(context.Background(), &model.SenderCredential{})
	assert.ErrorIs(t, err, appErrors.ErrAuthExpired)
}

func TestAllowanceFallsBackToLedger(t *testing.T) {
	p := &stubProvider{err: errors.New("connection reset")}
	o := fixedOracle(p, &stubLedger{n: 12}, time.Now())

	snap, err := o.GetAllowance(context.Background(), &model.SenderCredential{AccountType: model.AccountPersonal})
	require.NoError(t, err)
	assert.Equal(t, 12, snap.SentToday)
}

func TestAllowanceLedgerErrorFails(t *testing.T) {
	o := fixedOracle(&stubProvider{}, &stubLedger{err: errors.New("db down")}, time.Now())
	_, err := o.GetAllowance(context.Background(), &model.SenderCredential{})
	assert.ErrorContains(t, err, "db down")

	_, err = o.GetAllowance(context.Background(), nil)
	assert.ErrorIs(t, err, appErrors.ErrNoCredentials)
}
