package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-batcher/internal/mailer"
	"github.com/unclebandit/campaign-batcher/internal/model"
	"github.com/unclebandit/campaign-batcher/internal/quota"
	"github.com/unclebandit/campaign-batcher/internal/repository"
	"github.com/unclebandit/campaign-batcher/internal/service"
)

const owner = "owner@example.com"

type fakeSender struct {
	mu      sync.Mutex
	batches []mailer.BatchMessage
	err     error
}

func (f *fakeSender) SendConfidentialBatch(ctx context.Context, cred *model.SenderCredential, msg mailer.BatchMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, msg)
	return f.err
}

func (f *fakeSender) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type scheduled struct {
	CampaignID int64
	Delay      time.Duration
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []scheduled
	err   error
}

func (f *fakeScheduler) ScheduleCallback(ctx context.Context, campaignID int64, delay time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scheduled{campaignID, delay})
	if f.err != nil {
		return "", f.err
	}
	return "msg-1", nil
}

type fakeProvider struct {
	n   int
	err error
}

func (f *fakeProvider) SentSince(ctx context.Context, cred *model.SenderCredential, since time.Time) (int, error) {
	return f.n, f.err
}

type fixture struct {
	store     *repository.MemoryStore
	sender    *fakeSender
	scheduler *fakeScheduler
	provider  *fakeProvider
	oracle    *quota.Oracle
	executor  *service.BatchExecutor
	svc       *service.CampaignService
	sweeper   *service.Sweeper
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     repository.NewMemoryStore(),
		sender:    &fakeSender{},
		scheduler: &fakeScheduler{},
		provider:  &fakeProvider{},
		now:       time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.store.Now = clock
	f.oracle = quota.NewOracle(f.provider, f.store, quota.Limits{Workspace: 1500, Personal: 400})
	f.oracle.Now = clock

	f.executor = &service.BatchExecutor{
		CampaignRepo:   f.store,
		RecipientRepo:  f.store,
		SentEmailRepo:  f.store,
		CredentialRepo: f.store,
		Quota:          f.oracle,
		Sender:         f.sender,
		Scheduler:      f.scheduler,
		Now:            clock,
	}
	f.svc = &service.CampaignService{
		CampaignRepo:   f.store,
		RecipientRepo:  f.store,
		CredentialRepo: f.store,
		Quota:          f.oracle,
		Scheduler:      f.scheduler,
		Executor:       f.executor,
	}
	f.sweeper = &service.Sweeper{
		CampaignRepo:  f.store,
		RecipientRepo: f.store,
		Executor:      f.executor,
		Limit:         10,
		ClaimTimeout:  15 * time.Minute,
		Now:           clock,
	}

	require.NoError(t, f.store.Upsert(context.Background(), &model.SenderCredential{
		OwnerEmail:  owner,
		ProviderKey: "key",
		AccountType: model.AccountPersonal,
	}))
	return f
}

// running creates a campaign and starts it.
func (f *fixture) running(t *testing.T, batchSize, delay int, emails ...string) *model.Campaign {
	t.Helper()
	ctx := context.Background()
	c, err := f.svc.CreateCampaign(ctx, owner, service.CampaignInput{
		Subject:           "Spring launch",
		BodyHTML:          "<p>Hello</p>",
		BatchSize:         batchSize,
		BatchDelaySeconds: delay,
		Recipients:        emails,
	})
	require.NoError(t, err)
	c, err = f.svc.StartCampaign(ctx, owner, c.ID)
	require.NoError(t, err)
	return c
}

func (f *fixture) campaign(t *testing.T, id int64) *model.Campaign {
	t.Helper()
	c, err := f.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *fixture) progress(t *testing.T, id int64) model.Progress {
	t.Helper()
	p, err := f.store.GetProgress(context.Background(), id)
	require.NoError(t, err)
	return p
}

var errSMTP = errors.New("smtp: 421 service not available")
