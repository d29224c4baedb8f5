package repository_test

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-batcher/internal/db"
	appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
	"github.com/unclebandit/campaign-batcher/internal/model"
	"github.com/unclebandit/campaign-batcher/internal/repository"
)

// pgRepos is the Postgres repository set over one migrated, emptied database.
type pgRepos struct {
	conn        *sql.DB
	campaigns   *repository.CampaignRepository
	recipients  *repository.RecipientRepository
	ledger      *repository.SentEmailRepository
	credentials *repository.CredentialRepository
}

// openPostgres connects to DATABASE_URL and truncates every table. The
// tests in this file are skipped when it is unset.
func openPostgres(t *testing.T) *pgRepos {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	conn, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.Migrate(ctx, conn))

	_, err = conn.ExecContext(ctx,
		`TRUNCATE campaign_recipients, campaigns, sent_emails, sender_credentials RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	return &pgRepos{
		conn:        conn,
		campaigns:   &repository.CampaignRepository{DB: conn},
		recipients:  &repository.RecipientRepository{DB: conn},
		ledger:      &repository.SentEmailRepository{DB: conn},
		credentials: &repository.CredentialRepository{DB: conn},
	}
}

func (p *pgRepos) create(t *testing.T, status model.CampaignStatus, emails ...string) *model.Campaign {
	t.Helper()
	c := &model.Campaign{OwnerEmail: "owner@example.com", Subject: "Hi", BatchSize: 3, Status: status}
	require.NoError(t, p.campaigns.Create(context.Background(), c, emails))
	return c
}

func claimedEmails(rs []model.Recipient) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Email
	}
	return out
}

func TestPostgresCreateKeepsOrderAndDedupes(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()

	c := p.create(t, model.CampaignDraft, "c@x.io", "a@x.io", "c@x.io", "b@x.io")
	assert.Equal(t, 3, c.TotalRecipients)

	got, total, err := p.recipients.ListRecipients(ctx, c.ID, "", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []string{"c@x.io", "a@x.io", "b@x.io"}, claimedEmails(got))
}

func TestPostgresClaimPendingOrderAndExclusion(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()
	c := p.create(t, model.CampaignRunning, "a@x.io", "b@x.io", "c@x.io", "d@x.io", "e@x.io")

	first, err := p.recipients.ClaimPending(ctx, c.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.io", "b@x.io"}, claimedEmails(first))
	for _, r := range first {
		assert.Equal(t, model.RecipientSending, r.Status)
		assert.NotNil(t, r.ClaimedAt)
	}

	// A batch in flight blocks further claims for the campaign.
	again, err := p.recipients.ClaimPending(ctx, c.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, p.recipients.MarkSent(ctx, []int64{first[0].ID, first[1].ID}, 1, time.Now()))

	next, err := p.recipients.ClaimPending(ctx, c.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"c@x.io", "d@x.io"}, claimedEmails(next))

	none, err := p.recipients.ClaimPending(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostgresConcurrentClaimsAreExclusive(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()
	emails := make([]string, 40)
	for i := range emails {
		emails[i] = string(rune('a'+i%26)) + string(rune('a'+i/26)) + "@x.io"
	}
	c := p.create(t, model.CampaignRunning, emails...)

	const claimers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		seen    = map[int64]int{}
		errs    []error
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.recipients.ClaimPending(ctx, c.ID, 5)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if len(got) > 0 {
				winners++
			}
			for _, r := range got {
				seen[r.ID]++
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, winners, "only one claimer can hold the in-flight batch")
	assert.Len(t, seen, 5)
	for id, n := range seen {
		assert.Equal(t, 1, n, "recipient %d claimed twice", id)
	}

	progress, err := p.recipients.GetProgress(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Progress{Total: 40, Pending: 35, Sending: 5}, progress)
}

func TestPostgresMarkOnlyTouchesSendingRows(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()
	c := p.create(t, model.CampaignRunning, "a@x.io", "b@x.io", "c@x.io")

	claimed, err := p.recipients.ClaimPending(ctx, c.ID, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	all, _, err := p.recipients.ListRecipients(ctx, c.ID, "", 0, 10)
	require.NoError(t, err)
	pendingID := all[2].ID

	require.NoError(t, p.recipients.MarkSent(ctx, []int64{claimed[0].ID, pendingID}, 1, time.Now()))
	require.NoError(t, p.recipients.MarkFailed(ctx, []int64{claimed[1].ID, claimed[0].ID}, "bounced", 1))

	progress, err := p.recipients.GetProgress(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Progress{Total: 3, Pending: 1, Sent: 1, Failed: 1}, progress)

	failed, _, err := p.recipients.ListRecipients(ctx, c.ID, model.RecipientFailed, 0, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bounced", failed[0].ErrorMessage)
	require.NotNil(t, failed[0].BatchNumber)
	assert.Equal(t, 1, *failed[0].BatchNumber)
}

func TestPostgresTransitionStatusCompareAndSet(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()
	c := p.create(t, model.CampaignDraft, "a@x.io")

	ok, err := p.campaigns.TransitionStatus(ctx, c.ID, model.CampaignDraft, model.CampaignRunning, "")
	require.NoError(t, err)
	assert.True(t, ok)

	// Stale from value loses.
	ok, err = p.campaigns.TransitionStatus(ctx, c.ID, model.CampaignDraft, model.CampaignRunning, "")
	require.NoError(t, err)
	assert.False(t, ok)

	next := time.Now().Add(time.Minute).UTC().Truncate(time.Microsecond)
	require.NoError(t, p.campaigns.SetNextBatch(ctx, c.ID, next))
	got, err := p.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextBatchAt)
	assert.True(t, next.Equal(*got.NextBatchAt))

	ok, err = p.campaigns.TransitionStatus(ctx, c.ID, model.CampaignRunning, model.CampaignPaused, "quota")
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = p.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignPaused, got.Status)
	assert.Equal(t, "quota", got.PauseReason)
	assert.Nil(t, got.NextBatchAt)

	// SetNextBatch is a no-op outside running.
	require.NoError(t, p.campaigns.SetNextBatch(ctx, c.ID, next))
	got, err = p.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextBatchAt)
}

func TestPostgresSyncCountersKeepsLastBatchWhenNil(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()
	c := p.create(t, model.CampaignRunning, "a@x.io", "b@x.io", "c@x.io")

	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, p.campaigns.SyncCounters(ctx, c.ID, model.Progress{Total: 3, Sent: 2, Failed: 1}, &at))
	got, err := p.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.SentCount)
	assert.Equal(t, 1, got.FailedCount)
	require.NotNil(t, got.LastBatchAt)
	assert.True(t, at.Equal(*got.LastBatchAt))

	require.NoError(t, p.campaigns.SyncCounters(ctx, c.ID, model.Progress{Total: 3, Sent: 3}, nil))
	got, err = p.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SentCount)
	assert.Equal(t, 0, got.FailedCount)
	require.NotNil(t, got.LastBatchAt)
	assert.True(t, at.Equal(*got.LastBatchAt))
}

func TestPostgresUpdateContentReplacesRecipientsInOneWrite(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()
	c := p.create(t, model.CampaignDraft, "a@x.io")

	content := model.CampaignContent{Name: "n", Subject: "New", BatchSize: 2, BatchDelaySeconds: 5}
	require.NoError(t, p.campaigns.UpdateContent(ctx, c.ID, content, []string{"x@x.io", "y@x.io", "x@x.io"}))
	got, err := p.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Subject)
	assert.Equal(t, 2, got.TotalRecipients)

	content.Subject = "Only content"
	require.NoError(t, p.campaigns.UpdateContent(ctx, c.ID, content, nil))
	got, err = p.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Only content", got.Subject)
	assert.Equal(t, 2, got.TotalRecipients)

	_, err = p.campaigns.TransitionStatus(ctx, c.ID, model.CampaignDraft, model.CampaignRunning, "")
	require.NoError(t, err)
	err = p.campaigns.UpdateContent(ctx, c.ID, content, []string{"z@x.io"})
	assert.ErrorIs(t, err, appErrors.ErrNotDraft)
	got, err = p.campaigns.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalRecipients)

	err = p.campaigns.UpdateContent(ctx, 999, content, nil)
	assert.True(t, appErrors.IsNotFound(err))
}

func TestPostgresDeleteCascadesAndKeepsLedger(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()
	c := p.create(t, model.CampaignRunning, "a@x.io", "b@x.io")

	sentAt := time.Now()
	require.NoError(t, p.ledger.Append(ctx, c.OwnerEmail, c.ID, []string{"a@x.io", "b@x.io"}, sentAt))

	assert.ErrorIs(t, p.campaigns.Delete(ctx, c.ID), appErrors.ErrCampaignRunning)

	_, err := p.campaigns.TransitionStatus(ctx, c.ID, model.CampaignRunning, model.CampaignStopped, "")
	require.NoError(t, err)
	require.NoError(t, p.campaigns.Delete(ctx, c.ID))

	_, err = p.campaigns.GetByID(ctx, c.ID)
	assert.True(t, appErrors.IsNotFound(err))

	var left int
	require.NoError(t, p.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id=$1`, c.ID).Scan(&left))
	assert.Zero(t, left)

	n, err := p.ledger.CountSince(ctx, c.OwnerEmail, sentAt.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.True(t, appErrors.IsNotFound(p.campaigns.Delete(ctx, c.ID)))
}

func TestPostgresFailStaleClaims(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()
	a := p.create(t, model.CampaignRunning, "a@x.io", "b@x.io")
	b := p.create(t, model.CampaignRunning, "c@x.io")

	_, err := p.recipients.ClaimPending(ctx, a.ID, 2)
	require.NoError(t, err)
	_, err = p.recipients.ClaimPending(ctx, b.ID, 1)
	require.NoError(t, err)

	// Fresh claims survive a cutoff in the past.
	ids, err := p.recipients.FailStaleClaims(ctx, time.Now().Add(-time.Hour), "claim timed out")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = p.recipients.FailStaleClaims(ctx, time.Now().Add(time.Hour), "claim timed out")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{a.ID, b.ID}, ids)

	progress, err := p.recipients.GetProgress(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Progress{Total: 2, Failed: 2}, progress)

	failed, _, err := p.recipients.ListRecipients(ctx, a.ID, model.RecipientFailed, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, "claim timed out", failed[0].ErrorMessage)
}

func TestPostgresCredentialUpsert(t *testing.T) {
	p := openPostgres(t)
	ctx := context.Background()

	got, err := p.credentials.GetByOwner(ctx, "nobody@x.io")
	require.NoError(t, err)
	assert.Nil(t, got)

	cred := &model.SenderCredential{OwnerEmail: "owner@example.com", ProviderKey: "k1", AccountType: model.AccountPersonal}
	require.NoError(t, p.credentials.Upsert(ctx, cred))
	cred.ProviderKey = "k2"
	cred.AccountType = model.AccountWorkspace
	cred.Revoked = true
	require.NoError(t, p.credentials.Upsert(ctx, cred))

	got, err = p.credentials.GetByOwner(ctx, "owner@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "k2", got.ProviderKey)
	assert.Equal(t, model.AccountWorkspace, got.AccountType)
	assert.True(t, got.Revoked)
}
