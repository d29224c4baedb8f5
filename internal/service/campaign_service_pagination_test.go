package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
)

func TestListCampaignsPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		in := validInput(fmt.Sprintf("r%d@x.io", i))
		in.Name = fmt.Sprintf("Campaign %d", i)
		_, err := f.svc.CreateCampaign(ctx, owner, in)
		require.NoError(t, err)
	}
	_, err := f.svc.CreateCampaign(ctx, "other@x.io", validInput("o@x.io"))
	require.NoError(t, err)

	tests := []struct {
		page, pageSize     int
		wantLen, wantPages int
		wantPage, wantSize int
	}{
		{1, 10, 10, 3, 1, 10},
		{3, 10, 5, 3, 3, 10},
		{4, 10, 0, 3, 4, 10},
		{0, 0, 20, 2, 1, 20},
		{1, 500, 25, 1, 1, 100},
	}
	for _, tt := range tests {
		campaigns, pagination, err := f.svc.ListCampaigns(ctx, owner, tt.page, tt.pageSize, "")
		require.NoError(t, err)
		assert.Len(t, campaigns, tt.wantLen, "page %d size %d", tt.page, tt.pageSize)
		assert.Equal(t, 25, pagination["total_count"])
		assert.Equal(t, tt.wantPages, pagination["total_pages"])
		assert.Equal(t, tt.wantPage, pagination["page"])
		assert.Equal(t, tt.wantSize, pagination["page_size"])
	}

	campaigns, _, err := f.svc.ListCampaigns(ctx, owner, 1, 1, "")
	require.NoError(t, err)
	assert.Equal(t, "Campaign 24", campaigns[0].Name, "newest first")
}

func TestListCampaignsByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.running(t, 1, 0, "a@x.io")
	_, err := f.svc.CreateCampaign(ctx, owner, validInput("b@x.io"))
	require.NoError(t, err)

	campaigns, pagination, err := f.svc.ListCampaigns(ctx, owner, 1, 10, "running")
	require.NoError(t, err)
	assert.Len(t, campaigns, 1)
	assert.Equal(t, 1, pagination["total_count"])

	_, _, err = f.svc.ListCampaigns(ctx, owner, 1, 10, "archived")
	var verr *appErrors.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestListRecipientsPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	emails := []string{}
	for i := 0; i < 7; i++ {
		emails = append(emails, fmt.Sprintf("r%d@x.io", i))
	}
	c := f.running(t, 3, 0, emails...)
	f.executor.RunBatch(ctx, c.ID)

	sent, pagination, err := f.svc.ListRecipients(ctx, owner, c.ID, "sent", 1, 2)
	require.NoError(t, err)
	assert.Len(t, sent, 2)
	assert.Equal(t, 3, pagination["total_count"])
	assert.Equal(t, 2, pagination["total_pages"])

	pending, _, err := f.svc.ListRecipients(ctx, owner, c.ID, "pending", 1, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 4)
	assert.Equal(t, "r3@x.io", pending[0].Email)

	_, _, err = f.svc.ListRecipients(ctx, owner, c.ID, "bounced", 1, 10)
	var verr *appErrors.ValidationError
	assert.ErrorAs(t, err, &verr)
}
