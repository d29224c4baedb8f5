package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
	"github.com/unclebandit/campaign-batcher/internal/model"
)

// MemoryStore keeps every table in process memory behind one mutex. It
// backs the unit tests only and mirrors the claim, CAS and ledger rules of
// the Postgres repositories; the server always runs against Postgres.
type MemoryStore struct {
	mu sync.Mutex

	// Now is the store clock; tests replace it.
	Now func() time.Time

	campaignSeq  int64
	recipientSeq int64
	ledgerSeq    int64

	campaigns   map[int64]*model.Campaign
	recipients  map[int64][]*model.Recipient // by campaign, insertion order
	ledger      []model.SentEmailRecord
	credentials map[string]*model.SenderCredential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Now:         time.Now,
		campaigns:   map[int64]*model.Campaign{},
		recipients:  map[int64][]*model.Recipient{},
		credentials: map[string]*model.SenderCredential{},
	}
}

func (s *MemoryStore) now() time.Time {
	return s.Now().UTC()
}

func (s *MemoryStore) addRecipients(campaignID int64, emails []string) int {
	seen := map[string]bool{}
	for _, rc := range s.recipients[campaignID] {
		seen[rc.Email] = true
	}
	added := 0
	for _, e := range emails {
		if seen[e] {
			continue
		}
		seen[e] = true
		s.recipientSeq++
		s.recipients[campaignID] = append(s.recipients[campaignID], &model.Recipient{
			ID:         s.recipientSeq,
			CampaignID: campaignID,
			Email:      e,
			Status:     model.RecipientPending,
			CreatedAt:  s.now(),
		})
		added++
	}
	return added
}

// ====================== campaigns ======================

func (s *MemoryStore) Create(ctx context.Context, c *model.Campaign, emails []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.campaignSeq++
	c.ID = s.campaignSeq
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	c.TotalRecipients = s.addRecipients(c.ID, emails)

	stored := *c
	s.campaigns[c.ID] = &stored
	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, owner string, offset, limit int, status string) ([]*model.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []*model.Campaign{}
	for _, c := range s.campaigns {
		if c.OwnerEmail != owner {
			continue
		}
		if status != "" && string(c.Status) != status {
			continue
		}
		cp := *c
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := len(matched)
	if offset >= total {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) UpdateContent(ctx context.Context, id int64, content model.CampaignContent, recipients []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	if c.Status != model.CampaignDraft {
		return appErrors.ErrNotDraft
	}
	c.Name = content.Name
	c.Subject = content.Subject
	c.BodyHTML = content.BodyHTML
	c.SignatureHTML = content.SignatureHTML
	c.BatchSize = content.BatchSize
	c.BatchDelaySeconds = content.BatchDelaySeconds
	if recipients != nil {
		delete(s.recipients, id)
		c.TotalRecipients = s.addRecipients(id, recipients)
		c.SentCount = 0
		c.FailedCount = 0
	}
	c.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) TransitionStatus(ctx context.Context, id int64, from, to model.CampaignStatus, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.PauseReason = reason
	if to != model.CampaignRunning {
		c.NextBatchAt = nil
	}
	c.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) SyncCounters(ctx context.Context, id int64, p model.Progress, lastBatchAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return nil
	}
	c.TotalRecipients = p.Total
	c.SentCount = p.Sent
	c.FailedCount = p.Failed
	if lastBatchAt != nil {
		t := *lastBatchAt
		c.LastBatchAt = &t
	}
	c.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetNextBatch(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.campaigns[id]; ok && c.Status == model.CampaignRunning {
		c.NextBatchAt = &at
		c.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	if c.Status == model.CampaignRunning {
		return appErrors.ErrCampaignRunning
	}
	delete(s.campaigns, id)
	delete(s.recipients, id)
	return nil
}

func (s *MemoryStore) ListDueRunning(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := []*model.Campaign{}
	for _, c := range s.campaigns {
		if c.Status != model.CampaignRunning {
			continue
		}
		if c.NextBatchAt != nil && c.NextBatchAt.After(now) {
			continue
		}
		cp := *c
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].UpdatedAt.Equal(due[j].UpdatedAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].UpdatedAt.Before(due[j].UpdatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ====================== recipients ======================

func (s *MemoryStore) ClaimPending(ctx context.Context, campaignID int64, limit int) ([]model.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 {
		return nil, nil
	}
	rows := s.recipients[campaignID]
	for _, rc := range rows {
		if rc.Status == model.RecipientSending {
			return nil, nil
		}
	}

	now := s.now()
	claimed := []model.Recipient{}
	for _, rc := range rows {
		if len(claimed) == limit {
			break
		}
		if rc.Status != model.RecipientPending {
			continue
		}
		rc.Status = model.RecipientSending
		t := now
		rc.ClaimedAt = &t
		claimed = append(claimed, *rc)
	}
	return claimed, nil
}

func (s *MemoryStore) markSending(ids []int64, apply func(rc *model.Recipient)) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, rows := range s.recipients {
		for _, rc := range rows {
			if want[rc.ID] && rc.Status == model.RecipientSending {
				apply(rc)
			}
		}
	}
}

func (s *MemoryStore) MarkSent(ctx context.Context, ids []int64, batchNumber int, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markSending(ids, func(rc *model.Recipient) {
		n, t := batchNumber, sentAt
		rc.Status = model.RecipientSent
		rc.BatchNumber = &n
		rc.SentAt = &t
		rc.ErrorMessage = ""
	})
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, ids []int64, errorMessage string, batchNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markSending(ids, func(rc *model.Recipient) {
		n := batchNumber
		rc.Status = model.RecipientFailed
		rc.BatchNumber = &n
		rc.ErrorMessage = errorMessage
	})
	return nil
}

func (s *MemoryStore) GetProgress(ctx context.Context, campaignID int64) (model.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p model.Progress
	for _, rc := range s.recipients[campaignID] {
		p.Total++
		switch rc.Status {
		case model.RecipientPending:
			p.Pending++
		case model.RecipientSending:
			p.Sending++
		case model.RecipientSent:
			p.Sent++
		case model.RecipientFailed:
			p.Failed++
		}
	}
	return p, nil
}

func (s *MemoryStore) ReplaceRecipients(ctx context.Context, campaignID int64, emails []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[campaignID]
	if !ok {
		return 0, appErrors.NewCampaignNotFound(campaignID)
	}
	if c.Status != model.CampaignDraft {
		return 0, appErrors.ErrNotDraft
	}
	delete(s.recipients, campaignID)
	total := s.addRecipients(campaignID, emails)
	c.TotalRecipients = total
	c.SentCount = 0
	c.FailedCount = 0
	c.UpdatedAt = s.now()
	return total, nil
}

func (s *MemoryStore) ListRecipients(ctx context.Context, campaignID int64, status model.RecipientStatus, offset, limit int) ([]model.Recipient, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []model.Recipient{}
	for _, rc := range s.recipients[campaignID] {
		if status != "" && rc.Status != status {
			continue
		}
		matched = append(matched, *rc)
	}
	total := len(matched)
	if offset >= total {
		return []model.Recipient{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) FailStaleClaims(ctx context.Context, claimedBefore time.Time, errorMessage string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := []int64{}
	for campaignID, rows := range s.recipients {
		hit := false
		for _, rc := range rows {
			if rc.Status == model.RecipientSending && rc.ClaimedAt != nil && rc.ClaimedAt.Before(claimedBefore) {
				rc.Status = model.RecipientFailed
				rc.ErrorMessage = errorMessage
				hit = true
			}
		}
		if hit {
			ids = append(ids, campaignID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ====================== ledger ======================

func (s *MemoryStore) Append(ctx context.Context, owner string, campaignID int64, emails []string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range emails {
		s.ledgerSeq++
		s.ledger = append(s.ledger, model.SentEmailRecord{
			ID:             s.ledgerSeq,
			OwnerEmail:     owner,
			RecipientEmail: e,
			CampaignID:     campaignID,
			SentAt:         sentAt,
		})
	}
	return nil
}

func (s *MemoryStore) CountSince(ctx context.Context, owner string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.ledger {
		if r.OwnerEmail == owner && !r.SentAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// ====================== credentials ======================

func (s *MemoryStore) GetByOwner(ctx context.Context, owner string) (*model.SenderCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[owner]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) Upsert(ctx context.Context, c *model.SenderCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.UpdatedAt = s.now()
	cp := *c
	s.credentials[c.OwnerEmail] = &cp
	return nil
}

var (
	_ CampaignRepositoryInterface   = (*MemoryStore)(nil)
	_ RecipientRepositoryInterface  = (*MemoryStore)(nil)
	_ SentEmailRepositoryInterface  = (*MemoryStore)(nil)
	_ CredentialRepositoryInterface = (*MemoryStore)(nil)
)
