// internal/service/campaign_service.go
package service

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "strings"
    "time"

    "github.com/go-playground/validator/v10"

    appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
    "github.com/unclebandit/campaign-batcher/internal/model"
    "github.com/unclebandit/campaign-batcher/internal/queue"
    "github.com/unclebandit/campaign-batcher/internal/repository"
)

type CampaignService struct {
    CampaignRepo   repository.CampaignRepositoryInterface
    RecipientRepo  repository.RecipientRepositoryInterface
    CredentialRepo repository.CredentialRepositoryInterface
    Quota          QuotaChecker
    Scheduler      queue.Scheduler
    Executor       *BatchExecutor
}

var validate = validator.New()

type CampaignInput struct {
    Name              string   `json:"name" validate:"max=200"`
    Subject           string   `json:"subject" validate:"required,max=998"`
    BodyHTML          string   `json:"body_html" validate:"required"`
    SignatureHTML     string   `json:"signature_html"`
    BatchSize         int      `json:"batch_size" validate:"min=1,max=100"`
    BatchDelaySeconds int      `json:"batch_delay_seconds" validate:"min=0,max=86400"`
    Recipients        []string `json:"recipients" validate:"omitempty,dive,email"`
}

type CredentialInput struct {
    ProviderKey string     `json:"provider_key" validate:"required"`
    FromName    string     `json:"from_name" validate:"max=200"`
    AccountType string     `json:"account_type" validate:"required,oneof=workspace personal"`
    ExpiresAt   *time.Time `json:"expires_at"`
}

// CampaignDetails is a campaign with its live recipient aggregate.
type CampaignDetails struct {
    *model.Campaign
    Progress model.Progress `json:"progress"`
}

func validationError(err error) error {
    var verrs validator.ValidationErrors
    if errors.As(err, &verrs) {
        parts := make([]string, 0, len(verrs))
        for _, fe := range verrs {
            parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
        }
        return appErrors.NewValidation("invalid input: %s", strings.Join(parts, "; "))
    }
    return appErrors.NewValidation("invalid input: %v", err)
}

// NormalizeEmails trims, lowercases and de-duplicates, keeping first-seen
// order. Blank entries are dropped.
func NormalizeEmails(emails []string) []string {
    seen := make(map[string]bool, len(emails))
    out := make([]string, 0, len(emails))
    for _, e := range emails {
        e = strings.ToLower(strings.TrimSpace(e))
        if e == "" || seen[e] {
            continue
        }
        seen[e] = true
        out = append(out, e)
    }
    return out
}

func (in *CampaignInput) normalize() error {
    in.Recipients = NormalizeEmails(in.Recipients)
    in.Subject = strings.TrimSpace(in.Subject)
    in.Name = strings.TrimSpace(in.Name)
    if err := validate.Struct(in); err != nil {
        return validationError(err)
    }
    return nil
}

func (s *CampaignService) CreateCampaign(ctx context.Context, owner string, in CampaignInput) (*model.Campaign, error) {
    if err := in.normalize(); err != nil {
        return nil, err
    }
    c := &model.Campaign{
        OwnerEmail:        owner,
        Name:              in.Name,
        Subject:           in.Subject,
        BodyHTML:          in.BodyHTML,
        SignatureHTML:     in.SignatureHTML,
        BatchSize:         in.BatchSize,
        BatchDelaySeconds: in.BatchDelaySeconds,
        Status:            model.CampaignDraft,
    }
    if err := s.CampaignRepo.Create(ctx, c, in.Recipients); err != nil {
        return nil, err
    }
    slog.Info("campaign_created", "campaign_id", c.ID, "owner", owner, "recipients", c.TotalRecipients)
    return c, nil
}

// getOwned loads a campaign and checks it belongs to owner.
func (s *CampaignService) getOwned(ctx context.Context, owner string, id int64) (*model.Campaign, error) {
    c, err := s.CampaignRepo.GetByID(ctx, id)
    if err != nil {
        return nil, err
    }
    if c.OwnerEmail != owner {
        return nil, appErrors.ErrForbidden
    }
    return c, nil
}

func (s *CampaignService) GetCampaignDetails(ctx context.Context, owner string, id int64) (*CampaignDetails, error) {
    c, err := s.getOwned(ctx, owner, id)
    if err != nil {
        return nil, err
    }
    p, err := s.RecipientRepo.GetProgress(ctx, id)
    if err != nil {
        return nil, err
    }
    return &CampaignDetails{Campaign: c, Progress: p}, nil
}

func pageBounds(page, pageSize int) (int, int, int) {
    if page < 1 {
        page = 1
    }
    if pageSize < 1 {
        pageSize = 20
    }
    if pageSize > 100 {
        pageSize = 100
    }
    return page, pageSize, (page - 1) * pageSize
}

func pagination(page, pageSize, total int) map[string]int {
    return map[string]int{
        "page":        page,
        "page_size":   pageSize,
        "total_count": total,
        "total_pages": (total + pageSize - 1) / pageSize,
    }
}

// ListCampaigns fetches the owner's campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, owner string, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
    if status != "" && !model.CampaignStatus(status).Valid() {
        return nil, nil, appErrors.NewValidation("unknown status %q", status)
    }
    page, pageSize, offset := pageBounds(page, pageSize)

    ptrs, total, err := s.CampaignRepo.ListByOwner(ctx, owner, offset, pageSize, status)
    if err != nil {
        return nil, nil, err
    }

    campaigns := make([]model.Campaign, len(ptrs))
    for i, c := range ptrs {
        campaigns[i] = *c
    }
    return campaigns, pagination(page, pageSize, total), nil
}

func (s *CampaignService) ListRecipients(ctx context.Context, owner string, id int64, status string, page, pageSize int) ([]model.Recipient, map[string]int, error) {
    if _, err := s.getOwned(ctx, owner, id); err != nil {
        return nil, nil, err
    }
    switch model.RecipientStatus(status) {
    case "", model.RecipientPending, model.RecipientSending, model.RecipientSent, model.RecipientFailed:
    default:
        return nil, nil, appErrors.NewValidation("unknown recipient status %q", status)
    }
    page, pageSize, offset := pageBounds(page, pageSize)

    recipients, total, err := s.RecipientRepo.ListRecipients(ctx, id, model.RecipientStatus(status), offset, pageSize)
    if err != nil {
        return nil, nil, err
    }
    return recipients, pagination(page, pageSize, total), nil
}

// UpdateDraft replaces content and batch settings. Recipients, when
// given, replace the whole set in the same write.
func (s *CampaignService) UpdateDraft(ctx context.Context, owner string, id int64, in CampaignInput) (*model.Campaign, error) {
    c, err := s.getOwned(ctx, owner, id)
    if err != nil {
        return nil, err
    }
    if c.Status != model.CampaignDraft {
        return nil, appErrors.ErrNotDraft
    }
    replaceRecipients := in.Recipients != nil
    if err := in.normalize(); err != nil {
        return nil, err
    }

    var recipients []string
    if replaceRecipients {
        recipients = in.Recipients
        if recipients == nil {
            recipients = []string{}
        }
    }
    err = s.CampaignRepo.UpdateContent(ctx, id, model.CampaignContent{
        Name:              in.Name,
        Subject:           in.Subject,
        BodyHTML:          in.BodyHTML,
        SignatureHTML:     in.SignatureHTML,
        BatchSize:         in.BatchSize,
        BatchDelaySeconds: in.BatchDelaySeconds,
    }, recipients)
    if err != nil {
        return nil, err
    }
    return s.CampaignRepo.GetByID(ctx, id)
}

func (s *CampaignService) ReplaceRecipients(ctx context.Context, owner string, id int64, emails []string) (int, error) {
    c, err := s.getOwned(ctx, owner, id)
    if err != nil {
        return 0, err
    }
    if c.Status != model.CampaignDraft {
        return 0, appErrors.ErrNotDraft
    }
    emails = NormalizeEmails(emails)
    if err := validate.Var(emails, "dive,email"); err != nil {
        return 0, validationError(err)
    }
    return s.RecipientRepo.ReplaceRecipients(ctx, id, emails)
}

func (s *CampaignService) StartCampaign(ctx context.Context, owner string, id int64) (*model.Campaign, error) {
    return s.transition(ctx, owner, id, model.CampaignRunning, model.CampaignDraft)
}

func (s *CampaignService) PauseCampaign(ctx context.Context, owner string, id int64) (*model.Campaign, error) {
    return s.transition(ctx, owner, id, model.CampaignPaused, model.CampaignRunning)
}

func (s *CampaignService) ResumeCampaign(ctx context.Context, owner string, id int64) (*model.Campaign, error) {
    return s.transition(ctx, owner, id, model.CampaignRunning, model.CampaignPaused)
}

// StopCampaign is legal from draft, running and paused.
func (s *CampaignService) StopCampaign(ctx context.Context, owner string, id int64) (*model.Campaign, error) {
    return s.transition(ctx, owner, id, model.CampaignStopped, "")
}

// transition moves the campaign to "to". When from is set, only that
// source status is accepted, so start and resume stay distinct actions.
func (s *CampaignService) transition(ctx context.Context, owner string, id int64, to, from model.CampaignStatus) (*model.Campaign, error) {
    c, err := s.getOwned(ctx, owner, id)
    if err != nil {
        return nil, err
    }
    if (from != "" && c.Status != from) || !model.CanTransition(c.Status, to) {
        return nil, &appErrors.TransitionError{From: string(c.Status), To: string(to)}
    }
    if to == model.CampaignRunning && c.Status == model.CampaignDraft {
        p, err := s.RecipientRepo.GetProgress(ctx, id)
        if err != nil {
            return nil, err
        }
        if p.Total == 0 {
            return nil, appErrors.ErrNoRecipients
        }
    }

    reason := ""
    if to == model.CampaignPaused {
        reason = "paused by owner"
    }
    ok, err := s.CampaignRepo.TransitionStatus(ctx, id, c.Status, to, reason)
    if err != nil {
        return nil, err
    }
    if !ok {
        // Lost a race with another writer; report against the fresh status.
        current, err := s.CampaignRepo.GetByID(ctx, id)
        if err != nil {
            return nil, err
        }
        return nil, &appErrors.TransitionError{From: string(current.Status), To: string(to)}
    }
    slog.Info("campaign_transition", "campaign_id", id, "from", c.Status, "to", to)

    if to == model.CampaignRunning {
        if _, err := s.Scheduler.ScheduleCallback(ctx, id, 0); err != nil {
            slog.Error("kick_schedule_failed", "campaign_id", id, "error", err)
        }
    }
    return s.CampaignRepo.GetByID(ctx, id)
}

func (s *CampaignService) DeleteCampaign(ctx context.Context, owner string, id int64) error {
    c, err := s.getOwned(ctx, owner, id)
    if err != nil {
        return err
    }
    if c.Status == model.CampaignRunning {
        return appErrors.ErrCampaignRunning
    }
    if err := s.CampaignRepo.Delete(ctx, id); err != nil {
        return err
    }
    slog.Info("campaign_deleted", "campaign_id", id, "owner", owner)
    return nil
}

// SendNextBatch runs one batch synchronously for the owner.
func (s *CampaignService) SendNextBatch(ctx context.Context, owner string, id int64) (model.BatchOutcome, error) {
    if _, err := s.getOwned(ctx, owner, id); err != nil {
        return model.BatchOutcome{}, err
    }
    return s.Executor.RunBatch(ctx, id), nil
}

// GetQuota returns the owner's allowance for today.
func (s *CampaignService) GetQuota(ctx context.Context, owner string) (model.QuotaSnapshot, error) {
    cred, err := s.CredentialRepo.GetByOwner(ctx, owner)
    if err != nil {
        return model.QuotaSnapshot{}, err
    }
    if !cred.Usable(time.Now()) {
        return model.QuotaSnapshot{}, appErrors.ErrNoCredentials
    }
    return s.Quota.GetAllowance(ctx, cred)
}

func (s *CampaignService) SaveCredential(ctx context.Context, owner string, in CredentialInput) (*model.SenderCredential, error) {
    in.AccountType = strings.ToLower(strings.TrimSpace(in.AccountType))
    if err := validate.Struct(in); err != nil {
        return nil, validationError(err)
    }
    cred := &model.SenderCredential{
        OwnerEmail:  owner,
        ProviderKey: in.ProviderKey,
        FromName:    in.FromName,
        AccountType: model.AccountType(in.AccountType),
        ExpiresAt:   in.ExpiresAt,
    }
    if err := s.CredentialRepo.Upsert(ctx, cred); err != nil {
        return nil, err
    }
    slog.Info("sender_credential_saved", "owner", owner, "account_type", cred.AccountType)
    return cred, nil
}
