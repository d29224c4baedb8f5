package repository

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "time"

    "github.com/lib/pq"

    appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
    "github.com/unclebandit/campaign-batcher/internal/model"
)

type CampaignRepositoryInterface interface {
    // Create inserts a draft campaign with its recipient set.
    Create(ctx context.Context, c *model.Campaign, emails []string) error
    GetByID(ctx context.Context, id int64) (*model.Campaign, error)
    ListByOwner(ctx context.Context, owner string, offset, limit int, status string) ([]*model.Campaign, int, error)
    // UpdateContent rewrites subject/body/batch settings of a draft. A non-nil
    // recipients slice replaces the recipient set in the same transaction.
    UpdateContent(ctx context.Context, id int64, content model.CampaignContent, recipients []string) error
    // TransitionStatus moves the campaign from -> to only if it is still in
    // from. next_batch_at is cleared for every target except running.
    TransitionStatus(ctx context.Context, id int64, from, to model.CampaignStatus, reason string) (bool, error)
    // SyncCounters copies the recipient aggregate into the campaign row.
    SyncCounters(ctx context.Context, id int64, p model.Progress, lastBatchAt *time.Time) error
    SetNextBatch(ctx context.Context, id int64, at time.Time) error
    Delete(ctx context.Context, id int64) error
    // ListDueRunning returns running campaigns whose next batch is due,
    // least recently updated first.
    ListDueRunning(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error)
}

type CampaignRepository struct {
    DB *sql.DB
}

const campaignColumns = `id, owner_email, name, subject, body_html, signature_html, batch_size, batch_delay_seconds,
        status, pause_reason, total_recipients, sent_count, failed_count, last_batch_at, next_batch_at, created_at, updated_at`

type rowScanner interface {
    Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
    var c model.Campaign
    err := row.Scan(
        &c.ID, &c.OwnerEmail, &c.Name, &c.Subject, &c.BodyHTML, &c.SignatureHTML, &c.BatchSize, &c.BatchDelaySeconds,
        &c.Status, &c.PauseReason, &c.TotalRecipients, &c.SentCount, &c.FailedCount, &c.LastBatchAt, &c.NextBatchAt,
        &c.CreatedAt, &c.UpdatedAt,
    )
    if err != nil {
        return nil, err
    }
    return &c, nil
}

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign, emails []string) error {
    tx, err := r.DB.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    defer tx.Rollback()

    if c.Status == "" {
        c.Status = model.CampaignDraft
    }
    query := `
        INSERT INTO campaigns (owner_email, name, subject, body_html, signature_html, batch_size, batch_delay_seconds, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id, created_at, updated_at
    `
    err = tx.QueryRowContext(ctx, query,
        c.OwnerEmail, c.Name, c.Subject, c.BodyHTML, c.SignatureHTML, c.BatchSize, c.BatchDelaySeconds, c.Status,
    ).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
    if err != nil {
        return fmt.Errorf("insert campaign: %w", err)
    }

    total, err := insertRecipients(ctx, tx, c.ID, emails)
    if err != nil {
        return err
    }
    if _, err := tx.ExecContext(ctx, `UPDATE campaigns SET total_recipients=$1 WHERE id=$2`, total, c.ID); err != nil {
        return fmt.Errorf("set total_recipients: %w", err)
    }
    c.TotalRecipients = total

    return tx.Commit()
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
    query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
    c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return nil, appErrors.NewCampaignNotFound(id)
        }
        return nil, err
    }
    return c, nil
}

func (r *CampaignRepository) ListByOwner(ctx context.Context, owner string, offset, limit int, status string) ([]*model.Campaign, int, error) {
    campaigns := []*model.Campaign{}
    where := ` WHERE owner_email=$1`
    args := []interface{}{owner}
    argPos := 2

    if status != "" {
        where += fmt.Sprintf(" AND status=$%d", argPos)
        args = append(args, status)
        argPos++
    }

    var total int
    if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
        return nil, 0, err
    }

    query := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
        fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
    args = append(args, limit, offset)

    rows, err := r.DB.QueryContext(ctx, query, args...)
    if err != nil {
        return nil, 0, err
    }
    defer rows.Close()

    for rows.Next() {
        c, err := scanCampaign(rows)
        if err != nil {
            return nil, 0, err
        }
        campaigns = append(campaigns, c)
    }
    if err := rows.Err(); err != nil {
        return nil, 0, err
    }

    return campaigns, total, nil
}

func (r *CampaignRepository) UpdateContent(ctx context.Context, id int64, content model.CampaignContent, recipients []string) error {
    tx, err := r.DB.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    defer tx.Rollback()

    var status model.CampaignStatus
    err = tx.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1 FOR UPDATE`, id).Scan(&status)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            return appErrors.NewCampaignNotFound(id)
        }
        return err
    }
    if status != model.CampaignDraft {
        return appErrors.ErrNotDraft
    }

    query := `
        UPDATE campaigns
        SET name=$1, subject=$2, body_html=$3, signature_html=$4, batch_size=$5, batch_delay_seconds=$6, updated_at=NOW()
        WHERE id=$7
    `
    _, err = tx.ExecContext(ctx, query,
        content.Name, content.Subject, content.BodyHTML, content.SignatureHTML, content.BatchSize, content.BatchDelaySeconds, id,
    )
    if err != nil {
        return err
    }

    if recipients != nil {
        if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_recipients WHERE campaign_id=$1`, id); err != nil {
            return fmt.Errorf("delete recipients: %w", err)
        }
        total, err := insertRecipients(ctx, tx, id, recipients)
        if err != nil {
            return err
        }
        _, err = tx.ExecContext(ctx,
            `UPDATE campaigns SET total_recipients=$1, sent_count=0, failed_count=0 WHERE id=$2`, total, id,
        )
        if err != nil {
            return err
        }
    }

    return tx.Commit()
}

func (r *CampaignRepository) TransitionStatus(ctx context.Context, id int64, from, to model.CampaignStatus, reason string) (bool, error) {
    query := `
        UPDATE campaigns
        SET status=$1, pause_reason=$2,
            next_batch_at = CASE WHEN $3 THEN NULL ELSE next_batch_at END,
            updated_at=NOW()
        WHERE id=$4 AND status=$5
    `
    res, err := r.DB.ExecContext(ctx, query, to, reason, to != model.CampaignRunning, id, from)
    if err != nil {
        return false, err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    return n == 1, nil
}

func (r *CampaignRepository) SyncCounters(ctx context.Context, id int64, p model.Progress, lastBatchAt *time.Time) error {
    query := `
        UPDATE campaigns
        SET total_recipients=$1, sent_count=$2, failed_count=$3,
            last_batch_at = COALESCE($4, last_batch_at), updated_at=NOW()
        WHERE id=$5
    `
    _, err := r.DB.ExecContext(ctx, query, p.Total, p.Sent, p.Failed, lastBatchAt, id)
    return err
}

func (r *CampaignRepository) SetNextBatch(ctx context.Context, id int64, at time.Time) error {
    query := `UPDATE campaigns SET next_batch_at=$1, updated_at=NOW() WHERE id=$2 AND status='running'`
    _, err := r.DB.ExecContext(ctx, query, at, id)
    return err
}

func (r *CampaignRepository) Delete(ctx context.Context, id int64) error {
    res, err := r.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1 AND status <> 'running'`, id)
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        if _, err := r.GetByID(ctx, id); err != nil {
            return err
        }
        return appErrors.ErrCampaignRunning
    }
    return nil
}

func (r *CampaignRepository) ListDueRunning(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
    query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE status='running' AND (next_batch_at IS NULL OR next_batch_at <= $1)
        ORDER BY updated_at ASC
        LIMIT $2`
    rows, err := r.DB.QueryContext(ctx, query, now, limit)
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    campaigns := []*model.Campaign{}
    for rows.Next() {
        c, err := scanCampaign(rows)
        if err != nil {
            return nil, err
        }
        campaigns = append(campaigns, c)
    }
    return campaigns, rows.Err()
}

// insertRecipients bulk-inserts pending rows; duplicates are skipped.
func insertRecipients(ctx context.Context, tx *sql.Tx, campaignID int64, emails []string) (int, error) {
    if len(emails) == 0 {
        return 0, nil
    }
    query := `
        INSERT INTO campaign_recipients (campaign_id, email, status)
        SELECT $1, e, 'pending' FROM unnest($2::text[]) WITH ORDINALITY AS t(e, ord)
        ORDER BY ord
        ON CONFLICT (campaign_id, email) DO NOTHING
    `
    res, err := tx.ExecContext(ctx, query, campaignID, pq.Array(emails))
    if err != nil {
        return 0, fmt.Errorf("insert recipients: %w", err)
    }
    n, err := res.RowsAffected()
    if err != nil {
        return 0, err
    }
    return int(n), nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
