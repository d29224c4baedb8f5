package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
	"github.com/unclebandit/campaign-batcher/internal/model"
)

type RecipientRepositoryInterface interface {
	// ClaimPending moves up to limit pending recipients to sending. It
	// returns nothing while any recipient of the campaign is in sending.
	ClaimPending(ctx context.Context, campaignID int64, limit int) ([]model.Recipient, error)
	// MarkSent and MarkFailed only move rows that are still in sending.
	MarkSent(ctx context.Context, ids []int64, batchNumber int, sentAt time.Time) error
	MarkFailed(ctx context.Context, ids []int64, errorMessage string, batchNumber int) error
	GetProgress(ctx context.Context, campaignID int64) (model.Progress, error)
	// ReplaceRecipients swaps the full recipient set of a draft and returns
	// the new total.
	ReplaceRecipients(ctx context.Context, campaignID int64, emails []string) (int, error)
	ListRecipients(ctx context.Context, campaignID int64, status model.RecipientStatus, offset, limit int) ([]model.Recipient, int, error)
	// FailStaleClaims fails rows claimed before the cutoff and returns the
	// ids of the campaigns they belong to.
	FailStaleClaims(ctx context.Context, claimedBefore time.Time, errorMessage string) ([]int64, error)
}

type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `id, campaign_id, email, status, error_message, batch_number, claimed_at, sent_at, created_at`

func scanRecipient(row rowScanner) (model.Recipient, error) {
	var rc model.Recipient
	err := row.Scan(&rc.ID, &rc.CampaignID, &rc.Email, &rc.Status, &rc.ErrorMessage, &rc.BatchNumber, &rc.ClaimedAt, &rc.SentAt, &rc.CreatedAt)
	return rc, err
}

// ClaimPending runs the whole check-select-update sequence in one
// transaction holding a per-campaign advisory lock, so two claimers for the
// same campaign are serialized. The status='pending' guard on the update
// stays as a second line.
func (r *RecipientRepository) ClaimPending(ctx context.Context, campaignID int64, limit int) ([]model.Recipient, error) {
	if limit < 1 {
		return nil, nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, campaignID); err != nil {
		return nil, fmt.Errorf("lock campaign %d: %w", campaignID, err)
	}

	var inFlight int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campaign_recipients WHERE campaign_id=$1 AND status='sending'`, campaignID,
	).Scan(&inFlight)
	if err != nil {
		return nil, err
	}
	if inFlight > 0 {
		return nil, tx.Commit()
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM campaign_recipients WHERE campaign_id=$1 AND status='pending' ORDER BY id LIMIT $2`,
		campaignID, limit,
	)
	if err != nil {
		return nil, err
	}
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	rows, err = tx.QueryContext(ctx, `
		UPDATE campaign_recipients
		SET status='sending', claimed_at=NOW()
		WHERE id = ANY($1) AND status='pending'
		RETURNING `+recipientColumns,
		pq.Array(ids),
	)
	if err != nil {
		return nil, err
	}
	claimed := []model.Recipient{}
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		claimed = append(claimed, rc)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sort.Slice(claimed, func(i, j int) bool { return claimed[i].ID < claimed[j].ID })
	return claimed, nil
}

func (r *RecipientRepository) MarkSent(ctx context.Context, ids []int64, batchNumber int, sentAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE campaign_recipients
		SET status='sent', batch_number=$1, sent_at=$2, error_message=''
		WHERE id = ANY($3) AND status='sending'
	`
	_, err := r.DB.ExecContext(ctx, query, batchNumber, sentAt, pq.Array(ids))
	return err
}

func (r *RecipientRepository) MarkFailed(ctx context.Context, ids []int64, errorMessage string, batchNumber int) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE campaign_recipients
		SET status='failed', batch_number=$1, error_message=$2
		WHERE id = ANY($3) AND status='sending'
	`
	_, err := r.DB.ExecContext(ctx, query, batchNumber, errorMessage, pq.Array(ids))
	return err
}

func (r *RecipientRepository) GetProgress(ctx context.Context, campaignID int64) (model.Progress, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status='pending'),
			COUNT(*) FILTER (WHERE status='sending'),
			COUNT(*) FILTER (WHERE status='sent'),
			COUNT(*) FILTER (WHERE status='failed')
		FROM campaign_recipients
		WHERE campaign_id=$1
	`
	var p model.Progress
	err := r.DB.QueryRowContext(ctx, query, campaignID).Scan(&p.Total, &p.Pending, &p.Sending, &p.Sent, &p.Failed)
	return p, err
}

func (r *RecipientRepository) ReplaceRecipients(ctx context.Context, campaignID int64, emails []string) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var status model.CampaignStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id=$1 FOR UPDATE`, campaignID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, appErrors.NewCampaignNotFound(campaignID)
		}
		return 0, err
	}
	if status != model.CampaignDraft {
		return 0, appErrors.ErrNotDraft
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_recipients WHERE campaign_id=$1`, campaignID); err != nil {
		return 0, fmt.Errorf("delete recipients: %w", err)
	}
	total, err := insertRecipients(ctx, tx, campaignID, emails)
	if err != nil {
		return 0, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE campaigns SET total_recipients=$1, sent_count=0, failed_count=0, updated_at=NOW() WHERE id=$2`,
		total, campaignID,
	)
	if err != nil {
		return 0, err
	}

	return total, tx.Commit()
}

func (r *RecipientRepository) ListRecipients(ctx context.Context, campaignID int64, status model.RecipientStatus, offset, limit int) ([]model.Recipient, int, error) {
	where := ` WHERE campaign_id=$1`
	args := []interface{}{campaignID}
	argPos := 2
	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaign_recipients`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + recipientColumns + ` FROM campaign_recipients` + where +
		fmt.Sprintf(" ORDER BY id LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		rc, err := scanRecipient(rows)
		if err != nil {
			return nil, 0, err
		}
		recipients = append(recipients, rc)
	}
	return recipients, total, rows.Err()
}

func (r *RecipientRepository) FailStaleClaims(ctx context.Context, claimedBefore time.Time, errorMessage string) ([]int64, error) {
	query := `
		UPDATE campaign_recipients
		SET status='failed', error_message=$1
		WHERE status='sending' AND claimed_at < $2
		RETURNING campaign_id
	`
	rows, err := r.DB.QueryContext(ctx, query, errorMessage, claimedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := map[int64]bool{}
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, rows.Err()
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
