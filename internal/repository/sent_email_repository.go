package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// SentEmailRepositoryInterface is the append-only quota ledger.
type SentEmailRepositoryInterface interface {
	Append(ctx context.Context, owner string, campaignID int64, emails []string, sentAt time.Time) error
	CountSince(ctx context.Context, owner string, since time.Time) (int, error)
}

type SentEmailRepository struct {
	DB *sql.DB
}

func (r *SentEmailRepository) Append(ctx context.Context, owner string, campaignID int64, emails []string, sentAt time.Time) error {
	if len(emails) == 0 {
		return nil
	}
	query := `
		INSERT INTO sent_emails (owner_email, recipient_email, campaign_id, sent_at)
		SELECT $1, e, $2, $3 FROM unnest($4::text[]) AS t(e)
	`
	_, err := r.DB.ExecContext(ctx, query, owner, campaignID, sentAt, pq.Array(emails))
	return err
}

func (r *SentEmailRepository) CountSince(ctx context.Context, owner string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sent_emails WHERE owner_email=$1 AND sent_at >= $2`, owner, since,
	).Scan(&n)
	return n, err
}

var _ SentEmailRepositoryInterface = (*SentEmailRepository)(nil)
