package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/unclebandit/campaign-batcher/internal/model"
)

// CredentialRepositoryInterface stores the sender credential of each owner.
type CredentialRepositoryInterface interface {
	// GetByOwner returns nil, nil when the owner never connected a sender.
	GetByOwner(ctx context.Context, owner string) (*model.SenderCredential, error)
	Upsert(ctx context.Context, c *model.SenderCredential) error
}

type CredentialRepository struct {
	DB *sql.DB
}

func (r *CredentialRepository) GetByOwner(ctx context.Context, owner string) (*model.SenderCredential, error) {
	query := `
		SELECT owner_email, provider_key, from_name, account_type, expires_at, revoked, updated_at
		FROM sender_credentials
		WHERE owner_email = $1
	`
	var c model.SenderCredential
	err := r.DB.QueryRowContext(ctx, query, owner).Scan(
		&c.OwnerEmail, &c.ProviderKey, &c.FromName, &c.AccountType, &c.ExpiresAt, &c.Revoked, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // not connected
		}
		return nil, err
	}
	return &c, nil
}

func (r *CredentialRepository) Upsert(ctx context.Context, c *model.SenderCredential) error {
	query := `
		INSERT INTO sender_credentials (owner_email, provider_key, from_name, account_type, expires_at, revoked, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (owner_email) DO UPDATE
		SET provider_key = EXCLUDED.provider_key,
			from_name = EXCLUDED.from_name,
			account_type = EXCLUDED.account_type,
			expires_at = EXCLUDED.expires_at,
			revoked = EXCLUDED.revoked,
			updated_at = NOW()
		RETURNING updated_at
	`
	return r.DB.QueryRowContext(ctx, query,
		c.OwnerEmail, c.ProviderKey, c.FromName, c.AccountType, c.ExpiresAt, c.Revoked,
	).Scan(&c.UpdatedAt)
}

var _ CredentialRepositoryInterface = (*CredentialRepository)(nil)
