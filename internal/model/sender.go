// internal/model/sender.go
package model

import "time"

type AccountType string

const (
    AccountWorkspace AccountType = "workspace"
    AccountPersonal  AccountType = "personal"
)

// SenderCredential is what the send transport needs to act on behalf of
// a campaign owner.
type SenderCredential struct {
    OwnerEmail  string      `db:"owner_email" json:"owner_email"`
    ProviderKey string      `db:"provider_key" json:"-"`
    FromName    string      `db:"from_name" json:"from_name"`
    AccountType AccountType `db:"account_type" json:"account_type"`
    ExpiresAt   *time.Time  `db:"expires_at" json:"expires_at,omitempty"`
    Revoked     bool        `db:"revoked" json:"revoked"`
    UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Usable reports whether the credential can be used at now.
func (c *SenderCredential) Usable(now time.Time) bool {
    if c == nil || c.Revoked || c.ProviderKey == "" {
        return false
    }
    if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
        return false
    }
    return true
}

// QuotaSnapshot is computed per request and never stored.
type QuotaSnapshot struct {
    SentToday int       `json:"sent_today"`
    Limit     int       `json:"limit"`
    Remaining int       `json:"remaining"`
    ResetTime time.Time `json:"reset_time"`
}
