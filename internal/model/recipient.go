// internal/model/recipient.go
package model

import "time"

type RecipientStatus string

const (
    RecipientPending RecipientStatus = "pending"
    RecipientSending RecipientStatus = "sending"
    RecipientSent    RecipientStatus = "sent"
    RecipientFailed  RecipientStatus = "failed"
)

type Recipient struct {
    ID           int64           `db:"id" json:"id"`
    CampaignID   int64           `db:"campaign_id" json:"campaign_id"`
    Email        string          `db:"email" json:"email"`
    Status       RecipientStatus `db:"status" json:"status"` // pending, sending, sent, failed
    ErrorMessage string          `db:"error_message" json:"error_message,omitempty"`
    BatchNumber  *int            `db:"batch_number" json:"batch_number,omitempty"`
    ClaimedAt    *time.Time      `db:"claimed_at" json:"-"`
    SentAt       *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
    CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Progress is the per-status aggregate of a campaign's recipients.
type Progress struct {
    Total   int `json:"total"`
    Pending int `json:"pending"`
    Sending int `json:"sending"`
    Sent    int `json:"sent"`
    Failed  int `json:"failed"`
}

// Exhausted is true once nothing is left to claim and nothing is in flight.
func (p Progress) Exhausted() bool {
    return p.Pending == 0 && p.Sending == 0
}

// SentEmailRecord is one row of the quota ledger. It is not tied to the
// campaign lifecycle and outlives campaign deletion.
type SentEmailRecord struct {
    ID             int64     `db:"id" json:"id"`
    OwnerEmail     string    `db:"owner_email" json:"owner_email"`
    RecipientEmail string    `db:"recipient_email" json:"recipient_email"`
    CampaignID     int64     `db:"campaign_id" json:"campaign_id"`
    SentAt         time.Time `db:"sent_at" json:"sent_at"`
}
