// internal/model/campaign.go
package model

import "time"

type CampaignStatus string

const (
    CampaignDraft     CampaignStatus = "draft"
    CampaignRunning   CampaignStatus = "running"
    CampaignPaused    CampaignStatus = "paused"
    CampaignCompleted CampaignStatus = "completed"
    CampaignStopped   CampaignStatus = "stopped"
)

const (
    MinBatchSize = 1
    MaxBatchSize = 100
)

// transitions is the legal status graph. Completed and stopped have no
// outgoing edges.
var transitions = map[CampaignStatus][]CampaignStatus{
    CampaignDraft:   {CampaignRunning, CampaignStopped},
    CampaignRunning: {CampaignPaused, CampaignStopped, CampaignCompleted},
    CampaignPaused:  {CampaignRunning, CampaignStopped},
}

// CanTransition reports whether from -> to is an edge of the status graph.
func CanTransition(from, to CampaignStatus) bool {
    for _, s := range transitions[from] {
        if s == to {
            return true
        }
    }
    return false
}

// IsTerminal reports whether no transition leaves s.
func (s CampaignStatus) IsTerminal() bool {
    return s == CampaignCompleted || s == CampaignStopped
}

func (s CampaignStatus) Valid() bool {
    switch s {
    case CampaignDraft, CampaignRunning, CampaignPaused, CampaignCompleted, CampaignStopped:
        return true
    }
    return false
}

type Campaign struct {
    ID                int64          `db:"id" json:"id"`
    OwnerEmail        string         `db:"owner_email" json:"owner_email"`
    Name              string         `db:"name" json:"name"`
    Subject           string         `db:"subject" json:"subject"`
    BodyHTML          string         `db:"body_html" json:"body_html"`
    SignatureHTML     string         `db:"signature_html" json:"signature_html,omitempty"`
    BatchSize         int            `db:"batch_size" json:"batch_size"`
    BatchDelaySeconds int            `db:"batch_delay_seconds" json:"batch_delay_seconds"`
    Status            CampaignStatus `db:"status" json:"status"`
    PauseReason       string         `db:"pause_reason" json:"pause_reason,omitempty"`
    TotalRecipients   int            `db:"total_recipients" json:"total_recipients"`
    SentCount         int            `db:"sent_count" json:"sent_count"`
    FailedCount       int            `db:"failed_count" json:"failed_count"`
    LastBatchAt       *time.Time     `db:"last_batch_at" json:"last_batch_at,omitempty"`
    NextBatchAt       *time.Time     `db:"next_batch_at" json:"next_batch_at,omitempty"`
    CreatedAt         time.Time      `db:"created_at" json:"created_at"`
    UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// CampaignContent is the editable part of a draft.
type CampaignContent struct {
    Name              string
    Subject           string
    BodyHTML          string
    SignatureHTML     string
    BatchSize         int
    BatchDelaySeconds int
}
