// internal/model/outcome.go
package model

import "time"

// Outcome codes carried in BatchOutcome.Code.
const (
    CodeNotRunning     = "NOT_RUNNING"
    CodeInProgress     = "IN_PROGRESS"
    CodeNoCredentials  = "NO_CREDENTIALS"
    CodeAuthExpired    = "AUTH_EXPIRED"
    CodeQuotaExhausted = "QUOTA_EXHAUSTED"
    CodeSendFailed     = "SEND_FAILED"
    CodeStoreError     = "STORE_ERROR"
)

// Pause reasons shown to the campaign owner.
const (
    PauseNoCredentials  = "no valid tokens"
    PauseAuthExpired    = "authorization expired, reconnect your sender account"
    PauseQuotaExhausted = "quota exhausted"
)

// BatchOutcome is the structured result of one batch attempt. Soft
// failures (paused, skipped) are outcomes, not errors.
type BatchOutcome struct {
    Success     bool       `json:"success"`
    Skipped     bool       `json:"skipped,omitempty"`
    Completed   bool       `json:"completed,omitempty"`
    Paused      bool       `json:"paused,omitempty"`
    Sent        int        `json:"sent,omitempty"`
    Failed      int        `json:"failed,omitempty"`
    BatchNumber int        `json:"batch_number,omitempty"`
    NextBatchAt *time.Time `json:"next_batch_at,omitempty"`
    Code        string     `json:"code,omitempty"`
    Error       string     `json:"error,omitempty"`
}

// Result is a short label for logs and metrics.
func (o BatchOutcome) Result() string {
    switch {
    case o.Completed:
        return "completed"
    case o.Skipped:
        return "skipped"
    case o.Paused:
        return "paused"
    case o.Code == CodeSendFailed:
        return "send_failed"
    case !o.Success:
        return "error"
    }
    return "sent"
}
