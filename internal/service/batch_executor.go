// internal/service/batch_executor.go
package service

import (
    "context"
    "errors"
    "log/slog"
    "time"

    appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
    "github.com/unclebandit/campaign-batcher/internal/mailer"
    "github.com/unclebandit/campaign-batcher/internal/metrics"
    "github.com/unclebandit/campaign-batcher/internal/model"
    "github.com/unclebandit/campaign-batcher/internal/queue"
    "github.com/unclebandit/campaign-batcher/internal/repository"
)

// QuotaChecker is implemented by quota.Oracle.
type QuotaChecker interface {
    GetAllowance(ctx context.Context, cred *model.SenderCredential) (model.QuotaSnapshot, error)
}

// BatchExecutor runs at most one batch of one campaign per call. Every
// trigger (sweep, delayed callback, interactive send) ends up here.
type BatchExecutor struct {
    CampaignRepo   repository.CampaignRepositoryInterface
    RecipientRepo  repository.RecipientRepositoryInterface
    SentEmailRepo  repository.SentEmailRepositoryInterface
    CredentialRepo repository.CredentialRepositoryInterface
    Quota          QuotaChecker
    Sender         mailer.Sender
    Scheduler      queue.Scheduler
    Now            func() time.Time
}

func (e *BatchExecutor) now() time.Time {
    if e.Now == nil {
        return time.Now().UTC()
    }
    return e.Now().UTC()
}

// RunBatch never returns an error: every path ends in an outcome.
func (e *BatchExecutor) RunBatch(ctx context.Context, campaignID int64) model.BatchOutcome {
    out := e.runBatch(ctx, campaignID)
    metrics.BatchesTotal.WithLabelValues(out.Result()).Inc()
    slog.Info("batch_outcome",
        "campaign_id", campaignID,
        "result", out.Result(),
        "batch_number", out.BatchNumber,
        "sent", out.Sent,
        "failed", out.Failed,
        "code", out.Code,
    )
    return out
}

func storeError(campaignID int64, op string, err error) model.BatchOutcome {
    slog.Error("batch_store_error", "campaign_id", campaignID, "op", op, "error", err)
    return model.BatchOutcome{Code: model.CodeStoreError, Error: op + ": " + err.Error()}
}

func (e *BatchExecutor) runBatch(ctx context.Context, campaignID int64) model.BatchOutcome {
    c, err := e.CampaignRepo.GetByID(ctx, campaignID)
    if err != nil {
        if appErrors.IsNotFound(err) {
            return model.BatchOutcome{Success: true, Skipped: true, Code: model.CodeNotRunning}
        }
        return storeError(campaignID, "load campaign", err)
    }
    if c.Status != model.CampaignRunning {
        return model.BatchOutcome{Success: true, Skipped: true, Code: model.CodeNotRunning}
    }

    cred, err := e.CredentialRepo.GetByOwner(ctx, c.OwnerEmail)
    if err != nil {
        return storeError(c.ID, "load credentials", err)
    }
    if !cred.Usable(e.now()) {
        return e.pause(ctx, c, model.PauseNoCredentials, model.CodeNoCredentials)
    }

    snap, err := e.Quota.GetAllowance(ctx, cred)
    if err != nil {
        if errors.Is(err, appErrors.ErrAuthExpired) {
            return e.pause(ctx, c, model.PauseAuthExpired, model.CodeAuthExpired)
        }
        return storeError(c.ID, "quota", err)
    }
    if snap.Remaining < c.BatchSize {
        slog.Warn("quota_exhausted", "campaign_id", c.ID, "remaining", snap.Remaining, "batch_size", c.BatchSize)
        return e.pause(ctx, c, model.PauseQuotaExhausted, model.CodeQuotaExhausted)
    }

    claimed, err := e.RecipientRepo.ClaimPending(ctx, c.ID, c.BatchSize)
    if err != nil {
        return storeError(c.ID, "claim", err)
    }
    if len(claimed) == 0 {
        p, err := e.RecipientRepo.GetProgress(ctx, c.ID)
        if err != nil {
            return storeError(c.ID, "progress", err)
        }
        if p.Exhausted() {
            if err := e.CampaignRepo.SyncCounters(ctx, c.ID, p, nil); err != nil {
                return storeError(c.ID, "sync counters", err)
            }
            e.complete(ctx, c.ID)
            return model.BatchOutcome{Success: true, Completed: true}
        }
        return model.BatchOutcome{Success: true, Skipped: true, Code: model.CodeInProgress}
    }

    before, err := e.RecipientRepo.GetProgress(ctx, c.ID)
    if err != nil {
        return storeError(c.ID, "progress", err)
    }
    batchNumber := before.Sent/c.BatchSize + 1

    ids := make([]int64, len(claimed))
    emails := make([]string, len(claimed))
    for i, r := range claimed {
        ids[i] = r.ID
        emails[i] = r.Email
    }

    start := time.Now()
    sendErr := e.Sender.SendConfidentialBatch(ctx, cred, BuildBatchMessage(c, claimed))
    metrics.SendDuration.Observe(time.Since(start).Seconds())
    now := e.now()

    out := model.BatchOutcome{BatchNumber: batchNumber}
    if sendErr == nil {
        if err := e.RecipientRepo.MarkSent(ctx, ids, batchNumber, now); err != nil {
            return storeError(c.ID, "mark sent", err)
        }
        if err := e.SentEmailRepo.Append(ctx, c.OwnerEmail, c.ID, emails, now); err != nil {
            slog.Error("ledger_append_failed", "campaign_id", c.ID, "count", len(emails), "error", err)
            metrics.LedgerAppendFailures.Add(float64(len(emails)))
        }
        metrics.RecipientsTotal.WithLabelValues(string(model.RecipientSent)).Add(float64(len(ids)))
        out.Success = true
        out.Sent = len(ids)
    } else {
        slog.Error("batch_send_failed", "campaign_id", c.ID, "batch_number", batchNumber, "recipients", len(ids), "error", sendErr)
        if err := e.RecipientRepo.MarkFailed(ctx, ids, sendErr.Error(), batchNumber); err != nil {
            return storeError(c.ID, "mark failed", err)
        }
        metrics.RecipientsTotal.WithLabelValues(string(model.RecipientFailed)).Add(float64(len(ids)))
        out.Failed = len(ids)
        out.Code = model.CodeSendFailed
        out.Error = sendErr.Error()
    }

    p, err := e.RecipientRepo.GetProgress(ctx, c.ID)
    if err != nil {
        return storeError(c.ID, "progress", err)
    }
    if err := e.CampaignRepo.SyncCounters(ctx, c.ID, p, &now); err != nil {
        return storeError(c.ID, "sync counters", err)
    }

    if p.Exhausted() {
        e.complete(ctx, c.ID)
        out.Completed = true
        return out
    }

    // A rejected credential will fail every following batch too.
    if errors.Is(sendErr, appErrors.ErrAuthExpired) {
        paused := e.pause(ctx, c, model.PauseAuthExpired, model.CodeAuthExpired)
        paused.BatchNumber = batchNumber
        paused.Failed = out.Failed
        return paused
    }

    delay := time.Duration(c.BatchDelaySeconds) * time.Second
    next := now.Add(delay)
    if err := e.CampaignRepo.SetNextBatch(ctx, c.ID, next); err != nil {
        slog.Error("set_next_batch_failed", "campaign_id", c.ID, "error", err)
    }
    if _, err := e.Scheduler.ScheduleCallback(ctx, c.ID, delay); err != nil {
        slog.Error("schedule_next_batch_failed", "campaign_id", c.ID, "error", err)
    }
    out.NextBatchAt = &next
    return out
}

func (e *BatchExecutor) pause(ctx context.Context, c *model.Campaign, reason, code string) model.BatchOutcome {
    ok, err := e.CampaignRepo.TransitionStatus(ctx, c.ID, model.CampaignRunning, model.CampaignPaused, reason)
    if err != nil {
        return storeError(c.ID, "pause", err)
    }
    if !ok {
        slog.Info("pause_lost_race", "campaign_id", c.ID, "reason", reason)
    } else {
        slog.Warn("campaign_paused", "campaign_id", c.ID, "reason", reason)
    }
    return model.BatchOutcome{Paused: true, Code: code, Error: reason}
}

func (e *BatchExecutor) complete(ctx context.Context, campaignID int64) {
    ok, err := e.CampaignRepo.TransitionStatus(ctx, campaignID, model.CampaignRunning, model.CampaignCompleted, "")
    if err != nil {
        slog.Error("complete_failed", "campaign_id", campaignID, "error", err)
        return
    }
    if ok {
        slog.Info("campaign_completed", "campaign_id", campaignID)
    }
}
