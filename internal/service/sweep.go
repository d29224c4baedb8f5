// internal/service/sweep.go
package service

import (
    "context"
    "log/slog"
    "time"

    "github.com/unclebandit/campaign-batcher/internal/metrics"
    "github.com/unclebandit/campaign-batcher/internal/model"
    "github.com/unclebandit/campaign-batcher/internal/repository"
)

const ClaimExpiredMessage = "claim expired"

type SweepResult struct {
    Processed int                           `json:"processed"`
    Results   map[int64]model.BatchOutcome `json:"results"`
}

// Sweeper is the periodic backstop that keeps running campaigns moving
// when delayed callbacks are lost.
type Sweeper struct {
    CampaignRepo  repository.CampaignRepositoryInterface
    RecipientRepo repository.RecipientRepositoryInterface
    Executor      *BatchExecutor
    Limit         int
    ClaimTimeout  time.Duration
    Now           func() time.Time
}

func (s *Sweeper) now() time.Time {
    if s.Now == nil {
        return time.Now().UTC()
    }
    return s.Now().UTC()
}

// Run first fails claims older than ClaimTimeout, then runs one batch for
// each due campaign, oldest updated first, one after the other.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
    now := s.now()
    if s.ClaimTimeout > 0 {
        s.recoverStaleClaims(ctx, now.Add(-s.ClaimTimeout))
    }

    due, err := s.CampaignRepo.ListDueRunning(ctx, now, s.Limit)
    if err != nil {
        return SweepResult{}, err
    }

    result := SweepResult{Results: make(map[int64]model.BatchOutcome, len(due))}
    for _, c := range due {
        if ctx.Err() != nil {
            break
        }
        result.Results[c.ID] = s.Executor.RunBatch(ctx, c.ID)
        result.Processed++
        metrics.SweepCampaigns.Inc()
    }
    slog.Info("sweep_done", "processed", result.Processed, "due", len(due))
    return result, nil
}

func (s *Sweeper) recoverStaleClaims(ctx context.Context, cutoff time.Time) {
    ids, err := s.RecipientRepo.FailStaleClaims(ctx, cutoff, ClaimExpiredMessage)
    if err != nil {
        slog.Error("stale_claims_failed", "error", err)
        return
    }
    for _, id := range ids {
        metrics.StaleClaimsFailed.Inc()
        p, err := s.RecipientRepo.GetProgress(ctx, id)
        if err != nil {
            slog.Error("stale_claims_progress_failed", "campaign_id", id, "error", err)
            continue
        }
        if err := s.CampaignRepo.SyncCounters(ctx, id, p, nil); err != nil {
            slog.Error("stale_claims_sync_failed", "campaign_id", id, "error", err)
            continue
        }
        slog.Warn("stale_claims_recovered", "campaign_id", id, "failed_total", p.Failed)
    }
}
