package controller

import (
    "encoding/json"
    "fmt"
    "log/slog"
    "net/http"
    "time"

    "github.com/unclebandit/campaign-batcher/internal/auth"
    appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
    "github.com/unclebandit/campaign-batcher/internal/model"
    "github.com/unclebandit/campaign-batcher/internal/respond"
)

type StreamConfig struct {
    Interval time.Duration
}

type streamEvent struct {
    Type     string               `json:"type"`
    Status   model.CampaignStatus `json:"status,omitempty"`
    Progress *model.Progress      `json:"progress,omitempty"`
}

// StreamStatus pushes server-sent events while the campaign progresses.
// An event is written only when status or progress changed since the last
// poll. The stream ends on a terminal status, on deletion or when the
// client goes away.
func (c *CampaignController) StreamStatus(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        respond.Error(w, r, err)
        return
    }
    owner := auth.OwnerFromContext(r.Context())

    details, err := c.CampaignService.GetCampaignDetails(r.Context(), owner, id)
    if err != nil {
        respond.Error(w, r, err)
        return
    }
    flusher, ok := w.(http.Flusher)
    if !ok {
        respond.JSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
        return
    }

    interval := c.Stream.Interval
    if interval <= 0 {
        interval = 2 * time.Second
    }

    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    w.WriteHeader(http.StatusOK)

    write := func(ev streamEvent) string {
        data, _ := json.Marshal(ev)
        fmt.Fprintf(w, "data: %s\n\n", data)
        flusher.Flush()
        return string(data)
    }

    last := ""
    ticker := time.NewTicker(interval)
    defer ticker.Stop()

    for {
        p := details.Progress
        ev := streamEvent{Type: "update", Status: details.Status, Progress: &p}
        if data, _ := json.Marshal(ev); string(data) != last {
            last = write(ev)
        }
        if details.Status.IsTerminal() {
            return
        }

        select {
        case <-r.Context().Done():
            return
        case <-ticker.C:
        }

        details, err = c.CampaignService.GetCampaignDetails(r.Context(), owner, id)
        if appErrors.IsNotFound(err) {
            write(streamEvent{Type: "deleted"})
            return
        }
        if err != nil {
            if r.Context().Err() == nil {
                slog.Error("stream_poll_failed", "campaign_id", id, "error", err)
            }
            return
        }
    }
}
