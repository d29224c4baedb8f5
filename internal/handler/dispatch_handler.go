// internal/handler/dispatch_handler.go
package handler

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-batcher/internal/model"
	"github.com/unclebandit/campaign-batcher/internal/queue"
	"github.com/unclebandit/campaign-batcher/internal/respond"
	"github.com/unclebandit/campaign-batcher/internal/service"
)

const maxCallbackBody = 64 << 10

// DispatchHandler serves the machine triggers: the signed callback posted
// by the dispatch worker and the cron sweep.
type DispatchHandler struct {
	Executor      *service.BatchExecutor
	Sweeper       *service.Sweeper
	Verifier      *queue.Verifier
	PublicBaseURL string
	CronSecret    string
}

func (h *DispatchHandler) Routes(r chi.Router) {
	r.Post("/campaigns/{id}/process", h.ProcessCampaign)
	r.Get("/cron/process-campaigns", h.CronSweep)
}

// ProcessCampaign runs one batch for a verified callback. Store failures
// answer 500 so the worker redelivers; every other outcome is final.
func (h *DispatchHandler) ProcessCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		respond.JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid campaign id"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		respond.JSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	url := h.PublicBaseURL + r.URL.Path
	if err := h.Verifier.Verify(r.Header.Get(queue.SignatureHeader), url, body); err != nil {
		slog.Warn("callback_signature_rejected", "campaign_id", id, "error", err)
		respond.JSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var job queue.Job
	if len(body) > 0 {
		if err := json.Unmarshal(body, &job); err != nil {
			respond.JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
		if job.CampaignID != 0 && job.CampaignID != id {
			respond.JSON(w, http.StatusBadRequest, map[string]string{"error": "campaign id mismatch"})
			return
		}
	}

	outcome := h.Executor.RunBatch(r.Context(), id)
	status := http.StatusOK
	if outcome.Code == model.CodeStoreError {
		status = http.StatusInternalServerError
	}
	slog.Debug("callback_processed", "campaign_id", id, "job_id", job.ID, "attempt", job.Attempt, "result", outcome.Result())
	respond.JSON(w, status, outcome)
}

// CronSweep is guarded by Authorization: Bearer CRON_SECRET.
func (h *DispatchHandler) CronSweep(w http.ResponseWriter, r *http.Request) {
	if !h.cronAuthorized(r) {
		respond.JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.Sweeper.Run(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, result)
}

func (h *DispatchHandler) cronAuthorized(r *http.Request) bool {
	if h.CronSecret == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.CronSecret)) == 1
}
