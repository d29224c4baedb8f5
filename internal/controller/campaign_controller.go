// internal/controller/campaign_controller.go
package controller

import (
    "encoding/json"
    "errors"
    "net/http"
    "strconv"

    "github.com/go-chi/chi/v5"

    "github.com/unclebandit/campaign-batcher/internal/auth"
    appErrors "github.com/unclebandit/campaign-batcher/internal/errors"
    "github.com/unclebandit/campaign-batcher/internal/model"
    "github.com/unclebandit/campaign-batcher/internal/respond"
    "github.com/unclebandit/campaign-batcher/internal/service"
)

type CampaignController struct {
    CampaignService *service.CampaignService
    Stream          StreamConfig
}

func campaignID(r *http.Request) (int64, error) {
    id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
    if err != nil || id < 1 {
        return 0, appErrors.NewValidation("invalid campaign id")
    }
    return id, nil
}

func decode(r *http.Request, v any) error {
    if err := json.NewDecoder(r.Body).Decode(v); err != nil {
        return appErrors.NewValidation("invalid body: %v", err)
    }
    return nil
}

func pageParams(r *http.Request) (int, int) {
    page, _ := strconv.Atoi(r.URL.Query().Get("page"))
    pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
    return page, pageSize
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
    var body service.CampaignInput
    if err := decode(r, &body); err != nil {
        respond.Error(w, r, err)
        return
    }

    campaign, err := c.CampaignService.CreateCampaign(r.Context(), auth.OwnerFromContext(r.Context()), body)
    if err != nil {
        respond.Error(w, r, err)
        return
    }
    respond.JSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
    page, pageSize := pageParams(r)
    status := r.URL.Query().Get("status")

    campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), auth.OwnerFromContext(r.Context()), page, pageSize, status)
    if err != nil {
        respond.Error(w, r, err)
        return
    }

    respond.JSON(w, http.StatusOK, map[string]interface{}{
        "data":       campaigns,
        "pagination": pagination, // total_count, total_pages, page, page_size
    })
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        respond.Error(w, r, err)
        return
    }

    details, err := c.CampaignService.GetCampaignDetails(r.Context(), auth.OwnerFromContext(r.Context()), id)
    if err != nil {
        respond.Error(w, r, err)
        return
    }
    respond.JSON(w, http.StatusOK, details)
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        respond.Error(w, r, err)
        return
    }
    var body service.CampaignInput
    if err := decode(r, &body); err != nil {
        respond.Error(w, r, err)
        return
    }

    campaign, err := c.CampaignService.UpdateDraft(r.Context(), auth.OwnerFromContext(r.Context()), id, body)
    if err != nil {
        respond.Error(w, r, err)
        return
    }
    respond.JSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) ReplaceRecipients(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        respond.Error(w, r, err)
        return
    }
    var body struct {
        Recipients []string `json:"recipients"`
    }
    if err := decode(r, &body); err != nil {
        respond.Error(w, r, err)
        return
    }

    total, err := c.CampaignService.ReplaceRecipients(r.Context(), auth.OwnerFromContext(r.Context()), id, body.Recipients)
    if err != nil {
        respond.Error(w, r, err)
        return
    }
    respond.JSON(w, http.StatusOK, map[string]interface{}{
        "campaign_id":      id,
        "total_recipients": total,
    })
}

func (c *CampaignController) ListRecipients(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        respond.Error(w, r, err)
        return
    }
    page, pageSize := pageParams(r)

    recipients, pagination, err := c.CampaignService.ListRecipients(r.Context(), auth.OwnerFromContext(r.Context()), id, r.URL.Query().Get("status"), page, pageSize)
    if err != nil {
        respond.Error(w, r, err)
        return
    }
    respond.JSON(w, http.StatusOK, map[string]interface{}{
        "data":       recipients,
        "pagination": pagination,
    })
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        respond.Error(w, r, err)
        return
    }
    if err := c.CampaignService.DeleteCampaign(r.Context(), auth.OwnerFromContext(r.Context()), id); err != nil {
        respond.Error(w, r, err)
        return
    }
    w.WriteHeader(http.StatusNoContent)
}

// Transition serves one of the start/pause/resume/stop actions.
func (c *CampaignController) Transition(action string) http.HandlerFunc {
    return func(w http.ResponseWriter, r *http.Request) {
        id, err := campaignID(r)
        if err != nil {
            respond.Error(w, r, err)
            return
        }
        owner := auth.OwnerFromContext(r.Context())

        var campaign *model.Campaign
        switch action {
        case "start":
            campaign, err = c.CampaignService.StartCampaign(r.Context(), owner, id)
        case "pause":
            campaign, err = c.CampaignService.PauseCampaign(r.Context(), owner, id)
        case "resume":
            campaign, err = c.CampaignService.ResumeCampaign(r.Context(), owner, id)
        case "stop":
            campaign, err = c.CampaignService.StopCampaign(r.Context(), owner, id)
        default:
            err = appErrors.NewValidation("unknown action %q", action)
        }
        if err != nil {
            respond.Error(w, r, err)
            return
        }
        respond.JSON(w, http.StatusOK, campaign)
    }
}

// SendNextBatch runs one batch synchronously. Soft failures come back as
// 200 with success=false.
func (c *CampaignController) SendNextBatch(w http.ResponseWriter, r *http.Request) {
    id, err := campaignID(r)
    if err != nil {
        respond.Error(w, r, err)
        return
    }

    outcome, err := c.CampaignService.SendNextBatch(r.Context(), auth.OwnerFromContext(r.Context()), id)
    if err != nil {
        respond.Error(w, r, err)
        return
    }
    respond.JSON(w, http.StatusOK, outcome)
}

func (c *CampaignController) GetQuota(w http.ResponseWriter, r *http.Request) {
    snap, err := c.CampaignService.GetQuota(r.Context(), auth.OwnerFromContext(r.Context()))
    switch {
    case errors.Is(err, appErrors.ErrNoCredentials):
        respond.JSON(w, http.StatusOK, map[string]interface{}{"success": false, "code": model.CodeNoCredentials, "error": model.PauseNoCredentials})
        return
    case errors.Is(err, appErrors.ErrAuthExpired):
        respond.JSON(w, http.StatusOK, map[string]interface{}{"success": false, "code": model.CodeAuthExpired, "error": model.PauseAuthExpired})
        return
    case err != nil:
        respond.Error(w, r, err)
        return
    }
    respond.JSON(w, http.StatusOK, map[string]interface{}{"success": true, "quota": snap})
}

func (c *CampaignController) SaveSender(w http.ResponseWriter, r *http.Request) {
    var body service.CredentialInput
    if err := decode(r, &body); err != nil {
        respond.Error(w, r, err)
        return
    }

    cred, err := c.CampaignService.SaveCredential(r.Context(), auth.OwnerFromContext(r.Context()), body)
    if err != nil {
        respond.Error(w, r, err)
        return
    }
    respond.JSON(w, http.StatusOK, cred)
}
