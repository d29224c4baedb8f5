package controller

import "github.com/go-chi/chi/v5"

// Routes registers the session authenticated API. The caller installs the
// auth middleware.
func (c *CampaignController) Routes(r chi.Router) {
    r.Post("/campaigns", c.CreateCampaign)
    r.Get("/campaigns", c.ListCampaigns)
    r.Get("/campaigns/{id}", c.GetCampaignDetails)
    r.Put("/campaigns/{id}", c.UpdateCampaign)
    r.Delete("/campaigns/{id}", c.DeleteCampaign)
    r.Put("/campaigns/{id}/recipients", c.ReplaceRecipients)
    r.Get("/campaigns/{id}/recipients", c.ListRecipients)

    for _, action := range []string{"start", "pause", "resume", "stop"} {
        r.Post("/campaigns/{id}/"+action, c.Transition(action))
    }
    r.Post("/campaigns/{id}/send-next-batch", c.SendNextBatch)
    r.Get("/campaigns/{id}/stream", c.StreamStatus)

    r.Get("/quota", c.GetQuota)
    r.Put("/senders/me", c.SaveSender)
}
