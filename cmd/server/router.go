// cmd/server/router.go
package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unclebandit/campaign-batcher/internal/auth"
	"github.com/unclebandit/campaign-batcher/internal/controller"
	"github.com/unclebandit/campaign-batcher/internal/handler"
	"github.com/unclebandit/campaign-batcher/internal/metrics"
	"github.com/unclebandit/campaign-batcher/internal/respond"
)

type routerDeps struct {
	Campaigns     *controller.CampaignController
	Dispatch      *handler.DispatchHandler
	SessionSecret string
	Ready         func() error
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(); err != nil {
				respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Machine triggers carry their own credentials.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Minute))
		d.Dispatch.Routes(r)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(d.SessionSecret))
		d.Campaigns.Routes(r)
	})
	return r
}
