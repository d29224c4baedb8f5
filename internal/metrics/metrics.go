package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_batches_total",
		Help: "Batch attempts by result.",
	}, []string{"result"})

	RecipientsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_recipients_processed_total",
		Help: "Recipients moved to a terminal status.",
	}, []string{"status"})

	SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "campaign_send_duration_seconds",
		Help:    "Duration of one batch send call.",
		Buckets: prometheus.DefBuckets,
	})

	SweepCampaigns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campaign_sweep_campaigns_total",
		Help: "Campaigns processed by the cron sweep.",
	})

	StaleClaimsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campaign_stale_claim_campaigns_total",
		Help: "Campaigns that had expired claims failed by the sweep.",
	})

	LedgerAppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campaign_ledger_append_failures_total",
		Help: "Sent recipients missing from the quota ledger after a failed append.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Middleware records request counts and latency labelled by chi route
// pattern rather than raw path.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
