// Package metrics registers the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debate_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "debate_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "route"})

	JoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debate_joins_total",
		Help: "Room join attempts, labeled by outcome",
	}, []string{"outcome"})

	LedgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debate_ledger_entries_total",
		Help: "Ledger entries written, labeled by kind",
	}, []string{"kind"})

	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debate_withdrawals_total",
		Help: "Withdrawal attempts, labeled by outcome",
	}, []string{"outcome"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debate_webhook_events_total",
		Help: "Payment webhook deliveries, labeled by result",
	}, []string{"result"})

	HubConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "debate_hub_connections",
		Help: "Currently joined real-time connections",
	})

	HubRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debate_hub_rejections_total",
		Help: "Real-time connections rejected during authorization",
	}, []string{"reason"})

	HubFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debate_hub_frames_total",
		Help: "Inbound frames, labeled by kind",
	}, []string{"kind"})

	HubDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "debate_hub_dropped_total",
		Help: "Outbound frames dropped because a connection could not keep up",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency keyed by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
