// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lsst-ts/rubintv/internal/config"
	"github.com/lsst-ts/rubintv/internal/metrics"
)

// NewRouter mounts every route under cfg.PathPrefix, matching the ingress
// the service sits behind.
func NewRouter(cfg config.ServerConfig, h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Range"},
		MaxAge:         300,
	}))

	r.Route(cfg.PathPrefix, func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/api", func(r chi.Router) {
			if cfg.RateLimitReqs > 0 {
				r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
			}
			r.Use(requestMetrics)

			r.Get("/", h.Locations)
			r.Get("/{location}", h.Location)
			r.Get("/{location}/event", h.EventForKey)
			r.Get("/{location}/{camera}", h.Camera)
			r.Get("/{location}/{camera}/current", h.Current)
			r.Get("/{location}/{camera}/current/{channel}", h.ChannelEvent)
			r.Get("/{location}/{camera}/date/{date}", h.ForDate)
			r.Get("/{location}/{camera}/calendar", h.Calendar)
			r.Get("/{location}/{camera}/night_report", h.NightReport)
			r.Get("/{location}/{camera}/night_report/{date}", h.NightReport)
		})

		// Media proxies stream bodies and must not be buffered or rate
		// limited like the JSON API.
		r.Group(func(r chi.Router) {
			r.Use(requestMetrics)
			r.Get("/event_image/{location}/{camera}/{channel}/{filename}", h.EventImage)
			r.Get("/event_video/{location}/{camera}/{channel}/{filename}", h.EventVideo)
		})

		r.Get("/ws/", h.WebSocket)
	})

	return r
}

// requestMetrics counts requests by route pattern and status class.
func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		status := strconv.Itoa(ww.Status()/100) + "xx"
		metrics.HTTPRequests.WithLabelValues(route, status).Inc()
	})
}
