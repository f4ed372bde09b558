// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

// Package metrics declares the service's Prometheus collectors. Everything
// registers on the default registry via promauto; the API layer exposes it
// on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll cycle metrics, labelled by location/camera.
	PollIterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rubintv_poll_iterations_total",
			Help: "Completed current-day poll iterations per camera",
		},
		[]string{"location", "camera"},
	)

	PollErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rubintv_poll_errors_total",
			Help: "Failed current-day poll iterations per camera",
		},
		[]string{"location", "camera"},
	)

	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rubintv_poll_duration_seconds",
			Help:    "Duration of one full poll sweep across all cameras",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Broadcast fan-out, labelled by message kind.
	BroadcastsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rubintv_broadcasts_total",
			Help: "Messages handed to the hub for fan-out, by kind",
		},
		[]string{"kind"},
	)

	// WebSocket client accounting.
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rubintv_websocket_clients",
			Help: "Currently connected WebSocket clients",
		},
	)

	DroppedClients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rubintv_websocket_dropped_clients_total",
			Help: "Clients disconnected because their send queue overflowed",
		},
	)

	// Historical cache builds.
	HistoricalRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rubintv_historical_refreshes_total",
			Help: "Historical snapshot builds, by outcome",
		},
		[]string{"outcome"}, // "ok" or "error"
	)

	HistoricalRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rubintv_historical_refresh_duration_seconds",
			Help:    "Duration of full historical snapshot builds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Storage operations, labelled by bucket and operation.
	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rubintv_storage_errors_total",
			Help: "Object store operation failures",
		},
		[]string{"bucket", "operation"},
	)

	// HTTP surface.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rubintv_http_requests_total",
			Help: "API requests by route pattern and status class",
		},
		[]string{"route", "status"},
	)

	MediaBytesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rubintv_media_bytes_served_total",
			Help: "Bytes streamed through the media proxies",
		},
		[]string{"kind"}, // "image" or "video"
	)
)
