// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

// Package api is the HTTP boundary: JSON endpoints over the query facade,
// streaming media proxies, the WebSocket upgrade and /metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	gorilla "github.com/gorilla/websocket"

	"github.com/lsst-ts/rubintv/internal/logging"
	"github.com/lsst-ts/rubintv/internal/query"
	"github.com/lsst-ts/rubintv/internal/storage"
	"github.com/lsst-ts/rubintv/internal/websocket"
)

// Handler carries the dependencies every route needs.
type Handler struct {
	queries  *query.Facade
	clients  map[string]storage.Client
	hub      *websocket.Hub
	upgrader gorilla.Upgrader
}

// NewHandler builds the route handlers. clients is keyed by location name.
func NewHandler(queries *query.Facade, clients map[string]storage.Client, hub *websocket.Hub) *Handler {
	return &Handler{
		queries: queries,
		clients: clients,
		hub:     hub,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is enforced by the CORS middleware at the ingress.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Health reports liveness for the ingress probe.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Locations returns the full fixtures list.
func (h *Handler) Locations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.queries.Locations())
}

// Location returns one location's fixtures.
func (h *Handler) Location(w http.ResponseWriter, r *http.Request) {
	loc, err := h.queries.Location(chi.URLParam(r, "location"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// Camera returns a location/camera pair.
func (h *Handler) Camera(w http.ResponseWriter, r *http.Request) {
	loc, cam, err := h.queries.Camera(chi.URLParam(r, "location"), chi.URLParam(r, "camera"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"location": loc,
		"camera":   cam,
	})
}

// Current returns the camera's current-day aggregate, falling through to
// the newest historical day when today is empty.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	payload, err := h.queries.Latest(chi.URLParam(r, "location"), chi.URLParam(r, "camera"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// ForDate returns a prior day's aggregate.
func (h *Handler) ForDate(w http.ResponseWriter, r *http.Request) {
	payload, err := h.queries.ForDate(r.Context(),
		chi.URLParam(r, "location"), chi.URLParam(r, "camera"), chi.URLParam(r, "date"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// ChannelEvent returns the channel's current event with a presigned URL.
func (h *Handler) ChannelEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.queries.CurrentChannelEvent(r.Context(),
		chi.URLParam(r, "location"), chi.URLParam(r, "camera"), chi.URLParam(r, "channel"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// EventForKey resolves ?key=... into a presigned event. The page layer
// uses it to refresh stale URLs.
func (h *Handler) EventForKey(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing key parameter")
		return
	}
	ev, err := h.queries.EventForKey(r.Context(), chi.URLParam(r, "location"), key)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// Calendar returns the camera's year/month/day index of prior days.
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	cal, err := h.queries.Calendar(chi.URLParam(r, "location"), chi.URLParam(r, "camera"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

// NightReport returns the night report for today or, with a date param,
// for a prior day.
func (h *Handler) NightReport(w http.ResponseWriter, r *http.Request) {
	payload, err := h.queries.NightReport(
		chi.URLParam(r, "location"), chi.URLParam(r, "camera"), chi.URLParam(r, "date"))
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// WebSocket upgrades the connection and hands it to the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	websocket.NewClient(h.hub, conn).Start()
}
