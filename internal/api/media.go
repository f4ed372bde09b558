// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lsst-ts/rubintv/internal/logging"
	"github.com/lsst-ts/rubintv/internal/metrics"
	"github.com/lsst-ts/rubintv/internal/models"
)

// EventImage streams an image object straight from the bucket.
func (h *Handler) EventImage(w http.ResponseWriter, r *http.Request) {
	h.streamMedia(w, r, "image", "")
}

// EventVideo streams a video object, forwarding the Range header so
// players can seek. Ranged responses come back 206 with the store's
// Content-Range.
func (h *Handler) EventVideo(w http.ResponseWriter, r *http.Request) {
	h.streamMedia(w, r, "video", r.Header.Get("Range"))
}

// streamMedia rebuilds the object key from the path segments and copies
// the body through without buffering.
func (h *Handler) streamMedia(w http.ResponseWriter, r *http.Request, kind, rangeSpec string) {
	location := chi.URLParam(r, "location")
	camera := chi.URLParam(r, "camera")
	channel := chi.URLParam(r, "channel")
	filename := chi.URLParam(r, "filename")

	_, cam, err := h.queries.Camera(location, camera)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	if !cam.HasChannel(channel) {
		writeError(w, http.StatusNotFound, "unknown channel "+channel)
		return
	}

	key, err := models.MediaKeyFromFilename(camera, channel, filename)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	client, ok := h.clients[location]
	if !ok {
		writeError(w, http.StatusNotFound, "no storage for location "+location)
		return
	}
	stream, err := client.GetObject(r.Context(), key, rangeSpec)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	defer func() { _ = stream.Body.Close() }()

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(stream.ContentLength, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	if stream.Partial() {
		w.Header().Set("Content-Range", stream.ContentRange)
		w.WriteHeader(http.StatusPartialContent)
	}

	n, err := io.Copy(w, stream.Body)
	metrics.MediaBytesServed.WithLabelValues(kind).Add(float64(n))
	if err != nil {
		// Headers are already out; all we can do is log the broken copy.
		logging.Debug().Err(err).Str("key", key).Msg("media stream interrupted")
	}
}
