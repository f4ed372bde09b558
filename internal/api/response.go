// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package api

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/lsst-ts/rubintv/internal/logging"
	"github.com/lsst-ts/rubintv/internal/models"
	"github.com/lsst-ts/rubintv/internal/query"
	"github.com/lsst-ts/rubintv/internal/storage"
)

// errorBody is the JSON shape of every failure response.
type errorBody struct {
	Error string `json:"error"`
}

// busyBody is served with 503 while the historical cache is reloading.
// The page layer retries rather than showing an error.
type busyBody struct {
	Busy  bool   `json:"busy"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeQueryError maps facade and storage errors onto status codes:
// unknown names, bad keys and absent objects are 404, a reloading
// historical cache is 503, everything else is 500.
func writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, query.ErrBusy):
		writeJSON(w, http.StatusServiceUnavailable, busyBody{
			Busy:  true,
			Error: err.Error(),
		})
	case errors.Is(err, query.ErrNotFound),
		errors.Is(err, models.ErrInvalidKey),
		errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logging.Error().Err(err).Msg("query failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
