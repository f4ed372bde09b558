// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package websocket

import (
	"strings"

	"github.com/lsst-ts/rubintv/internal/models"
)

// FixtureValidator checks subscription targets against the loaded site
// fixtures: camera targets must name a real, online location/camera pair,
// channel targets a real channel on it. An offline camera never
// broadcasts, so the subscription would sit dead.
type FixtureValidator struct {
	locations []models.Location
}

// NewFixtureValidator wraps the fixtures slice.
func NewFixtureValidator(locations []models.Location) *FixtureValidator {
	return &FixtureValidator{locations: locations}
}

// ValidTarget implements TargetValidator.
func (v *FixtureValidator) ValidTarget(kind, target string) bool {
	if kind == KindHistoricalStatus {
		// Clients typically subscribe with a wildcard target.
		return target != ""
	}

	parts := strings.Split(target, "/")
	switch kind {
	case KindCamera, KindNightReport:
		if len(parts) != 2 {
			return false
		}
		_, ok := v.camera(parts[0], parts[1])
		return ok
	case KindChannel:
		if len(parts) != 3 {
			return false
		}
		cam, ok := v.camera(parts[0], parts[1])
		return ok && cam.HasChannel(parts[2])
	default:
		return false
	}
}

func (v *FixtureValidator) camera(location, camera string) (*models.Camera, bool) {
	loc, ok := models.FindLocation(v.locations, location)
	if !ok {
		return nil, false
	}
	cam, ok := loc.Camera(camera)
	if !ok || !cam.Online {
		return nil, false
	}
	return cam, true
}
