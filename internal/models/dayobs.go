// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package models

import "time"

// dayObsOffset shifts the observing day boundary to local noon at the
// observatory: the day rolls over at 12:00 UTC, not midnight.
const dayObsOffset = -12 * time.Hour

// clock is swapped in tests.
var clock = time.Now

// SetClock replaces the time source and returns a restore func. Test hook.
func SetClock(now func() time.Time) (restore func()) {
	prev := clock
	clock = now
	return func() { clock = prev }
}

// GetCurrentDayObs returns today's observation day as YYYY-MM-DD.
func GetCurrentDayObs() string {
	return clock().UTC().Add(dayObsOffset).Format(DateLayout)
}
