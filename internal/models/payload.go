// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package models

// CameraPayload is the aggregate view of one camera on one observation
// day, as served over the API and pushed to camera subscribers.
type CameraPayload struct {
	Date          string              `json:"date"`
	ChannelEvents map[string][]Event  `json:"channel_events"`
	PerDay        map[string][]Event  `json:"per_day,omitempty"`
	Metadata      map[string]any      `json:"metadata,omitempty"`
	NightReport   *NightReportPayload `json:"night_report,omitempty"`
}

// EmptyCameraPayload is what an offline or eventless camera serves.
func EmptyCameraPayload(date string) *CameraPayload {
	return &CameraPayload{Date: date, ChannelEvents: map[string][]Event{}}
}

// IsEmpty reports whether the payload carries no data beyond its date.
func (p *CameraPayload) IsEmpty() bool {
	return p == nil ||
		(len(p.ChannelEvents) == 0 && len(p.PerDay) == 0 &&
			len(p.Metadata) == 0 && p.NightReport.IsEmpty())
}
