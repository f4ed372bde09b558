// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

// Package models holds the immutable site fixtures (locations, cameras,
// channels) and the record types derived from object-store keys (events,
// night reports). Fixtures are loaded once at startup from a YAML file and
// never mutated afterwards; all lookups return copies or read-only views.
package models

import (
	"strings"
)

// Location is one observatory site served from a single bucket.
type Location struct {
	Name        string   `yaml:"name" json:"name" validate:"required"`
	Title       string   `yaml:"title" json:"title" validate:"required"`
	ProfileName string   `yaml:"profile_name" json:"profile_name"`
	BucketName  string   `yaml:"bucket_name" json:"bucket_name" validate:"required"`
	Cameras     []Camera `yaml:"cameras" json:"cameras" validate:"dive"`

	// CameraGroups drives the page layer's grouping of camera links.
	CameraGroups map[string][]string `yaml:"camera_groups" json:"camera_groups,omitempty"`
}

// Camera returns the named camera on this location.
func (l *Location) Camera(name string) (*Camera, bool) {
	for i := range l.Cameras {
		if l.Cameras[i].Name == name {
			return &l.Cameras[i], true
		}
	}
	return nil, false
}

// Camera is one instrument depositing artifacts under its name prefix.
type Camera struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	Title   string `yaml:"title" json:"title" validate:"required"`
	Online  bool   `yaml:"online" json:"online"`
	LogoURL string `yaml:"logo" json:"logo,omitempty"`

	// Channels are the per-sequence artifact streams (one event per
	// sequence number per channel).
	Channels []Channel `yaml:"channels" json:"channels" validate:"dive"`

	// PerDayChannels hold at most one artifact per day (movies, plots).
	PerDayChannels []Channel `yaml:"per_day_channels" json:"per_day_channels,omitempty" validate:"dive"`

	// NightReportLabel titles the night-report tab when the camera
	// produces night reports.
	NightReportLabel string `yaml:"night_report_label" json:"night_report_label,omitempty"`

	// ImageViewerLink is a URL template with {day_obs} and {seq_num}
	// placeholders, expanded per event.
	ImageViewerLink string `yaml:"image_viewer_link" json:"image_viewer_link,omitempty"`

	// MetadataCols describes extra metadata table columns: name -> tooltip.
	MetadataCols map[string]string `yaml:"metadata_cols" json:"metadata_cols,omitempty"`
}

// Channel returns the named sequence channel.
func (c *Camera) Channel(name string) (*Channel, bool) {
	for i := range c.Channels {
		if c.Channels[i].Name == name {
			return &c.Channels[i], true
		}
	}
	return nil, false
}

// HasChannel reports whether name is a sequence or per-day channel.
func (c *Camera) HasChannel(name string) bool {
	if _, ok := c.Channel(name); ok {
		return true
	}
	for i := range c.PerDayChannels {
		if c.PerDayChannels[i].Name == name {
			return true
		}
	}
	return false
}

// SeqChannelNames returns the names of the sequence channels in fixture order.
func (c *Camera) SeqChannelNames() []string {
	names := make([]string, len(c.Channels))
	for i := range c.Channels {
		names[i] = c.Channels[i].Name
	}
	return names
}

// ExpandImageViewerLink fills the camera's viewer URL template for one
// observation. Empty when the camera carries no template.
func (c *Camera) ExpandImageViewerLink(dayObs string, seqNum SeqNum) string {
	if c.ImageViewerLink == "" {
		return ""
	}
	link := strings.ReplaceAll(c.ImageViewerLink, "{day_obs}", dayObs)
	return strings.ReplaceAll(link, "{seq_num}", seqNum.String())
}

// Channel is one artifact stream within a camera.
type Channel struct {
	Name  string `yaml:"name" json:"name" validate:"required"`
	Title string `yaml:"title" json:"title" validate:"required"`
	// Label overrides Title in the per-event table header; defaults to
	// Title at load time.
	Label  string `yaml:"label" json:"label,omitempty"`
	Colour string `yaml:"colour" json:"colour,omitempty"`
}
