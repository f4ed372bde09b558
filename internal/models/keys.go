// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidKey is returned for object keys that do not match any of the
// recognised layouts. Such objects are skipped, never fatal.
var ErrInvalidKey = errors.New("unrecognised object key")

// DateLayout is the day_obs wire format.
const DateLayout = "2006-01-02"

// metadataSuffix names the single per-day metadata table object.
const metadataSuffix = "metadata.json"

// nightReportSegment is the path segment reserved for night-report artifacts.
const nightReportSegment = "night_report"

var (
	// {camera}/{YYYY-MM-DD}/{channel}/{seq}/{filename}.{ext}
	eventKeyRe = regexp.MustCompile(
		`^(\w+)/(\d{4}-\d{2}-\d{2})/([\w-]+)/(\d{6}|final)/([\w.-]+)\.(\w+)$`)

	// {camera}/{YYYY-MM-DD}/night_report/{group}/{filename}.{ext}
	nightReportKeyRe = regexp.MustCompile(
		`^(\w+)/(\d{4}-\d{2}-\d{2})/night_report/([\w-]+)/([\w.-]+)\.(\w+)$`)

	dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	seqSegmentRe = regexp.MustCompile(`^(\d{6}|final)$`)
)

// IsValidDate reports whether s is a well-formed day_obs string.
func IsValidDate(s string) bool { return dateRe.MatchString(s) }

// DayPrefix builds the listing prefix for one camera and observation day.
func DayPrefix(cameraName, dayObs string) string {
	return cameraName + "/" + dayObs
}

// IsMetadataKey reports whether the key names a per-day metadata table.
func IsMetadataKey(key string) bool {
	return strings.HasSuffix(key, metadataSuffix)
}

// IsNightReportKey reports whether the key sits under a night_report prefix.
func IsNightReportKey(key string) bool {
	return strings.Contains(key, "/"+nightReportSegment+"/")
}

// ParseEvent builds an Event from a channel-artifact key and content hash.
// Returns ErrInvalidKey for keys that do not match the event layout.
func ParseEvent(key, hash string) (Event, error) {
	m := eventKeyRe.FindStringSubmatch(key)
	if m == nil {
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	seq, err := ParseSeqNum(m[4])
	if err != nil {
		return Event{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return Event{
		Key:         key,
		Hash:        hash,
		CameraName:  m[1],
		ChannelName: m[3],
		DayObs:      m[2],
		SeqNum:      seq,
		Filename:    m[5] + "." + m[6],
		Ext:         m[6],
	}, nil
}

// BuildEventKey is the inverse of ParseEvent: it reconstructs the canonical
// object key from the event's fields.
func BuildEventKey(e Event) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s",
		e.CameraName, e.DayObs, e.ChannelName, e.SeqNum.Padded(), e.Filename)
}

// EventKeyFor assembles the canonical key from its parts, including the
// conventional {camera}_{channel}_{date}_{seq}.{ext} filename.
func EventKeyFor(camera, dayObs, channel string, seq SeqNum, ext string) string {
	filename := fmt.Sprintf("%s_%s_%s_%s.%s", camera, channel, dayObs, seq.Padded(), ext)
	return fmt.Sprintf("%s/%s/%s/%s/%s", camera, dayObs, channel, seq.Padded(), filename)
}

// ParseNightReport builds a NightReport from a night-report key and hash.
func ParseNightReport(key, hash string) (NightReport, error) {
	m := nightReportKeyRe.FindStringSubmatch(key)
	if m == nil {
		return NightReport{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return NightReport{
		Key:    key,
		Hash:   hash,
		Camera: m[1],
		DayObs: m[2],
		Group:  m[3],
		Name:   m[4],
		Ext:    m[5],
	}, nil
}

// MediaKeyFromFilename reconstructs the object key a media-proxy request
// refers to. Filenames follow {camera}_{channel}_{date}_{seq}.{ext}; the
// channel name itself may contain underscores, so the camera and channel
// passed on the URL path anchor the split.
func MediaKeyFromFilename(camera, channel, filename string) (string, error) {
	prefix := camera + "_" + channel + "_"
	if !strings.HasPrefix(filename, prefix) {
		return "", fmt.Errorf("%w: filename %q does not match %s/%s",
			ErrInvalidKey, filename, camera, channel)
	}
	rest := strings.TrimPrefix(filename, prefix)
	dot := strings.LastIndex(rest, ".")
	if dot < 0 {
		return "", fmt.Errorf("%w: filename %q has no extension", ErrInvalidKey, filename)
	}
	stem := rest[:dot]
	// stem is {date}_{seq}
	under := strings.LastIndex(stem, "_")
	if under < 0 {
		return "", fmt.Errorf("%w: filename %q", ErrInvalidKey, filename)
	}
	date, seqStr := stem[:under], stem[under+1:]
	if !IsValidDate(date) {
		return "", fmt.Errorf("%w: bad date in filename %q", ErrInvalidKey, filename)
	}
	if !seqSegmentRe.MatchString(seqStr) {
		return "", fmt.Errorf("%w: bad sequence in filename %q", ErrInvalidKey, filename)
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s", camera, date, channel, seqStr, filename), nil
}
