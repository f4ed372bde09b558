// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

// Package query is the read facade the API and the WebSocket hub share.
// It resolves names against the fixtures, consults the current-day poller
// first and falls through to the historical cache, and attaches presigned
// URLs when an event leaves the process.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lsst-ts/rubintv/internal/historical"
	"github.com/lsst-ts/rubintv/internal/models"
	"github.com/lsst-ts/rubintv/internal/storage"
	"github.com/lsst-ts/rubintv/internal/websocket"
)

// ErrNotFound marks unknown locations, cameras, channels and events.
var ErrNotFound = errors.New("not found")

// ErrBusy is re-exported so callers map one sentinel.
var ErrBusy = historical.ErrBusy

// CurrentProvider is the poller's read surface.
type CurrentProvider interface {
	Payload(location, camera string) (*models.CameraPayload, bool)
	ChannelEvent(location, camera, channel string) (models.Event, bool)
	NightReport(location, camera string) (*models.NightReportPayload, bool)
}

// HistoryProvider is the historical cache's read surface.
type HistoryProvider interface {
	IsBusy() bool
	MostRecentDay(location, camera string) (string, error)
	MostRecentEvent(location, camera, channel string) (models.Event, error)
	EventsForDate(location, camera, date string) (map[string][]models.Event, error)
	PerDayEventsForDate(location, camera, date string) (map[string][]models.Event, error)
	NightReportsForDate(location, camera, date string) ([]models.NightReport, error)
	CameraCalendar(location, camera string) (historical.Calendar, error)
}

// Facade answers read queries from the cached state.
type Facade struct {
	locations  []models.Location
	clients    map[string]storage.Client
	poller     CurrentProvider
	historical HistoryProvider
}

// New wires the facade over the shared components.
func New(locations []models.Location, clients map[string]storage.Client, poller CurrentProvider, hist HistoryProvider) *Facade {
	return &Facade{
		locations:  locations,
		clients:    clients,
		poller:     poller,
		historical: hist,
	}
}

// Locations returns the fixtures.
func (f *Facade) Locations() []models.Location { return f.locations }

// Location resolves one location by name.
func (f *Facade) Location(name string) (*models.Location, error) {
	loc, ok := models.FindLocation(f.locations, name)
	if !ok {
		return nil, fmt.Errorf("%w: location %q", ErrNotFound, name)
	}
	return loc, nil
}

// Camera resolves a location/camera pair.
func (f *Facade) Camera(location, camera string) (*models.Location, *models.Camera, error) {
	loc, err := f.Location(location)
	if err != nil {
		return nil, nil, err
	}
	cam, ok := loc.Camera(camera)
	if !ok {
		return nil, nil, fmt.Errorf("%w: camera %q on %q", ErrNotFound, camera, location)
	}
	return loc, cam, nil
}

// Latest returns the camera's current-day aggregate; when today is empty
// it falls through to the most recent historical day. Offline cameras and
// cameras with no data at all serve an empty payload for today.
func (f *Facade) Latest(location, camera string) (*models.CameraPayload, error) {
	_, cam, err := f.Camera(location, camera)
	if err != nil {
		return nil, err
	}
	today := models.GetCurrentDayObs()
	if !cam.Online {
		return models.EmptyCameraPayload(today), nil
	}

	if payload, ok := f.poller.Payload(location, camera); ok {
		return payload, nil
	}

	day, err := f.historical.MostRecentDay(location, camera)
	if err != nil {
		return nil, err
	}
	if day == "" {
		return models.EmptyCameraPayload(today), nil
	}
	events, err := f.historical.EventsForDate(location, camera, day)
	if err != nil {
		return nil, err
	}
	perDay, err := f.historical.PerDayEventsForDate(location, camera, day)
	if err != nil {
		return nil, err
	}
	payload := &models.CameraPayload{Date: day, ChannelEvents: events}
	if len(perDay) > 0 {
		payload.PerDay = perDay
	}
	return payload, nil
}

// ForDate returns a specific prior day's aggregate, with the metadata
// table fetched live from the bucket.
func (f *Facade) ForDate(ctx context.Context, location, camera, date string) (*models.CameraPayload, error) {
	_, cam, err := f.Camera(location, camera)
	if err != nil {
		return nil, err
	}
	if !models.IsValidDate(date) {
		return nil, fmt.Errorf("%w: date %q", ErrNotFound, date)
	}

	events, err := f.historical.EventsForDate(location, camera, date)
	if err != nil {
		return nil, err
	}
	perDay, err := f.historical.PerDayEventsForDate(location, camera, date)
	if err != nil {
		return nil, err
	}
	payload := &models.CameraPayload{Date: date, ChannelEvents: events}
	if len(perDay) > 0 {
		payload.PerDay = perDay
	}

	if client, ok := f.clients[location]; ok {
		// Absent tables are (nil, nil); an error here is a storage
		// failure the caller must see.
		md, err := client.GetJSON(ctx, models.DayPrefix(cam.Name, date)+"/metadata.json")
		if err != nil {
			return nil, err
		}
		if md != nil {
			payload.Metadata = md
		}
	}

	records, err := f.historical.NightReportsForDate(location, camera, date)
	if err != nil {
		return nil, err
	}
	if len(records) > 0 {
		payload.NightReport = &models.NightReportPayload{
			Plots: models.GroupNightReports(records),
		}
	}
	return payload, nil
}

// CurrentChannelEvent returns the channel's current event with a fresh
// presigned URL, falling through to the newest historical event.
func (f *Facade) CurrentChannelEvent(ctx context.Context, location, camera, channel string) (*models.Event, error) {
	_, cam, err := f.Camera(location, camera)
	if err != nil {
		return nil, err
	}
	if !cam.HasChannel(channel) {
		return nil, fmt.Errorf("%w: channel %q on %s/%s", ErrNotFound, channel, location, camera)
	}

	ev, ok := f.poller.ChannelEvent(location, camera, channel)
	if !ok {
		ev, err = f.historical.MostRecentEvent(location, camera, channel)
		if err != nil {
			return nil, err
		}
		if ev.Key == "" {
			return nil, fmt.Errorf("%w: no event on %s/%s/%s", ErrNotFound, location, camera, channel)
		}
	}
	return f.presign(ctx, location, ev)
}

// EventForKey rebuilds an event from its object key and presigns it.
func (f *Facade) EventForKey(ctx context.Context, location, key string) (*models.Event, error) {
	if _, err := f.Location(location); err != nil {
		return nil, err
	}
	ev, err := models.ParseEvent(key, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return f.presign(ctx, location, ev)
}

// Calendar returns the camera's historical calendar.
func (f *Facade) Calendar(location, camera string) (historical.Calendar, error) {
	if _, _, err := f.Camera(location, camera); err != nil {
		return nil, err
	}
	return f.historical.CameraCalendar(location, camera)
}

// NightReport returns today's aggregate from the poller, or a prior
// day's plot records from the historical cache.
func (f *Facade) NightReport(location, camera, date string) (*models.NightReportPayload, error) {
	if _, _, err := f.Camera(location, camera); err != nil {
		return nil, err
	}
	if date == "" || date == models.GetCurrentDayObs() {
		payload, ok := f.poller.NightReport(location, camera)
		if !ok {
			return &models.NightReportPayload{}, nil
		}
		return payload, nil
	}
	records, err := f.historical.NightReportsForDate(location, camera, date)
	if err != nil {
		return nil, err
	}
	return &models.NightReportPayload{Plots: models.GroupNightReports(records)}, nil
}

// presign attaches a URL and viewer link before the event leaves the
// process.
func (f *Facade) presign(ctx context.Context, location string, ev models.Event) (*models.Event, error) {
	if client, ok := f.clients[location]; ok {
		url, err := client.PresignURL(ctx, ev.Key)
		if err != nil {
			return nil, fmt.Errorf("presigning %s: %w", ev.Key, err)
		}
		ev.URL = url
	}
	return &ev, nil
}

// Snapshot implements websocket.SnapshotProvider: a new subscriber gets
// the current state of whatever it subscribed to.
func (f *Facade) Snapshot(kind, target string) (any, bool) {
	switch kind {
	case websocket.KindCamera:
		location, camera, ok := splitTarget2(target)
		if !ok {
			return nil, false
		}
		payload, ok := f.poller.Payload(location, camera)
		if !ok {
			return nil, false
		}
		return payload, true

	case websocket.KindChannel:
		parts := strings.Split(target, "/")
		if len(parts) != 3 {
			return nil, false
		}
		ev, ok := f.poller.ChannelEvent(parts[0], parts[1], parts[2])
		if !ok {
			return nil, false
		}
		return ev, true

	case websocket.KindNightReport:
		location, camera, ok := splitTarget2(target)
		if !ok {
			return nil, false
		}
		payload, ok := f.poller.NightReport(location, camera)
		if !ok {
			return nil, false
		}
		return payload, true

	case websocket.KindHistoricalStatus:
		return map[string]bool{"busy": f.historical.IsBusy()}, true

	default:
		return nil, false
	}
}

func splitTarget2(target string) (a, b string, ok bool) {
	parts := strings.Split(target, "/")
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
