// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

// Package historical maintains an in-memory index of every prior
// observation day per camera. The index is built from full bucket listings
// at startup and rebuilt once per day rollover. Only the initial build
// reports busy; rollover rebuilds serve the previous snapshot until each
// camera's index is swapped in.
package historical

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lsst-ts/rubintv/internal/logging"
	"github.com/lsst-ts/rubintv/internal/metrics"
	"github.com/lsst-ts/rubintv/internal/models"
	"github.com/lsst-ts/rubintv/internal/storage"
	"github.com/lsst-ts/rubintv/internal/websocket"
)

// ErrBusy is returned by every query while the initial build is running.
var ErrBusy = errors.New("historical data is reloading")

// Broadcaster carries busy-state transitions to subscribers. May be nil.
type Broadcaster interface {
	Broadcast(kind, target string, body any)
}

// Calendar maps year -> month -> day -> highest sequence number seen.
type Calendar map[int]map[int]map[int]models.SeqNum

// cameraHistory is the per-camera index, immutable once built.
type cameraHistory struct {
	// days in ascending DayObs order.
	days []string
	// byDay groups sequenced-channel events per observation day.
	byDay map[string][]models.Event
	// perDayByDay groups per-day-channel events per observation day.
	perDayByDay map[string][]models.Event
	// nightReports groups night-report records per day.
	nightReports map[string][]models.NightReport
	calendar     Calendar
}

// Cache is the historical store across all locations.
type Cache struct {
	locations     []models.Location
	clients       map[string]storage.Client
	checkInterval time.Duration
	hub           Broadcaster

	busy atomic.Bool

	mu sync.RWMutex
	// cameras is keyed "location/camera".
	cameras    map[string]*cameraHistory
	lastReload string
}

// New creates an empty cache; Serve (or Refresh) populates it.
func New(locations []models.Location, clients map[string]storage.Client, hub Broadcaster, checkInterval time.Duration) *Cache {
	return &Cache{
		locations:     locations,
		clients:       clients,
		checkInterval: checkInterval,
		hub:           hub,
		cameras:       make(map[string]*cameraHistory),
	}
}

// String names the service for the supervisor.
func (c *Cache) String() string { return "historical" }

// Serve builds the snapshot, then rebuilds on every day rollover.
// Implements suture.Service.
func (c *Cache) Serve(ctx context.Context) error {
	c.mu.RLock()
	fresh := c.lastReload == ""
	c.mu.RUnlock()
	if fresh {
		c.Refresh(ctx)
	}

	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("historical refresher stopped")
			return ctx.Err()
		case <-ticker.C:
			today := models.GetCurrentDayObs()
			c.mu.RLock()
			last := c.lastReload
			c.mu.RUnlock()
			if today > last {
				logging.Info().
					Str("day_obs", today).
					Str("last_reload", last).
					Msg("day rollover, rebuilding historical snapshot")
				c.Refresh(ctx)
			}
		}
	}
}

// IsBusy reports whether the initial build is running.
func (c *Cache) IsBusy() bool { return c.busy.Load() }

// Refresh rebuilds the snapshot for every location. Cameras whose listing
// fails keep their previous snapshot. Busy gates queries only until the
// first build completes; rollover rebuilds swap each camera's index in
// atomically while readers keep seeing the prior one.
func (c *Cache) Refresh(ctx context.Context) {
	c.mu.RLock()
	initial := c.lastReload == ""
	c.mu.RUnlock()
	if initial {
		c.setBusy(true)
		defer c.setBusy(false)
	}

	start := time.Now()
	today := models.GetCurrentDayObs()
	failed := false

	for li := range c.locations {
		loc := &c.locations[li]
		client, ok := c.clients[loc.Name]
		if !ok {
			continue
		}
		for ci := range loc.Cameras {
			cam := &loc.Cameras[ci]
			if !cam.Online {
				continue
			}
			history, err := buildCameraHistory(ctx, client, cam, today)
			if err != nil {
				failed = true
				logging.Warn().
					Err(err).
					Str("location", loc.Name).
					Str("camera", cam.Name).
					Msg("historical build failed, keeping previous snapshot")
				continue
			}
			c.mu.Lock()
			c.cameras[loc.Name+"/"+cam.Name] = history
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	c.lastReload = today
	c.mu.Unlock()

	outcome := "ok"
	if failed {
		outcome = "error"
	}
	metrics.HistoricalRefreshes.WithLabelValues(outcome).Inc()
	metrics.HistoricalRefreshDuration.Observe(time.Since(start).Seconds())
	logging.Info().
		Str("day_obs", today).
		Dur("took", time.Since(start)).
		Str("outcome", outcome).
		Msg("historical snapshot built")
}

func (c *Cache) setBusy(busy bool) {
	c.busy.Store(busy)
	if c.hub != nil {
		c.hub.Broadcast(websocket.KindHistoricalStatus, "", map[string]bool{"busy": busy})
	}
}

// buildCameraHistory lists the camera's whole prefix and indexes every
// prior day. Today's objects belong to the current poller and are skipped.
// Events on the camera's per-day channels are indexed separately from the
// sequenced channels.
func buildCameraHistory(ctx context.Context, client storage.Client, cam *models.Camera, today string) (*cameraHistory, error) {
	objects, err := client.ListObjects(ctx, cam.Name+"/")
	if err != nil {
		return nil, err
	}

	perDay := make(map[string]bool, len(cam.PerDayChannels))
	for _, ch := range cam.PerDayChannels {
		perDay[ch.Name] = true
	}

	h := &cameraHistory{
		byDay:        map[string][]models.Event{},
		perDayByDay:  map[string][]models.Event{},
		nightReports: map[string][]models.NightReport{},
		calendar:     Calendar{},
	}
	for _, obj := range objects {
		switch {
		case models.IsNightReportKey(obj.Key):
			record, err := models.ParseNightReport(obj.Key, obj.Hash)
			if err != nil || record.DayObs >= today {
				continue
			}
			h.nightReports[record.DayObs] = append(h.nightReports[record.DayObs], record)
		case models.IsMetadataKey(obj.Key):
			// Metadata tables are fetched on demand per date.
		default:
			ev, err := models.ParseEvent(obj.Key, obj.Hash)
			if err != nil || ev.DayObs >= today {
				continue
			}
			if perDay[ev.ChannelName] {
				h.perDayByDay[ev.DayObs] = append(h.perDayByDay[ev.DayObs], ev)
			} else {
				h.byDay[ev.DayObs] = append(h.byDay[ev.DayObs], ev)
			}
		}
	}

	seen := map[string]struct{}{}
	for day := range h.byDay {
		seen[day] = struct{}{}
	}
	for day := range h.perDayByDay {
		seen[day] = struct{}{}
	}
	for day := range seen {
		sortBySeq(h.byDay[day])
		sortBySeq(h.perDayByDay[day])
		h.days = append(h.days, day)

		year, month, dom, ok := splitDay(day)
		if !ok {
			continue
		}
		all := append(append([]models.Event(nil), h.byDay[day]...), h.perDayByDay[day]...)
		maxSeq, _ := models.MaxSeqNum(all)
		if h.calendar[year] == nil {
			h.calendar[year] = map[int]map[int]models.SeqNum{}
		}
		if h.calendar[year][month] == nil {
			h.calendar[year][month] = map[int]models.SeqNum{}
		}
		h.calendar[year][month][dom] = maxSeq
	}
	sort.Strings(h.days)
	return h, nil
}

func sortBySeq(events []models.Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].SeqNum < events[j].SeqNum })
}

func splitDay(day string) (year, month, dom int, ok bool) {
	parts := strings.SplitN(day, "-", 3)
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	var err error
	if year, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, false
	}
	if month, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, false
	}
	if dom, err = strconv.Atoi(parts[2]); err != nil {
		return 0, 0, 0, false
	}
	return year, month, dom, true
}

// history fetches one camera's index. Queries fail fast only while the
// initial build runs; during a rollover rebuild they see the prior index.
func (c *Cache) history(location, camera string) (*cameraHistory, error) {
	if c.IsBusy() {
		return nil, ErrBusy
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.cameras[location+"/"+camera]
	if !ok {
		return nil, nil
	}
	return h, nil
}

// Years returns the years with data, ascending.
func (c *Cache) Years(location, camera string) ([]int, error) {
	h, err := c.history(location, camera)
	if err != nil || h == nil {
		return nil, err
	}
	years := make([]int, 0, len(h.calendar))
	for y := range h.calendar {
		years = append(years, y)
	}
	sort.Ints(years)
	return years, nil
}

// Months returns the months with data for a year, descending (newest
// first, matching the calendar display).
func (c *Cache) Months(location, camera string, year int) ([]int, error) {
	h, err := c.history(location, camera)
	if err != nil || h == nil {
		return nil, err
	}
	months := make([]int, 0, len(h.calendar[year]))
	for m := range h.calendar[year] {
		months = append(months, m)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(months)))
	return months, nil
}

// Days returns day-of-month -> highest sequence for one month.
func (c *Cache) Days(location, camera string, year, month int) (map[int]models.SeqNum, error) {
	h, err := c.history(location, camera)
	if err != nil || h == nil {
		return nil, err
	}
	days := make(map[int]models.SeqNum, len(h.calendar[year][month]))
	for d, seq := range h.calendar[year][month] {
		days[d] = seq
	}
	return days, nil
}

// CameraCalendar returns the full year/month/day index.
func (c *Cache) CameraCalendar(location, camera string) (Calendar, error) {
	h, err := c.history(location, camera)
	if err != nil || h == nil {
		return nil, err
	}
	out := make(Calendar, len(h.calendar))
	for y, months := range h.calendar {
		out[y] = make(map[int]map[int]models.SeqNum, len(months))
		for m, days := range months {
			out[y][m] = make(map[int]models.SeqNum, len(days))
			for d, seq := range days {
				out[y][m][d] = seq
			}
		}
	}
	return out, nil
}

// MostRecentDay returns the newest prior day with events.
func (c *Cache) MostRecentDay(location, camera string) (string, error) {
	h, err := c.history(location, camera)
	if err != nil || h == nil || len(h.days) == 0 {
		return "", err
	}
	return h.days[len(h.days)-1], nil
}

// EventsForDate returns one day's sequenced-channel events grouped by
// channel.
func (c *Cache) EventsForDate(location, camera, date string) (map[string][]models.Event, error) {
	h, err := c.history(location, camera)
	if err != nil || h == nil {
		return nil, err
	}
	return models.GroupEventsByChannel(h.byDay[date]), nil
}

// PerDayEventsForDate returns one day's per-day-channel events grouped by
// channel.
func (c *Cache) PerDayEventsForDate(location, camera, date string) (map[string][]models.Event, error) {
	h, err := c.history(location, camera)
	if err != nil || h == nil {
		return nil, err
	}
	return models.GroupEventsByChannel(h.perDayByDay[date]), nil
}

// MostRecentEvent returns the newest event on one channel, scanning back
// from the most recent day.
func (c *Cache) MostRecentEvent(location, camera, channel string) (models.Event, error) {
	h, err := c.history(location, camera)
	if err != nil || h == nil {
		return models.Event{}, err
	}
	for i := len(h.days) - 1; i >= 0; i-- {
		day := h.days[i]
		all := append(append([]models.Event(nil), h.byDay[day]...), h.perDayByDay[day]...)
		latest := models.LatestPerChannel(all)
		if ev, ok := latest[channel]; ok {
			return ev, nil
		}
	}
	return models.Event{}, nil
}

// NightReportsForDate returns one day's night-report records.
func (c *Cache) NightReportsForDate(location, camera, date string) ([]models.NightReport, error) {
	h, err := c.history(location, camera)
	if err != nil || h == nil {
		return nil, err
	}
	return append([]models.NightReport(nil), h.nightReports[date]...), nil
}
