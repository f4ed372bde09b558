// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

// Package currentpoller watches the current observation day. Every interval
// it lists each online camera's day prefix, diffs the listing against the
// previous poll, and broadcasts only what changed. Polls are idempotent:
// an unchanged bucket produces no messages.
package currentpoller

import (
	"context"
	"sync"
	"time"

	"github.com/lsst-ts/rubintv/internal/logging"
	"github.com/lsst-ts/rubintv/internal/metrics"
	"github.com/lsst-ts/rubintv/internal/models"
	"github.com/lsst-ts/rubintv/internal/storage"
	"github.com/lsst-ts/rubintv/internal/websocket"
)

// Broadcaster is the fan-out surface the poller needs. The websocket hub
// implements it.
type Broadcaster interface {
	Broadcast(kind, target string, body any)
}

// camKey identifies one camera on one location.
type camKey struct {
	location string
	camera   string
}

func (k camKey) target() string { return k.location + "/" + k.camera }

// cameraState is everything remembered about one camera's current day.
type cameraState struct {
	dayObs string

	// objects is the last listing, key -> hash.
	objects map[string]string

	metadataHash string
	metadata     map[string]any

	// channelLatest holds the current event per channel, seq and per-day.
	channelLatest map[string]models.Event

	seqEvents    []models.Event
	perDayEvents []models.Event

	nightReportHashes map[string]string
	nightReport       *models.NightReportPayload
}

func newCameraState(dayObs string) *cameraState {
	return &cameraState{
		dayObs:            dayObs,
		objects:           map[string]string{},
		channelLatest:     map[string]models.Event{},
		nightReportHashes: map[string]string{},
	}
}

// Poller runs the current-day reconciliation loop.
type Poller struct {
	locations []models.Location
	clients   map[string]storage.Client
	hub       Broadcaster
	interval  time.Duration

	mu    sync.RWMutex
	state map[camKey]*cameraState
}

// New creates a poller over the fixtures and their per-location clients.
func New(locations []models.Location, clients map[string]storage.Client, hub Broadcaster, interval time.Duration) *Poller {
	return &Poller{
		locations: locations,
		clients:   clients,
		hub:       hub,
		interval:  interval,
		state:     make(map[camKey]*cameraState),
	}
}

// String names the service for the supervisor.
func (p *Poller) String() string { return "currentpoller" }

// Serve polls until the context is canceled. Implements suture.Service.
func (p *Poller) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", p.interval).Msg("current-day poller started")
	for {
		p.PollOnce(ctx)
		select {
		case <-ctx.Done():
			logging.Info().Msg("current-day poller stopped")
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

// PollOnce sweeps every online camera once. Exported for tests and for the
// startup path, which primes state before the HTTP server comes up.
func (p *Poller) PollOnce(ctx context.Context) {
	start := time.Now()
	today := models.GetCurrentDayObs()

	for li := range p.locations {
		loc := &p.locations[li]
		client, ok := p.clients[loc.Name]
		if !ok {
			continue
		}
		for ci := range loc.Cameras {
			cam := &loc.Cameras[ci]
			if !cam.Online {
				continue
			}
			p.pollCamera(ctx, loc, client, cam, today)
		}
	}
	metrics.PollDuration.Observe(time.Since(start).Seconds())
}

// pollCamera reconciles one camera. A panic in here is contained to the
// iteration: the next tick starts clean.
func (p *Poller) pollCamera(ctx context.Context, loc *models.Location, client storage.Client, cam *models.Camera, today string) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PollErrors.WithLabelValues(loc.Name, cam.Name).Inc()
			logging.Error().
				Str("location", loc.Name).
				Str("camera", cam.Name).
				Interface("panic", r).
				Msg("poll iteration panicked")
		}
	}()

	key := camKey{location: loc.Name, camera: cam.Name}

	objects, err := client.ListObjects(ctx, models.DayPrefix(cam.Name, today))
	if err != nil {
		metrics.PollErrors.WithLabelValues(loc.Name, cam.Name).Inc()
		logging.Warn().
			Err(err).
			Str("location", loc.Name).
			Str("camera", cam.Name).
			Msg("listing failed, keeping previous state")
		return
	}

	listing := make(map[string]string, len(objects))
	for _, obj := range objects {
		listing[obj.Key] = obj.Hash
	}

	// Snapshot the previous hashes. The poller is the only writer, so
	// they are stable until the apply step below.
	var prevObjects, prevNRHashes map[string]string
	var prevMetadataHash string
	p.mu.RLock()
	if st := p.state[key]; st != nil && st.dayObs == today {
		prevObjects = st.objects
		prevMetadataHash = st.metadataHash
		prevNRHashes = st.nightReportHashes
	}
	p.mu.RUnlock()

	if prevObjects != nil && mapsEqual(listing, prevObjects) {
		metrics.PollIterations.WithLabelValues(loc.Name, cam.Name).Inc()
		return
	}

	mdObjs, nrObjs, events := classify(objects)

	// Storage fetches are staged before the write lock is taken; the
	// lock covers only the state swap.
	md, mdHash, mdFailedKey := fetchMetadata(ctx, client, key, mdObjs, prevMetadataHash)
	nr, nrHashes, nrFailed := fetchNightReport(ctx, client, nrObjs, prevNRHashes)

	p.mu.Lock()
	st := p.state[key]
	if st == nil || st.dayObs != today {
		// First observation or day rollover: previous day's state is
		// dropped, everything present counts as new.
		st = newCameraState(today)
		p.state[key] = st
	}

	metadataChanged := md != nil
	if metadataChanged {
		st.metadata = md
		st.metadataHash = mdHash
	}

	channelMsgs, channelsChanged := applyChannels(st, cam, events, key)

	var payload *models.CameraPayload
	if metadataChanged || channelsChanged {
		payload = p.payloadLocked(st)
	}

	if nr != nil {
		st.nightReport = nr
		st.nightReportHashes = nrHashes
	}

	// Failed fetches stay out of the recorded listing so the next poll
	// sees a difference and retries them.
	if mdFailedKey != "" {
		delete(listing, mdFailedKey)
	}
	for _, k := range nrFailed {
		delete(listing, k)
	}
	st.objects = listing
	p.mu.Unlock()

	// Broadcast order is fixed: metadata, channels, camera aggregate,
	// night report. All sends happen after the lock is released.
	if metadataChanged {
		p.hub.Broadcast(websocket.KindMetadata, key.target(), md)
	}
	for _, m := range channelMsgs {
		p.hub.Broadcast(websocket.KindChannel, m.target, m.event)
	}
	if payload != nil {
		p.hub.Broadcast(websocket.KindCamera, key.target(), payload)
	}
	if nr != nil {
		p.hub.Broadcast(websocket.KindNightReport, key.target(), nr.Clone())
	}

	metrics.PollIterations.WithLabelValues(loc.Name, cam.Name).Inc()
}

// classify splits a day listing into metadata, night-report and event
// objects. Unparsable keys are skipped.
func classify(objects []storage.Object) (mdObjs, nrObjs []storage.Object, events []models.Event) {
	for _, obj := range objects {
		switch {
		case models.IsNightReportKey(obj.Key):
			nrObjs = append(nrObjs, obj)
		case models.IsMetadataKey(obj.Key):
			mdObjs = append(mdObjs, obj)
		default:
			ev, err := models.ParseEvent(obj.Key, obj.Hash)
			if err != nil {
				logging.Debug().Str("key", obj.Key).Msg("skipping unrecognised object key")
				continue
			}
			events = append(events, ev)
		}
	}
	return mdObjs, nrObjs, events
}

// fetchMetadata stages the day's metadata table when its hash changed.
// More than one metadata object under a day prefix is a producer error:
// none are processed. A failed fetch reports the key so the poll leaves
// the object unrecorded and retries it next iteration.
func fetchMetadata(ctx context.Context, client storage.Client, key camKey, mdObjs []storage.Object, prevHash string) (md map[string]any, hash, failedKey string) {
	switch len(mdObjs) {
	case 0:
		return nil, "", ""
	case 1:
	default:
		logging.Error().
			Str("camera", key.camera).
			Str("location", key.location).
			Int("count", len(mdObjs)).
			Msg("multiple metadata objects under one day prefix, processing none")
		return nil, "", ""
	}

	obj := mdObjs[0]
	if obj.Hash == prevHash {
		return nil, "", ""
	}

	table, err := client.GetJSON(ctx, obj.Key)
	if err != nil {
		logging.Warn().Err(err).Str("key", obj.Key).Msg("metadata fetch failed, will retry")
		return nil, "", obj.Key
	}
	if table == nil {
		// Deleted between listing and fetch.
		return nil, "", ""
	}
	return table, obj.Hash, ""
}

// channelMsg is a staged per-channel broadcast.
type channelMsg struct {
	target string
	event  models.Event
}

// applyChannels updates the per-channel current events under the state
// lock and stages one message per changed channel. The camera aggregate
// counts as changed when any event differs by key or hash, so an event
// replaced in place is still rebroadcast.
func applyChannels(st *cameraState, cam *models.Camera, events []models.Event, key camKey) ([]channelMsg, bool) {
	latest := models.LatestPerChannel(events)

	var msgs []channelMsg
	stage := func(ch models.Channel) {
		ev, ok := latest[ch.Name]
		if !ok {
			return
		}
		prev, had := st.channelLatest[ch.Name]
		if had && prev.Key == ev.Key && prev.Hash == ev.Hash {
			return
		}
		st.channelLatest[ch.Name] = ev
		msgs = append(msgs, channelMsg{target: key.target() + "/" + ch.Name, event: ev})
	}
	for _, ch := range cam.Channels {
		stage(ch)
	}
	for _, ch := range cam.PerDayChannels {
		stage(ch)
	}

	changed := len(msgs) > 0

	seqEvents := models.FilterChannels(events, cam.SeqChannelNames())
	perDayNames := make([]string, len(cam.PerDayChannels))
	for i := range cam.PerDayChannels {
		perDayNames[i] = cam.PerDayChannels[i].Name
	}
	perDayEvents := models.FilterChannels(events, perDayNames)

	if !eventsEqual(seqEvents, st.seqEvents) || !eventsEqual(perDayEvents, st.perDayEvents) {
		changed = true
	}
	st.seqEvents = seqEvents
	st.perDayEvents = perDayEvents
	return msgs, changed
}

// fetchNightReport stages the aggregate whenever the set of night-report
// objects (or any hash) changed. Text records whose fetch fails are
// dropped from the recorded hashes so the next poll retries them.
func fetchNightReport(ctx context.Context, client storage.Client, nrObjs []storage.Object, prevHashes map[string]string) (*models.NightReportPayload, map[string]string, []string) {
	hashes := make(map[string]string, len(nrObjs))
	for _, obj := range nrObjs {
		hashes[obj.Key] = obj.Hash
	}
	if mapsEqual(hashes, prevHashes) {
		return nil, nil, nil
	}

	payload := &models.NightReportPayload{
		Plots: map[string][]models.NightReport{},
		Text:  map[string]any{},
	}
	var records []models.NightReport
	for _, obj := range nrObjs {
		record, err := models.ParseNightReport(obj.Key, obj.Hash)
		if err != nil {
			logging.Debug().Str("key", obj.Key).Msg("skipping unrecognised night-report key")
			continue
		}
		records = append(records, record)
	}
	payload.Plots = models.GroupNightReports(records)

	var failed []string
	for _, record := range records {
		if record.Ext != "json" {
			continue
		}
		text, err := client.GetJSON(ctx, record.Key)
		if err != nil {
			logging.Warn().Err(err).Str("key", record.Key).Msg("night-report text fetch failed, will retry")
			delete(hashes, record.Key)
			failed = append(failed, record.Key)
			continue
		}
		if text != nil {
			payload.Text[record.Name] = text
		}
	}
	return payload, hashes, failed
}

// payloadLocked builds the camera aggregate. Caller holds p.mu.
func (p *Poller) payloadLocked(st *cameraState) *models.CameraPayload {
	payload := &models.CameraPayload{
		Date:          st.dayObs,
		ChannelEvents: models.GroupEventsByChannel(st.seqEvents),
		Metadata:      st.metadata,
	}
	if len(st.perDayEvents) > 0 {
		payload.PerDay = models.GroupEventsByChannel(st.perDayEvents)
	}
	if !st.nightReport.IsEmpty() {
		payload.NightReport = st.nightReport.Clone()
	}
	return payload
}

// Payload returns the camera aggregate for today, when the poller has one.
func (p *Poller) Payload(location, camera string) (*models.CameraPayload, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.state[camKey{location: location, camera: camera}]
	if !ok || st.dayObs != models.GetCurrentDayObs() {
		return nil, false
	}
	pl := p.payloadLocked(st)
	if pl.IsEmpty() {
		return nil, false
	}
	return pl, true
}

// ChannelEvent returns the current event on one channel.
func (p *Poller) ChannelEvent(location, camera, channel string) (models.Event, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.state[camKey{location: location, camera: camera}]
	if !ok {
		return models.Event{}, false
	}
	ev, ok := st.channelLatest[channel]
	return ev, ok
}

// Metadata returns today's metadata table for a camera.
func (p *Poller) Metadata(location, camera string) (map[string]any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.state[camKey{location: location, camera: camera}]
	if !ok || st.metadata == nil {
		return nil, false
	}
	return st.metadata, true
}

// NightReport returns today's night-report aggregate for a camera.
func (p *Poller) NightReport(location, camera string) (*models.NightReportPayload, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.state[camKey{location: location, camera: camera}]
	if !ok || st.nightReport.IsEmpty() {
		return nil, false
	}
	return st.nightReport.Clone(), true
}

// eventsEqual compares two listings of events by key and hash.
func eventsEqual(a, b []models.Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key || a[i].Hash != b[i].Hash {
			return false
		}
	}
	return true
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
