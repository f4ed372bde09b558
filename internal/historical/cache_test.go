// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package historical

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lsst-ts/rubintv/internal/models"
	"github.com/lsst-ts/rubintv/internal/storage"
	"github.com/lsst-ts/rubintv/internal/storage/storagetest"
	"github.com/lsst-ts/rubintv/internal/websocket"
)

type statusRecorder struct {
	mu     sync.Mutex
	states []bool
}

func (r *statusRecorder) Broadcast(kind, _ string, body any) {
	if kind != websocket.KindHistoricalStatus {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, body.(map[string]bool)["busy"])
}

func histLocations() []models.Location {
	return []models.Location{{
		Name:       "summit",
		Title:      "Summit",
		BucketName: "rubintv-summit",
		Cameras: []models.Camera{{
			Name: "auxtel", Title: "AuxTel", Online: true,
			Channels:       []models.Channel{{Name: "monitor", Title: "Monitor"}},
			PerDayChannels: []models.Channel{{Name: "movie", Title: "Movie"}},
		}},
	}}
}

func setToday(t *testing.T, day time.Time) {
	t.Helper()
	t.Cleanup(models.SetClock(func() time.Time { return day }))
}

func seedStore(store *storagetest.MemoryClient) {
	// Two days in 2024, one in 2025, plus "today" which must be skipped.
	store.Put(models.EventKeyFor("auxtel", "2024-03-01", "monitor", 5, "jpg"), []byte("a"))
	store.Put(models.EventKeyFor("auxtel", "2024-03-01", "monitor", 9, "jpg"), []byte("b"))
	store.Put(models.EventKeyFor("auxtel", "2024-11-20", "monitor", 2, "jpg"), []byte("c"))
	store.Put(models.EventKeyFor("auxtel", "2025-06-15", "monitor", 1, "jpg"), []byte("d"))
	store.Put(models.EventKeyFor("auxtel", "2025-06-15", "movie", models.SeqFinal, "mp4"), []byte("e"))
	store.Put(models.EventKeyFor("auxtel", "2026-08-25", "monitor", 3, "jpg"), []byte("today"))
	store.Put("auxtel/2025-06-15/night_report/coverage/airmass.png", []byte("plot"))
	store.Put("auxtel/2024-03-01/metadata.json", []byte(`{}`))
}

func newTestCache(t *testing.T, store *storagetest.MemoryClient, hub Broadcaster) *Cache {
	t.Helper()
	setToday(t, time.Date(2026, 8, 25, 20, 0, 0, 0, time.UTC))
	c := New(histLocations(), map[string]storage.Client{"summit": store}, hub, time.Minute)
	c.Refresh(context.Background())
	return c
}

func TestRefreshIndexesPriorDays(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-summit")
	seedStore(store)
	c := newTestCache(t, store, nil)

	years, err := c.Years("summit", "auxtel")
	if err != nil {
		t.Fatal(err)
	}
	if len(years) != 2 || years[0] != 2024 || years[1] != 2025 {
		t.Errorf("years = %v, want [2024 2025] with today excluded", years)
	}

	if _, err := c.Years("summit", "nonexistent"); err != nil {
		t.Errorf("unknown camera should yield empty result, got error %v", err)
	}
}

func TestMonthsDescending(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-summit")
	seedStore(store)
	c := newTestCache(t, store, nil)

	months, err := c.Months("summit", "auxtel", 2024)
	if err != nil {
		t.Fatal(err)
	}
	if len(months) != 2 || months[0] != 11 || months[1] != 3 {
		t.Errorf("months = %v, want [11 3]", months)
	}
}

func TestDaysCarryMaxSeq(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-summit")
	seedStore(store)
	c := newTestCache(t, store, nil)

	days, err := c.Days("summit", "auxtel", 2024, 3)
	if err != nil {
		t.Fatal(err)
	}
	if days[1] != 9 {
		t.Errorf("2024-03-01 max seq = %v, want 9", days[1])
	}

	// The final sentinel dominates the day it appears on.
	days, err = c.Days("summit", "auxtel", 2025, 6)
	if err != nil {
		t.Fatal(err)
	}
	if !days[15].IsFinal() {
		t.Errorf("2025-06-15 max seq = %v, want final", days[15])
	}
}

func TestCalendarMatchesDays(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-summit")
	seedStore(store)
	c := newTestCache(t, store, nil)

	cal, err := c.CameraCalendar("summit", "auxtel")
	if err != nil {
		t.Fatal(err)
	}
	for _, year := range []int{2024, 2025} {
		for month, days := range cal[year] {
			want, err := c.Days("summit", "auxtel", year, month)
			if err != nil {
				t.Fatal(err)
			}
			if len(days) != len(want) {
				t.Errorf("%d-%02d: calendar %v != days %v", year, month, days, want)
			}
			for d, seq := range days {
				if want[d] != seq {
					t.Errorf("%d-%02d-%02d: %v != %v", year, month, d, seq, want[d])
				}
			}
		}
	}
}

func TestMostRecentDayExcludesToday(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-summit")
	seedStore(store)
	c := newTestCache(t, store, nil)

	day, err := c.MostRecentDay("summit", "auxtel")
	if err != nil {
		t.Fatal(err)
	}
	if day != "2025-06-15" {
		t.Errorf("most recent day = %q, want 2025-06-15 (today excluded)", day)
	}
}

func TestEventsForDateGrouped(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-summit")
	seedStore(store)
	c := newTestCache(t, store, nil)

	events, err := c.EventsForDate("summit", "auxtel", "2024-03-01")
	if err != nil {
		t.Fatal(err)
	}
	monitor := events["monitor"]
	if len(monitor) != 2 || monitor[0].SeqNum != 9 {
		t.Errorf("monitor events = %+v", monitor)
	}

	empty, err := c.EventsForDate("summit", "auxtel", "1999-01-01")
	if err != nil || len(empty) != 0 {
		t.Errorf("absent date: %v, %v", empty, err)
	}
}

func TestMostRecentEventScansBack(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-summit")
	seedStore(store)
	c := newTestCache(t, store, nil)

	ev, err := c.MostRecentEvent("summit", "auxtel", "monitor")
	if err != nil {
		t.Fatal(err)
	}
	if ev.DayObs != "2025-06-15" || ev.SeqNum != 1 {
		t.Errorf("most recent monitor event = %+v", ev)
	}

	// Per-day channels are scanned too.
	ev, err = c.MostRecentEvent("summit", "auxtel", "movie")
	if err != nil {
		t.Fatal(err)
	}
	if ev.DayObs != "2025-06-15" || !ev.SeqNum.IsFinal() {
		t.Errorf("most recent movie event = %+v", ev)
	}

	ev, err = c.MostRecentEvent("summit", "auxtel", "spectrum")
	if err != nil || ev.Key != "" {
		t.Errorf("unknown channel should yield zero event, got %+v, %v", ev, err)
	}
}

func TestPerDayEventsSplitFromSequenced(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-summit")
	seedStore(store)
	c := newTestCache(t, store, nil)

	events, err := c.EventsForDate("summit", "auxtel", "2025-06-15")
	if err != nil {
		t.Fatal(err)
	}
	if len(events["monitor"]) != 1 || len(events["movie"]) != 0 {
		t.Errorf("sequenced events = %+v, want monitor only", events)
	}

	perDay, err := c.PerDayEventsForDate("summit", "auxtel", "2025-06-15")
	if err != nil {
		t.Fatal(err)
	}
	if len(perDay["movie"]) != 1 || !perDay["movie"][0].SeqNum.IsFinal() {
		t.Errorf("per-day events = %+v, want the final movie", perDay)
	}

	empty, err := c.PerDayEventsForDate("summit", "auxtel", "2024-03-01")
	if err != nil || len(empty) != 0 {
		t.Errorf("date without per-day events: %v, %v", empty, err)
	}
}

func TestNightReportsForDate(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-summit")
	seedStore(store)
	c := newTestCache(t, store, nil)

	records, err := c.NightReportsForDate("summit", "auxtel", "2025-06-15")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Group != "coverage" {
		t.Errorf("night reports = %+v", records)
	}
}

func TestInitialBuildGatesQueriesAndBroadcasts(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-summit")
	seedStore(store)
	rec := &statusRecorder{}
	c := newTestCache(t, store, rec)

	// The initial Refresh broadcasts exactly one busy/idle transition pair.
	rec.mu.Lock()
	if len(rec.states) != 2 || rec.states[0] != true || rec.states[1] != false {
		t.Errorf("busy transitions = %v, want [true false]", rec.states)
	}
	rec.mu.Unlock()

	// While the flag is up, queries fail fast.
	c.busy.Store(true)
	if _, err := c.Years("summit", "auxtel"); !errors.Is(err, ErrBusy) {
		t.Errorf("busy query err = %v, want ErrBusy", err)
	}
	if _, err := c.EventsForDate("summit", "auxtel", "2024-03-01"); !errors.Is(err, ErrBusy) {
		t.Errorf("busy query err = %v, want ErrBusy", err)
	}
	c.busy.Store(false)
}

// gatedListClient passes the first listing through and then blocks until
// released, holding a rebuild mid-flight.
type gatedListClient struct {
	*storagetest.MemoryClient
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedListClient) ListObjects(ctx context.Context, prefix string) ([]storage.Object, error) {
	g.mu.Lock()
	g.calls++
	gate := g.calls > 1
	g.mu.Unlock()
	if gate {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.MemoryClient.ListObjects(ctx, prefix)
}

func TestRolloverRebuildServesPriorSnapshot(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-summit")
	seedStore(store)
	gated := &gatedListClient{
		MemoryClient: store,
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	rec := &statusRecorder{}
	setToday(t, time.Date(2026, 8, 25, 20, 0, 0, 0, time.UTC))
	c := New(histLocations(), map[string]storage.Client{"summit": gated}, rec, time.Minute)
	c.Refresh(context.Background())

	done := make(chan struct{})
	go func() {
		c.Refresh(context.Background())
		close(done)
	}()
	<-gated.entered

	// Mid-rebuild: not busy, and readers see the prior snapshot.
	if c.IsBusy() {
		t.Error("rebuild raised the busy flag")
	}
	day, err := c.MostRecentDay("summit", "auxtel")
	if err != nil {
		t.Fatalf("query during rebuild: %v", err)
	}
	if day != "2025-06-15" {
		t.Errorf("most recent day during rebuild = %q, want prior snapshot's 2025-06-15", day)
	}

	close(gated.release)
	<-done

	// Only the initial build broadcast status transitions.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.states) != 2 {
		t.Errorf("busy transitions = %v, want the initial pair only", rec.states)
	}
}

func TestListingFailureKeepsPreviousSnapshot(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-summit")
	seedStore(store)
	c := newTestCache(t, store, nil)

	store.ListErr = errors.New("endpoint down")
	c.Refresh(context.Background())

	years, err := c.Years("summit", "auxtel")
	if err != nil {
		t.Fatal(err)
	}
	if len(years) == 0 {
		t.Error("failed refresh wiped the previous snapshot")
	}
}

func TestServeRebuildsOnRollover(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-summit")
	seedStore(store)
	now := time.Date(2026, 8, 25, 20, 0, 0, 0, time.UTC)
	var nowMu sync.Mutex
	t.Cleanup(models.SetClock(func() time.Time {
		nowMu.Lock()
		defer nowMu.Unlock()
		return now
	}))

	c := New(histLocations(), map[string]storage.Client{"summit": store}, nil, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	waitFor(t, func() bool {
		d, err := c.MostRecentDay("summit", "auxtel")
		return err == nil && d == "2025-06-15"
	})
	listsAfterBuild := store.ListCalls

	// Same day: the checker must not rebuild.
	time.Sleep(50 * time.Millisecond)
	if store.ListCalls != listsAfterBuild {
		t.Error("refresher rebuilt without a rollover")
	}

	// Roll the observing day forward; yesterday's events join the index.
	nowMu.Lock()
	now = time.Date(2026, 8, 26, 20, 0, 0, 0, time.UTC)
	nowMu.Unlock()

	waitFor(t, func() bool {
		d, err := c.MostRecentDay("summit", "auxtel")
		return err == nil && d == "2026-08-25"
	})

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
