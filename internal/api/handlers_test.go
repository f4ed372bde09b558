// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"

	"github.com/lsst-ts/rubintv/internal/config"
	"github.com/lsst-ts/rubintv/internal/currentpoller"
	"github.com/lsst-ts/rubintv/internal/historical"
	"github.com/lsst-ts/rubintv/internal/models"
	"github.com/lsst-ts/rubintv/internal/query"
	"github.com/lsst-ts/rubintv/internal/storage"
	"github.com/lsst-ts/rubintv/internal/storage/storagetest"
	"github.com/lsst-ts/rubintv/internal/websocket"
)

const today = "2026-08-25"

func apiLocations() []models.Location {
	return []models.Location{{
		Name:       "slac",
		Title:      "SLAC",
		BucketName: "rubintv-slac",
		Cameras: []models.Camera{
			{
				Name: "ts8", Title: "TS8", Online: true,
				Channels: []models.Channel{
					{Name: "monitor", Title: "Monitor"},
					{Name: "movie", Title: "Movie"},
				},
			},
			{Name: "lsstcam", Title: "LSSTCam", Online: false},
		},
	}}
}

func serverConfig() config.ServerConfig {
	return config.ServerConfig{
		PathPrefix:      "/rubintv",
		RateLimitReqs:   0,
		RateLimitWindow: time.Minute,
		CORSOrigins:     []string{"*"},
	}
}

// newTestServer assembles the whole read path over a memory store: one
// poll, one historical build, a running hub and the router on top.
func newTestServer(t *testing.T, store *storagetest.MemoryClient) *httptest.Server {
	t.Helper()
	t.Cleanup(models.SetClock(func() time.Time {
		return time.Date(2026, 8, 25, 20, 0, 0, 0, time.UTC)
	}))

	locations := apiLocations()
	clients := map[string]storage.Client{"slac": store}
	hub := websocket.NewHub(nil, websocket.NewFixtureValidator(locations))
	poller := currentpoller.New(locations, clients, hub, time.Second)
	hist := historical.New(locations, clients, hub, time.Minute)
	poller.PollOnce(context.Background())
	hist.Refresh(context.Background())
	queries := query.New(locations, clients, poller, hist)
	hub.SetSnapshotProvider(queries)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.RunWithContext(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	srv := httptest.NewServer(NewRouter(serverConfig(), NewHandler(queries, clients, hub)))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestLocationsEndpoint(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-slac")
	srv := newTestServer(t, store)

	var locations []models.Location
	if status := getJSON(t, srv.URL+"/rubintv/api/", &locations); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if len(locations) != 1 || locations[0].Name != "slac" {
		t.Errorf("locations = %+v", locations)
	}

	if status := getJSON(t, srv.URL+"/rubintv/api/mars", nil); status != http.StatusNotFound {
		t.Errorf("unknown location status = %d", status)
	}
}

func TestCurrentEndpoint(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-slac")
	store.Put(models.EventKeyFor("ts8", today, "monitor", 12, "jpg"), []byte("img"))
	srv := newTestServer(t, store)

	var payload models.CameraPayload
	if status := getJSON(t, srv.URL+"/rubintv/api/slac/ts8/current", &payload); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if payload.Date != today {
		t.Errorf("date = %q", payload.Date)
	}
	if payload.ChannelEvents["monitor"][0].SeqNum != 12 {
		t.Errorf("monitor events = %+v", payload.ChannelEvents["monitor"])
	}
}

func TestCurrentOfflineCamera(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-slac")
	srv := newTestServer(t, store)

	var payload models.CameraPayload
	if status := getJSON(t, srv.URL+"/rubintv/api/slac/lsstcam/current", &payload); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if payload.Date != today || len(payload.ChannelEvents) != 0 {
		t.Errorf("offline payload = %+v", payload)
	}
}

func TestForDateEndpoint(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-slac")
	store.Put(models.EventKeyFor("ts8", "2024-01-15", "monitor", 8, "jpg"), []byte("img"))
	srv := newTestServer(t, store)

	var payload models.CameraPayload
	if status := getJSON(t, srv.URL+"/rubintv/api/slac/ts8/date/2024-01-15", &payload); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if payload.Date != "2024-01-15" || payload.ChannelEvents["monitor"][0].SeqNum != 8 {
		t.Errorf("payload = %+v", payload)
	}

	if status := getJSON(t, srv.URL+"/rubintv/api/slac/ts8/date/not-a-date", nil); status != http.StatusNotFound {
		t.Errorf("bad date status = %d", status)
	}
}

func TestCalendarEndpoint(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-slac")
	store.Put(models.EventKeyFor("ts8", "2024-01-15", "monitor", 8, "jpg"), []byte("img"))
	srv := newTestServer(t, store)

	var cal map[string]map[string]map[string]any
	if status := getJSON(t, srv.URL+"/rubintv/api/slac/ts8/calendar", &cal); status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if _, ok := cal["2024"]["1"]["15"]; !ok {
		t.Errorf("calendar = %+v", cal)
	}
}

func TestBusyReturns503(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-slac")
	t.Cleanup(models.SetClock(func() time.Time {
		return time.Date(2026, 8, 25, 20, 0, 0, 0, time.UTC)
	}))

	locations := apiLocations()
	clients := map[string]storage.Client{"slac": store}
	poller := currentpoller.New(locations, clients, nil, time.Second)
	queries := query.New(locations, clients, poller, reloadingHistory{})
	hub := websocket.NewHub(nil, nil)

	srv := httptest.NewServer(NewRouter(serverConfig(), NewHandler(queries, clients, hub)))
	t.Cleanup(srv.Close)

	var body struct {
		Busy bool `json:"busy"`
	}
	if status := getJSON(t, srv.URL+"/rubintv/api/slac/ts8/calendar", &body); status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", status)
	}
	if !body.Busy {
		t.Error("busy flag not set in 503 body")
	}
}

// reloadingHistory fails every query with ErrBusy.
type reloadingHistory struct{}

func (reloadingHistory) IsBusy() bool { return true }
func (reloadingHistory) MostRecentDay(string, string) (string, error) {
	return "", historical.ErrBusy
}
func (reloadingHistory) MostRecentEvent(string, string, string) (models.Event, error) {
	return models.Event{}, historical.ErrBusy
}
func (reloadingHistory) EventsForDate(string, string, string) (map[string][]models.Event, error) {
	return nil, historical.ErrBusy
}
func (reloadingHistory) PerDayEventsForDate(string, string, string) (map[string][]models.Event, error) {
	return nil, historical.ErrBusy
}
func (reloadingHistory) NightReportsForDate(string, string, string) ([]models.NightReport, error) {
	return nil, historical.ErrBusy
}
func (reloadingHistory) CameraCalendar(string, string) (historical.Calendar, error) {
	return nil, historical.ErrBusy
}

func TestEventImageStreams(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-slac")
	img := []byte("jpeg-bytes")
	store.Put(models.EventKeyFor("ts8", today, "monitor", 12, "jpg"), img)
	srv := newTestServer(t, store)

	resp, err := http.Get(srv.URL + "/rubintv/event_image/slac/ts8/monitor/ts8_monitor_2026-08-25_000012.jpg")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content-type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(img) {
		t.Errorf("body = %q", body)
	}
}

func TestEventVideoRange(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-slac")
	video := make([]byte, 4096)
	for i := range video {
		video[i] = byte(i % 251)
	}
	store.Put("ts8/2024-01-15/movie/000001/ts8_movie_2024-01-15_000001.mp4", video)
	srv := newTestServer(t, store)

	req, _ := http.NewRequest(http.MethodGet,
		srv.URL+"/rubintv/event_video/slac/ts8/movie/ts8_movie_2024-01-15_000001.mp4", nil)
	req.Header.Set("Range", "bytes=0-1023")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "video/mp4" {
		t.Errorf("content-type = %q", ct)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "bytes 0-1023/4096" {
		t.Errorf("content-range = %q", cr)
	}
	body, _ := io.ReadAll(resp.Body)
	if len(body) != 1024 || string(body) != string(video[:1024]) {
		t.Errorf("body length = %d", len(body))
	}
}

func TestEventVideoWithoutRange(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-slac")
	store.Put("ts8/2024-01-15/movie/000001/ts8_movie_2024-01-15_000001.mp4", []byte("full"))
	srv := newTestServer(t, store)

	resp, err := http.Get(srv.URL + "/rubintv/event_video/slac/ts8/movie/ts8_movie_2024-01-15_000001.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "full" {
		t.Errorf("body = %q", body)
	}
}

func TestMediaRejectsForeignFilename(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-slac")
	srv := newTestServer(t, store)

	// A filename for another camera/channel must not escape the path.
	resp, err := http.Get(srv.URL + "/rubintv/event_image/slac/ts8/monitor/other_cam_2024-01-15_000001.jpg")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketHandshakeAndSnapshot(t *testing.T) {
	store := storagetest.NewMemoryClient("rubintv-slac")
	store.Put(models.EventKeyFor("ts8", today, "monitor", 12, "jpg"), []byte("img"))
	srv := newTestServer(t, store)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/rubintv/ws/"
	conn, resp, err := gorilla.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	clientID := string(raw)
	if _, err := uuid.Parse(clientID); err != nil {
		t.Fatalf("handshake frame %q is not a uuid", clientID)
	}

	sub := map[string]string{
		"clientID":    clientID,
		"messageType": "service",
		"message":     "subscribe channel slac/ts8/monitor",
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}

	var msg websocket.Message
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Kind != websocket.KindChannel || msg.Target != "slac/ts8/monitor" {
		t.Fatalf("snapshot message = %+v", msg)
	}
}
