// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package models

import "testing"

func mkEvent(channel string, seq SeqNum) Event {
	return Event{
		Key:         EventKeyFor("auxtel", "2026-08-25", channel, seq, "jpg"),
		CameraName:  "auxtel",
		ChannelName: channel,
		DayObs:      "2026-08-25",
		SeqNum:      seq,
	}
}

func TestGroupEventsByChannel(t *testing.T) {
	events := []Event{
		mkEvent("monitor", 3),
		mkEvent("monitor", 12),
		mkEvent("monitor", 7),
		mkEvent("spec", 1),
	}

	grouped := GroupEventsByChannel(events)
	if len(grouped) != 2 {
		t.Fatalf("got %d channels, want 2", len(grouped))
	}
	monitor := grouped["monitor"]
	if len(monitor) != 3 || monitor[0].SeqNum != 12 || monitor[2].SeqNum != 3 {
		t.Errorf("monitor not sorted descending: %+v", monitor)
	}
}

func TestLatestPerChannel(t *testing.T) {
	events := []Event{
		mkEvent("monitor", 3),
		mkEvent("monitor", 12),
		mkEvent("movie", SeqFinal),
		mkEvent("movie", 5),
	}

	latest := LatestPerChannel(events)
	if latest["monitor"].SeqNum != 12 {
		t.Errorf("monitor latest = %v, want 12", latest["monitor"].SeqNum)
	}
	if !latest["movie"].SeqNum.IsFinal() {
		t.Errorf("movie latest = %v, want final", latest["movie"].SeqNum)
	}
}

func TestMaxSeqNum(t *testing.T) {
	if _, ok := MaxSeqNum(nil); ok {
		t.Error("empty slice should report no max")
	}
	max, ok := MaxSeqNum([]Event{mkEvent("a", 2), mkEvent("b", 9), mkEvent("c", 4)})
	if !ok || max != 9 {
		t.Errorf("MaxSeqNum = %v/%v, want 9/true", max, ok)
	}
}

func TestFilterChannels(t *testing.T) {
	events := []Event{mkEvent("monitor", 1), mkEvent("spec", 2), mkEvent("movie", 3)}
	out := FilterChannels(events, []string{"monitor", "movie"})
	if len(out) != 2 {
		t.Fatalf("got %d events, want 2", len(out))
	}
	for _, e := range out {
		if e.ChannelName == "spec" {
			t.Error("filtered channel leaked through")
		}
	}
}

func TestGroupNightReports(t *testing.T) {
	records := []NightReport{
		{Name: "zenith", Group: "coverage", Ext: "png"},
		{Name: "airmass", Group: "coverage", Ext: "png"},
		{Name: "quicklook", Group: "summary", Ext: "json"},
		{Name: "seeing", Group: "conditions", Ext: "jpg"},
	}

	grouped := GroupNightReports(records)
	if _, ok := grouped["summary"]; ok {
		t.Error("json text objects must not appear among plots")
	}
	coverage := grouped["coverage"]
	if len(coverage) != 2 || coverage[0].Name != "airmass" {
		t.Errorf("coverage group wrong: %+v", coverage)
	}
	if len(grouped["conditions"]) != 1 {
		t.Errorf("conditions group wrong: %+v", grouped["conditions"])
	}
}
