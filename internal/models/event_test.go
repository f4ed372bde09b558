// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package models

import (
	"testing"

	json "github.com/goccy/go-json"
)

func TestSeqNumJSON(t *testing.T) {
	tests := []struct {
		seq  SeqNum
		wire string
	}{
		{0, `0`},
		{12, `12`},
		{99998, `99998`},
		{SeqFinal, `"final"`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.seq)
		if err != nil {
			t.Fatalf("Marshal(%v): %v", tt.seq, err)
		}
		if string(data) != tt.wire {
			t.Errorf("Marshal(%v) = %s, want %s", tt.seq, data, tt.wire)
		}

		var back SeqNum
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", data, err)
		}
		if back != tt.seq {
			t.Errorf("round trip %v -> %v", tt.seq, back)
		}
	}
}

func TestSeqNumOrdering(t *testing.T) {
	if !(SeqFinal > 99998) {
		t.Error("final must sort above the largest real sequence")
	}
	if SeqFinal.String() != "final" || SeqFinal.Padded() != "final" {
		t.Error("final must render as the literal token")
	}
	if SeqNum(7).Padded() != "000007" {
		t.Errorf("Padded(7) = %q", SeqNum(7).Padded())
	}
}

func TestEventJSONRoundTrip(t *testing.T) {
	ev := Event{
		Key:         "auxtel/2026-08-25/monitor/000012/auxtel_monitor_2026-08-25_000012.jpg",
		Hash:        "etag123",
		CameraName:  "auxtel",
		ChannelName: "monitor",
		DayObs:      "2026-08-25",
		SeqNum:      12,
		Filename:    "auxtel_monitor_2026-08-25_000012.jpg",
		Ext:         "jpg",
		URL:         "https://example.org/presigned",
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Event
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != ev {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, ev)
	}
}

func TestNightReportPayloadClone(t *testing.T) {
	p := &NightReportPayload{
		Plots: map[string][]NightReport{
			"coverage": {{Name: "airmass", Group: "coverage"}},
		},
		Text: map[string]any{"quicklook": map[string]any{"exposures": 42.0}},
	}

	c := p.Clone()
	c.Plots["coverage"][0].Name = "mutated"
	c.Plots["extra"] = nil

	if p.Plots["coverage"][0].Name != "airmass" {
		t.Error("clone shares plot slice backing array")
	}
	if _, ok := p.Plots["extra"]; ok {
		t.Error("clone shares plots map")
	}

	var nilPayload *NightReportPayload
	if !nilPayload.IsEmpty() {
		t.Error("nil payload should be empty")
	}
	if nilPayload.Clone() != nil {
		t.Error("clone of nil should be nil")
	}
}

func TestDecodeMetadata(t *testing.T) {
	raw := []byte(`{"12": {"Exposure time": 30, "Filter": "SDSSr"}}`)
	md, err := DecodeMetadata(raw)
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	row, ok := md["12"].(map[string]any)
	if !ok {
		t.Fatalf("row 12 missing or wrong type: %#v", md["12"])
	}
	if row["Filter"] != "SDSSr" {
		t.Errorf("Filter = %v", row["Filter"])
	}

	if _, err := DecodeMetadata([]byte(`{broken`)); err == nil {
		t.Error("expected error for malformed metadata")
	}
}
