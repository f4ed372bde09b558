// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package models

import (
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// SeqFinal is the ordering value assigned to the literal "final" sequence
// token. It sorts above every real sequence number a camera produces.
const SeqFinal SeqNum = 99999

// SeqNum is an event sequence number within an observation day. The wire
// form is either an integer or the string "final".
type SeqNum int

// IsFinal reports whether the sequence is the end-of-day sentinel.
func (s SeqNum) IsFinal() bool { return s == SeqFinal }

// String renders the sequence as it appears in object keys, unpadded.
func (s SeqNum) String() string {
	if s.IsFinal() {
		return "final"
	}
	return strconv.Itoa(int(s))
}

// Padded renders the sequence as the six-digit key path segment.
func (s SeqNum) Padded() string {
	if s.IsFinal() {
		return "final"
	}
	return fmt.Sprintf("%06d", int(s))
}

// MarshalJSON emits "final" for the sentinel and a bare number otherwise.
func (s SeqNum) MarshalJSON() ([]byte, error) {
	if s.IsFinal() {
		return []byte(`"final"`), nil
	}
	return []byte(strconv.Itoa(int(s))), nil
}

// UnmarshalJSON accepts both the numeric and the "final" wire forms.
func (s *SeqNum) UnmarshalJSON(data []byte) error {
	if string(data) == `"final"` {
		*s = SeqFinal
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("invalid seq_num %s: %w", data, err)
	}
	*s = SeqNum(n)
	return nil
}

// ParseSeqNum converts a key path segment into a sequence number.
func ParseSeqNum(s string) (SeqNum, error) {
	if s == "final" {
		return SeqFinal, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid sequence segment %q", s)
	}
	return SeqNum(n), nil
}

// Event is one camera artifact, derived entirely from its object key plus
// the store's content hash. URL is filled with a presigned link only when
// an event is handed to a client.
type Event struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	CameraName  string `json:"camera_name"`
	ChannelName string `json:"channel_name"`
	DayObs      string `json:"day_obs"`
	SeqNum      SeqNum `json:"seq_num"`
	Filename    string `json:"filename"`
	Ext         string `json:"ext"`
	URL         string `json:"url,omitempty"`
}

// NightReport is one night-report artifact (a plot image or a text JSON
// payload) grouped under the camera's night_report prefix.
type NightReport struct {
	Key     string `json:"key"`
	Hash    string `json:"hash"`
	Camera  string `json:"camera"`
	DayObs  string `json:"day_obs"`
	Group   string `json:"group"`
	Name    string `json:"name"`
	Ext     string `json:"ext"`
	URL     string `json:"url,omitempty"`
}

// NightReportPayload is the aggregate handed to clients: plot records keyed
// by group, and the decoded contents of the text (JSON) objects keyed by
// object name.
type NightReportPayload struct {
	Plots map[string][]NightReport `json:"plots,omitempty"`
	Text  map[string]any           `json:"text,omitempty"`
}

// IsEmpty reports whether the payload carries no artifacts at all.
func (p *NightReportPayload) IsEmpty() bool {
	return p == nil || (len(p.Plots) == 0 && len(p.Text) == 0)
}

// Clone returns a deep-enough copy for handing outside the poller lock.
func (p *NightReportPayload) Clone() *NightReportPayload {
	if p == nil {
		return nil
	}
	out := &NightReportPayload{
		Plots: make(map[string][]NightReport, len(p.Plots)),
		Text:  make(map[string]any, len(p.Text)),
	}
	for group, records := range p.Plots {
		out.Plots[group] = append([]NightReport(nil), records...)
	}
	for name, payload := range p.Text {
		out.Text[name] = payload
	}
	return out
}

// DecodeMetadata decodes a metadata.json payload into its generic form:
// sequence-number string -> column -> value.
func DecodeMetadata(raw []byte) (map[string]any, error) {
	var md map[string]any
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return md, nil
}
