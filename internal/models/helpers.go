// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package models

import "sort"

// GroupEventsByChannel splits events into channel-keyed lists, each sorted
// by descending sequence number so the newest artifact leads.
func GroupEventsByChannel(events []Event) map[string][]Event {
	grouped := make(map[string][]Event)
	for _, e := range events {
		grouped[e.ChannelName] = append(grouped[e.ChannelName], e)
	}
	for name := range grouped {
		list := grouped[name]
		sort.Slice(list, func(i, j int) bool { return list[i].SeqNum > list[j].SeqNum })
	}
	return grouped
}

// LatestPerChannel returns the highest-sequence event for each channel.
func LatestPerChannel(events []Event) map[string]Event {
	latest := make(map[string]Event)
	for _, e := range events {
		cur, ok := latest[e.ChannelName]
		if !ok || e.SeqNum > cur.SeqNum {
			latest[e.ChannelName] = e
		}
	}
	return latest
}

// MaxSeqNum returns the highest sequence number among events, and false
// when the slice is empty.
func MaxSeqNum(events []Event) (SeqNum, bool) {
	if len(events) == 0 {
		return 0, false
	}
	maxSeq := events[0].SeqNum
	for _, e := range events[1:] {
		if e.SeqNum > maxSeq {
			maxSeq = e.SeqNum
		}
	}
	return maxSeq, true
}

// FilterChannels keeps only events whose channel is one of names.
func FilterChannels(events []Event, names []string) []Event {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	var out []Event
	for _, e := range events {
		if _, ok := allowed[e.ChannelName]; ok {
			out = append(out, e)
		}
	}
	return out
}

// GroupNightReports splits records into the client payload shape: plot
// records keyed by group. Text (.json) objects are excluded; their decoded
// payloads travel in NightReportPayload.Text.
func GroupNightReports(records []NightReport) map[string][]NightReport {
	grouped := make(map[string][]NightReport)
	for _, r := range records {
		if r.Ext == "json" {
			continue
		}
		grouped[r.Group] = append(grouped[r.Group], r)
	}
	for group := range grouped {
		list := grouped[group]
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}
	return grouped
}
