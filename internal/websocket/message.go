// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package websocket

import (
	"fmt"
	"regexp"
	"strings"
)

// Message kinds sent to clients. Clients subscribe to camera, channel,
// nightreport and historicalStatus; metadata messages are delivered to the
// camera subscription for the same target.
const (
	KindCamera           = "camera"
	KindChannel          = "channel"
	KindMetadata         = "metadata"
	KindNightReport      = "nightreport"
	KindHistoricalStatus = "historicalStatus"
)

// Message is one tagged update pushed to subscribers.
type Message struct {
	Kind   string `json:"kind"`
	Target string `json:"target,omitempty"`
	Body   any    `json:"body"`
}

// routingKind maps a message kind onto the subscription kind that
// receives it.
func routingKind(kind string) string {
	if kind == KindMetadata {
		return KindCamera
	}
	return kind
}

// serviceRequest is the frame clients send to manage subscriptions.
type serviceRequest struct {
	ClientID    string `json:"clientID"`
	MessageType string `json:"messageType"`
	Message     string `json:"message"`
}

// unsubscribeMessage clears every subscription the client holds.
const unsubscribeMessage = "unsubscribe"

// subscribeRe validates a subscribe request: the verb, a known kind, then
// a target of word characters, slashes and wildcards.
var subscribeRe = regexp.MustCompile(`^subscribe\s+(camera|channel|nightreport|historicalStatus)\s+([\w/*]+)$`)

// parseSubscription splits a validated subscribe payload into kind and
// target. Malformed payloads return an error; the caller logs and ignores.
func parseSubscription(payload string) (kind, target string, err error) {
	m := subscribeRe.FindStringSubmatch(strings.TrimSpace(payload))
	if m == nil {
		return "", "", fmt.Errorf("malformed subscription request %q", payload)
	}
	return m[1], m[2], nil
}
