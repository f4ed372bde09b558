// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

// Package websocket fans poller and historical updates out to subscribed
// clients. The hub keeps a subscription table keyed by (kind, target);
// delivery is exact-match, best-effort, and never blocks a producer: a
// client whose send queue is full is dropped.
package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/lsst-ts/rubintv/internal/logging"
	"github.com/lsst-ts/rubintv/internal/metrics"
)

// SnapshotProvider supplies the current payload for a subscription so a
// new subscriber does not wait for the next change. Implemented by the
// query facade.
type SnapshotProvider interface {
	Snapshot(kind, target string) (any, bool)
}

// TargetValidator checks a subscription target against the fixtures.
type TargetValidator interface {
	ValidTarget(kind, target string) bool
}

// subKey identifies one subscription bucket.
type subKey struct {
	kind   string
	target string
}

type subRequest struct {
	client *Client
	kind   string
	target string
	// unsubscribe clears every subscription the client holds.
	unsubscribe bool
}

// Hub routes messages to subscribed clients.
type Hub struct {
	snapshots SnapshotProvider
	validator TargetValidator

	register   chan *Client
	unregister chan *Client
	broadcast  chan Message
	subscribe  chan subRequest

	mu sync.RWMutex
	// clients maps each client to its subscription keys for cleanup.
	clients map[*Client]map[subKey]struct{}
	// subs is the delivery table.
	subs map[subKey]map[*Client]struct{}
}

// NewHub creates a hub. Either dependency may be nil in tests.
func NewHub(snapshots SnapshotProvider, validator TargetValidator) *Hub {
	return &Hub{
		snapshots:  snapshots,
		validator:  validator,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Message, 256),
		subscribe:  make(chan subRequest, 64),
		clients:    make(map[*Client]map[subKey]struct{}),
		subs:       make(map[subKey]map[*Client]struct{}),
	}
}

// SetSnapshotProvider wires the snapshot source after construction. The
// provider depends on components that themselves broadcast through the
// hub, so it arrives late. Must be called before RunWithContext.
func (h *Hub) SetSnapshotProvider(snapshots SnapshotProvider) {
	h.snapshots = snapshots
}

// Broadcast enqueues a message for fan-out. Never blocks; when the hub's
// queue is full the message is dropped and counted.
func (h *Hub) Broadcast(kind, target string, body any) {
	metrics.BroadcastsSent.WithLabelValues(kind).Inc()
	select {
	case h.broadcast <- Message{Kind: kind, Target: target, Body: body}:
	default:
		logging.Warn().
			Str("kind", kind).
			Str("target", target).
			Msg("hub queue full, dropping broadcast")
	}
}

// RunWithContext runs the hub loop until the context is canceled. Designed
// for suture supervision; on cancellation every client is closed and
// ctx.Err() is returned.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Shutdown and lifecycle events take priority over broadcasts so
		// the subscription table is consistent before delivery.
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.register:
			h.addClient(client)
			continue
		case client := <-h.unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case req := <-h.subscribe:
			h.addSubscription(req)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = make(map[subKey]struct{})
	total := len(h.clients)
	h.mu.Unlock()

	metrics.ConnectedClients.Set(float64(total))
	logging.Info().
		Str("client_id", client.id).
		Int("total_clients", total).
		Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	keys, ok := h.clients[client]
	if ok {
		for key := range keys {
			if bucket := h.subs[key]; bucket != nil {
				delete(bucket, client)
				if len(bucket) == 0 {
					delete(h.subs, key)
				}
			}
		}
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		metrics.ConnectedClients.Set(float64(total))
		logging.Info().
			Str("client_id", client.id).
			Int("total_clients", total).
			Msg("websocket client disconnected")
	}
}

// clearSubscriptions removes every subscription the client holds. The
// client stays connected and may subscribe again.
func (h *Hub) clearSubscriptions(client *Client) {
	h.mu.Lock()
	keys, ok := h.clients[client]
	if ok {
		for key := range keys {
			if bucket := h.subs[key]; bucket != nil {
				delete(bucket, client)
				if len(bucket) == 0 {
					delete(h.subs, key)
				}
			}
			delete(keys, key)
		}
	}
	h.mu.Unlock()
}

// addSubscription validates the request, records it, and pushes the
// current snapshot so the subscriber starts in sync.
func (h *Hub) addSubscription(req subRequest) {
	if req.unsubscribe {
		h.clearSubscriptions(req.client)
		return
	}
	if h.validator != nil && !h.validator.ValidTarget(req.kind, req.target) {
		logging.Debug().
			Str("kind", req.kind).
			Str("target", req.target).
			Msg("rejected subscription for unknown target")
		return
	}

	key := subKey{kind: req.kind, target: req.target}
	h.mu.Lock()
	keys, ok := h.clients[req.client]
	if !ok {
		// Client disconnected before the request was processed.
		h.mu.Unlock()
		return
	}
	keys[key] = struct{}{}
	if h.subs[key] == nil {
		h.subs[key] = make(map[*Client]struct{})
	}
	h.subs[key][req.client] = struct{}{}
	h.mu.Unlock()

	if h.snapshots != nil {
		// Subscribers always get an immediate frame; the body is null
		// when nothing is cached yet.
		body, _ := h.snapshots.Snapshot(req.kind, req.target)
		req.client.enqueue(Message{Kind: req.kind, Target: req.target, Body: body})
	}
}

// deliver fans one message out to its subscription bucket. historicalStatus
// reaches every historicalStatus subscriber regardless of target.
func (h *Hub) deliver(msg Message) {
	kind := routingKind(msg.Kind)

	h.mu.RLock()
	var targets []*Client
	if kind == KindHistoricalStatus {
		for key, bucket := range h.subs {
			if key.kind != KindHistoricalStatus {
				continue
			}
			for client := range bucket {
				targets = append(targets, client)
			}
		}
	} else {
		for client := range h.subs[subKey{kind: kind, target: msg.Target}] {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	// Stable delivery order keeps tests reproducible.
	sort.Slice(targets, func(i, j int) bool { return targets[i].seq < targets[j].seq })

	var dropped []*Client
	for _, client := range targets {
		if !client.enqueue(msg) {
			dropped = append(dropped, client)
		}
	}
	for _, client := range dropped {
		metrics.DroppedClients.Inc()
		logging.Warn().
			Str("client_id", client.id).
			Msg("dropping slow websocket client")
		h.removeClient(client)
	}
}

func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].seq < clients[j].seq })
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.subs = make(map[subKey]map[*Client]struct{})
	h.mu.Unlock()

	metrics.ConnectedClients.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", ctx.Err().Error()).
		Int("clients_closed", len(clients)).
		Msg("websocket hub stopped")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients subscribed to one key.
func (h *Hub) SubscriberCount(kind, target string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[subKey{kind: kind, target: target}])
}
