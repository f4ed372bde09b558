// RubinTV - Live display service for observatory camera artifacts
// SPDX-License-Identifier: GPL-3.0-or-later
// https://github.com/lsst-ts/rubintv

package websocket

import (
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lsst-ts/rubintv/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024

	// sendQueueSize bounds each client's outgoing buffer. A client that
	// falls this far behind is dropped rather than slowing the pollers.
	sendQueueSize = 64
)

// clientSeq orders clients deterministically for delivery and shutdown.
var clientSeq atomic.Uint64

// Client mediates between one websocket connection and the hub.
type Client struct {
	id   string
	seq  uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// NewClient wraps an upgraded connection. The client is not registered
// until Start.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		seq:  clientSeq.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan Message, sendQueueSize),
	}
}

// ID returns the client's identifier, as sent in the handshake frame.
func (c *Client) ID() string { return c.id }

// Start sends the client-ID handshake frame and launches the pumps.
func (c *Client) Start() {
	c.hub.register <- c

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
		if err := c.conn.WriteMessage(websocket.TextMessage, []byte(c.id)); err != nil {
			logging.Debug().Err(err).Msg("client handshake write failed")
		}
	}

	go c.writePump()
	go c.readPump()
}

// enqueue offers a message to the client without blocking. Reports false
// when the queue is full.
func (c *Client) enqueue(msg Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// readPump consumes subscription requests until the connection closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Str("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		c.handleFrame(raw)
	}
}

// handleFrame parses one inbound frame. Anything malformed is logged and
// ignored; a misbehaving client cannot crash the hub.
func (c *Client) handleFrame(raw []byte) {
	var req serviceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		logging.Debug().Str("client_id", c.id).Msg("ignoring non-JSON client frame")
		return
	}
	if req.MessageType != "service" {
		return
	}
	if req.ClientID != c.id {
		logging.Debug().
			Str("client_id", c.id).
			Str("claimed_id", req.ClientID).
			Msg("ignoring frame with mismatched client id")
		return
	}

	if strings.TrimSpace(req.Message) == unsubscribeMessage {
		c.hub.subscribe <- subRequest{client: c, unsubscribe: true}
		return
	}
	kind, target, err := parseSubscription(req.Message)
	if err != nil {
		logging.Debug().Err(err).Str("client_id", c.id).Msg("ignoring bad subscription request")
		return
	}
	c.hub.subscribe <- subRequest{client: c, kind: kind, target: target}
}

// writePump drains the send queue onto the connection and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				logging.Debug().Err(err).Str("client_id", c.id).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
