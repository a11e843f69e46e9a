package main

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 30 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Maximum inbound frame size (patch/telemetry/cursor payloads are small)
	maxMessageSize = 4096
)

// Inbound is the envelope every client frame must carry
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client represents a WebSocket connection on one topic
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	topic string
	send  chan []byte

	// onMessage receives validated inbound messages
	onMessage func(c *Client, msg Inbound)
}

// NewClient creates a new Client instance
func NewClient(hub *Hub, conn *websocket.Conn, topic string, onMessage func(*Client, Inbound)) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		topic:     topic,
		send:      make(chan []byte, 512),
		onMessage: onMessage,
	}
}

// readPump pumps messages from the WebSocket connection into the
// server's inbound handler after envelope decoding.
func (c *Client) readPump(validator *MessageValidator) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", "topic", c.topic, "error", err)
			}
			break
		}

		var msg Inbound
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.reject("malformed envelope")
			continue
		}
		if err := validator.Validate(msg.Type, msg.Data); err != nil {
			c.reject(err.Error())
			continue
		}

		c.onMessage(c, msg)
	}
}

// reject sends a validation error frame back to the client
func (c *Client) reject(reason string) {
	frame, err := json.Marshal(Envelope("error", map[string]interface{}{
		"reason": reason,
	}))
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Send each message as a separate WebSocket frame so
			// clients can parse each JSON object individually.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(c.send)
			for i := 0; i < n; i++ {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
