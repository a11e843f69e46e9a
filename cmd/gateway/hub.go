package main

import (
	"sync"

	"github.com/iceos-ai/iceos/common/logger"
)

// Hub maintains active WebSocket connections keyed by topic. Topics are
// run streams ("run:<run_id>") and draft sessions ("draft:<session_id>").
type Hub struct {
	// Map: topic → []*Client
	connections map[string][]*Client
	mutex       sync.RWMutex

	// Channel for registering clients
	register chan *Client

	// Channel for unregistering clients
	unregister chan *Client

	// Channel for broadcasting messages
	broadcast chan *Message

	log *logger.Logger
}

// Message represents a message to be broadcast to a topic. Exclude
// suppresses echo to the originating client for peer relays.
type Message struct {
	Topic   string
	Data    []byte
	Exclude *Client
}

// NewHub creates a new Hub instance
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		connections: make(map[string][]*Client),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		log:         log,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.log.Info("hub started")

	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastToTopic(message)
		}
	}
}

// registerClient adds a client to the hub
func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.connections[client.topic] = append(h.connections[client.topic], client)
	h.log.Debug("client registered",
		"topic", client.topic, "total_for_topic", len(h.connections[client.topic]))
}

// unregisterClient removes a client from the hub
func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	clients := h.connections[client.topic]
	for i, c := range clients {
		if c == client {
			h.connections[client.topic] = append(clients[:i], clients[i+1:]...)
			close(client.send)

			if len(h.connections[client.topic]) == 0 {
				delete(h.connections, client.topic)
			}

			h.log.Debug("client unregistered",
				"topic", client.topic, "remaining_for_topic", len(h.connections[client.topic]))
			break
		}
	}
}

// broadcastToTopic sends a message to all connections on a topic
func (h *Hub) broadcastToTopic(message *Message) {
	h.mutex.RLock()
	clients := append([]*Client(nil), h.connections[message.Topic]...)
	h.mutex.RUnlock()

	var stalled []*Client
	for _, client := range clients {
		if client == message.Exclude {
			continue
		}
		select {
		case client.send <- message.Data:
			// Message sent successfully
		default:
			stalled = append(stalled, client)
		}
	}

	// unregisterClient owns the single close of send; closing here while
	// the client stays registered would leave a closed channel for the
	// next broadcast.
	for _, client := range stalled {
		h.log.Warn("client send buffer full, dropping connection", "topic", client.topic)
		h.unregisterClient(client)
	}
}

// ConnectionCount returns the total number of active connections
func (h *Hub) ConnectionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	count := 0
	for _, clients := range h.connections {
		count += len(clients)
	}
	return count
}

// TopicCount returns the number of topics with at least one connection
func (h *Hub) TopicCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}
