package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iceos-ai/iceos/common/bootstrap"
	"github.com/iceos-ai/iceos/core/blueprint"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The bearer subprotocol is the authentication boundary
		return true
	},
}

// Envelope wraps an outbound payload with its message id and clock
func Envelope(messageType string, data interface{}) map[string]interface{} {
	return map[string]interface{}{
		"mid":  uuid.New().String(),
		"ts":   time.Now().UnixNano(),
		"type": messageType,
		"data": data,
	}
}

// Server handles WebSocket upgrades and inbound message dispatch
type Server struct {
	hub        *Hub
	components *bootstrap.Components
	validator  *MessageValidator
}

// NewServer creates a new Server instance
func NewServer(hub *Hub, components *bootstrap.Components, validator *MessageValidator) *Server {
	return &Server{
		hub:        hub,
		components: components,
		validator:  validator,
	}
}

// HandleWebSocket upgrades the connection and joins it to its topic.
// URL: /ws/mcp/?run_id=... or /ws/mcp/?session_id=...
// Authentication: Sec-WebSocket-Protocol carries the bearer token.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Sec-WebSocket-Protocol")
	expected := s.components.Config.Runtime.WSBearer
	if expected != "" && subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		http.Error(w, "invalid bearer token", http.StatusUnauthorized)
		return
	}

	topic := ""
	switch {
	case r.URL.Query().Get("run_id") != "":
		topic = "run:" + r.URL.Query().Get("run_id")
	case r.URL.Query().Get("session_id") != "":
		topic = "draft:" + r.URL.Query().Get("session_id")
	default:
		http.Error(w, "run_id or session_id query parameter required", http.StatusBadRequest)
		return
	}

	// Echo the negotiated subprotocol back so browsers accept the upgrade
	var responseHeader http.Header
	if token != "" {
		responseHeader = http.Header{"Sec-WebSocket-Protocol": {token}}
	}

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		s.components.Logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, topic, s.handleInbound)
	s.hub.register <- client

	s.components.Logger.Info("websocket connected", "topic", topic, "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump(s.validator)
}

// handleInbound processes a schema-validated client message: patch_node
// mutates the draft, everything valid relays to the topic's peers.
func (s *Server) handleInbound(c *Client, msg Inbound) {
	if msg.Type == "patch_node" {
		s.applyNodePatch(c, msg.Data)
	}

	frame, err := json.Marshal(Envelope(msg.Type, json.RawMessage(msg.Data)))
	if err != nil {
		return
	}
	s.hub.broadcast <- &Message{Topic: c.topic, Data: frame, Exclude: c}
}

// applyNodePatch writes a patch_node field into the session draft's
// node metadata. Draft topics only; run topics have nothing to patch.
func (s *Server) applyNodePatch(c *Client, payload []byte) {
	store := s.components.Drafts
	sessionID, ok := strings.CutPrefix(c.topic, "draft:")
	if store == nil || !ok {
		return
	}

	var patch struct {
		NodeID string      `json:"node_id"`
		Field  string      `json:"field"`
		Value  interface{} `json:"value"`
	}
	if err := json.Unmarshal(payload, &patch); err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	current, err := store.Get(ctx, sessionID)
	if err != nil {
		s.components.Logger.Warn("patch_node for unknown draft", "session_id", sessionID)
		return
	}

	_, err = store.Mutate(ctx, sessionID, current.VersionLock, func(d *blueprint.Draft) error {
		if d.Meta == nil {
			d.Meta = map[string]interface{}{}
		}
		nodes, _ := d.Meta["nodes"].(map[string]interface{})
		if nodes == nil {
			nodes = map[string]interface{}{}
			d.Meta["nodes"] = nodes
		}
		fields, _ := nodes[patch.NodeID].(map[string]interface{})
		if fields == nil {
			fields = map[string]interface{}{}
			nodes[patch.NodeID] = fields
		}
		fields[patch.Field] = patch.Value
		return nil
	})
	if err != nil {
		s.components.Logger.Warn("patch_node failed",
			"session_id", sessionID, "node_id", patch.NodeID, "error", err)
	}
}
