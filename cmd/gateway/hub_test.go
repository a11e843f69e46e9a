package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iceos-ai/iceos/common/logger"
)

func testClient(hub *Hub, topic string, buffer int) *Client {
	return &Client{hub: hub, topic: topic, send: make(chan []byte, buffer)}
}

func TestHub_BroadcastDropsStalledClient(t *testing.T) {
	hub := NewHub(logger.Discard())

	stalled := testClient(hub, "run:r1", 1)
	healthy := testClient(hub, "run:r1", 8)
	hub.registerClient(stalled)
	hub.registerClient(healthy)

	stalled.send <- []byte("backlog")

	hub.broadcastToTopic(&Message{Topic: "run:r1", Data: []byte("one")})
	hub.broadcastToTopic(&Message{Topic: "run:r1", Data: []byte("two")})

	assert.Equal(t, 1, hub.ConnectionCount(), "stalled client is unregistered")
	assert.Len(t, healthy.send, 2, "remaining clients keep receiving")

	// The stalled client's channel is closed exactly once, after the
	// buffered frame drains.
	frame, ok := <-stalled.send
	require.True(t, ok)
	assert.Equal(t, []byte("backlog"), frame)
	_, ok = <-stalled.send
	assert.False(t, ok)
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	hub := NewHub(logger.Discard())

	sender := testClient(hub, "draft:s1", 4)
	peer := testClient(hub, "draft:s1", 4)
	hub.registerClient(sender)
	hub.registerClient(peer)

	hub.broadcastToTopic(&Message{Topic: "draft:s1", Data: []byte("patch"), Exclude: sender})

	assert.Len(t, peer.send, 1)
	assert.Empty(t, sender.send)
}

func TestHub_UnregisterUnknownClientIsNoop(t *testing.T) {
	hub := NewHub(logger.Discard())

	known := testClient(hub, "run:r1", 1)
	hub.registerClient(known)
	hub.unregisterClient(known)
	hub.unregisterClient(known)

	assert.Zero(t, hub.ConnectionCount())
	assert.Zero(t, hub.TopicCount())
}
