package main

import (
	"encoding/json"
	"testing"
	"time"
)

func clientCount(h *WSHub) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// TestBroadcastDeliversEnvelope tests that a broadcast reaches a registered
// client as a typed envelope.
func TestBroadcastDeliversEnvelope(t *testing.T) {
	hub := NewWSHub()

	client := &WSClient{id: "ui-1", send: make(chan []byte, 4)}
	hub.register <- client
	waitFor(t, func() bool { return clientCount(hub) == 1 }, "Client never registered")

	hub.Broadcast(EventReplayStarted, map[string]interface{}{"pending": 3})

	select {
	case raw := <-client.send:
		var envelope WSEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatalf("Failed to decode envelope: %v", err)
		}
		if envelope.Type != EventReplayStarted {
			t.Errorf("Expected %s, got %s", EventReplayStarted, envelope.Type)
		}
		if envelope.Data["pending"] != float64(3) {
			t.Errorf("Expected pending count in data, got %v", envelope.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("No message delivered")
	}
}

// TestBroadcastDropsStalledClient tests that a client with a full send buffer
// is disconnected by the broadcast loop while healthy clients keep receiving.
func TestBroadcastDropsStalledClient(t *testing.T) {
	hub := NewWSHub()

	stalled := &WSClient{id: "stalled", send: make(chan []byte)}
	healthy := &WSClient{id: "healthy", send: make(chan []byte, 4)}
	hub.register <- stalled
	hub.register <- healthy
	waitFor(t, func() bool { return clientCount(hub) == 2 }, "Clients never registered")

	hub.Broadcast(EventQueueItemFailed, map[string]interface{}{"item_id": "abc"})

	waitFor(t, func() bool { return clientCount(hub) == 1 }, "Stalled client was not dropped")

	select {
	case <-healthy.send:
	case <-time.After(2 * time.Second):
		t.Fatal("Healthy client did not receive the broadcast")
	}
}
