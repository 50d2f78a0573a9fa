// Package connectivity provides unit tests for the online/offline signal.
package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestStaticSignal tests the fixed signal.
func TestStaticSignal(t *testing.T) {
	if !Static(true).Online() {
		t.Error("Expected Static(true) to be online")
	}
	if Static(false).Online() {
		t.Error("Expected Static(false) to be offline")
	}
}

// TestMonitorStartsOnline tests the initial assumption.
func TestMonitorStartsOnline(t *testing.T) {
	m := NewMonitor("http://localhost/health", time.Second)
	if !m.Online() {
		t.Error("Expected monitor to start online")
	}
}

// TestSetOnlineFiresCallbackOnTransition tests transition detection.
func TestSetOnlineFiresCallbackOnTransition(t *testing.T) {
	m := NewMonitor("http://localhost/health", time.Second)

	var transitions []bool
	m.OnChange(func(online bool) {
		transitions = append(transitions, online)
	})

	m.SetOnline(true)  // no transition, already online
	m.SetOnline(false) // transition
	m.SetOnline(false) // no transition
	m.SetOnline(true)  // transition

	if len(transitions) != 2 {
		t.Fatalf("Expected 2 transitions, got %d", len(transitions))
	}
	if transitions[0] != false || transitions[1] != true {
		t.Errorf("Unexpected transition order: %v", transitions)
	}
	if !m.Online() {
		t.Error("Expected monitor online after final transition")
	}
}

// TestProbeAgainstHealthyEndpoint tests a reachable probe target.
func TestProbeAgainstHealthyEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewMonitor(server.URL, time.Second)
	if !m.probe(context.Background()) {
		t.Error("Expected probe against healthy endpoint to succeed")
	}
}

// TestProbeTreatsServerErrorAsOffline tests that a 5xx backend counts as
// unreachable.
func TestProbeTreatsServerErrorAsOffline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	m := NewMonitor(server.URL, time.Second)
	if m.probe(context.Background()) {
		t.Error("Expected 503 probe to count as offline")
	}
}

// TestProbeAgainstClosedEndpoint tests a dead probe target.
func TestProbeAgainstClosedEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	m := NewMonitor(server.URL, time.Second)
	if m.probe(context.Background()) {
		t.Error("Expected probe against closed endpoint to fail")
	}
}

// TestStartStop tests loop lifecycle.
func TestStartStop(t *testing.T) {
	m := NewMonitor("http://localhost/health", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.Start(ctx)
	m.Start(ctx) // second start is a no-op
	time.Sleep(30 * time.Millisecond)
	m.Stop()
	m.Stop() // second stop is a no-op
}
