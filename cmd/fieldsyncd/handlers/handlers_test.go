// Package handlers provides unit tests for the daemon's HTTP endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fieldsync/fieldsync/internal/connectivity"
	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/queue"
	"github.com/fieldsync/fieldsync/internal/replay"
	"github.com/fieldsync/fieldsync/internal/router"
)

// fakeRemote fails every call so mutations fall back to the queue, or
// succeeds when ok is set.
type fakeRemote struct {
	ok bool
}

func (f *fakeRemote) workOrder() (*models.WorkOrder, error) {
	if f.ok {
		return &models.WorkOrder{ID: "wo-1"}, nil
	}
	return nil, context.DeadlineExceeded
}

func (f *fakeRemote) CreateWorkOrder(ctx context.Context, form models.WorkOrderCreatePayload) (*models.WorkOrder, error) {
	return f.workOrder()
}

func (f *fakeRemote) GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error) {
	return f.workOrder()
}

func (f *fakeRemote) UpdateWorkOrder(ctx context.Context, id string, fields map[string]interface{}) (*models.WorkOrder, error) {
	return f.workOrder()
}

func (f *fakeRemote) ChangeWorkOrderStatus(ctx context.Context, id, status string) (*models.WorkOrder, error) {
	return f.workOrder()
}

func (f *fakeRemote) CreateWorkOrderNote(ctx context.Context, workOrderID, body string) (*models.Note, error) {
	if f.ok {
		return &models.Note{ID: "note-1"}, nil
	}
	return nil, context.DeadlineExceeded
}

func (f *fakeRemote) CreateEquipment(ctx context.Context, form models.EquipmentCreatePayload) (*models.Equipment, error) {
	if f.ok {
		return &models.Equipment{ID: "eq-1"}, nil
	}
	return nil, context.DeadlineExceeded
}

func (f *fakeRemote) UpdateEquipment(ctx context.Context, id string, fields map[string]interface{}) (*models.Equipment, error) {
	if f.ok {
		return &models.Equipment{ID: id}, nil
	}
	return nil, context.DeadlineExceeded
}

// fakeTrigger is a scriptable ReplayTrigger.
type fakeTrigger struct {
	result *replay.Result
	busy   bool
	err    error
	lastAt time.Time
}

func (f *fakeTrigger) RunNow(ctx context.Context) (*replay.Result, bool, error) {
	if f.busy {
		return nil, false, nil
	}
	return f.result, true, f.err
}

func (f *fakeTrigger) LastResult() (*replay.Result, time.Time) {
	return f.result, f.lastAt
}

// newTestServer wires a handler over a fresh store and an httptest server.
func newTestServer(t *testing.T, remote *fakeRemote, trigger *fakeTrigger, online bool) (*httptest.Server, *queue.Store) {
	t.Helper()

	store, err := queue.NewStore("user-1", "org-1", queue.NewMemoryPersistence(), queue.DefaultLimits())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	rt := router.New(store, remote, connectivity.Static(online))
	h := New(store, rt, trigger, connectivity.Static(online))

	mux := http.NewServeMux()
	h.Register(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, store
}

// decodeBody parses a JSON response body into a map.
func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body
}

// TestQueueStatusEndpoint tests GET /queue/status.
func TestQueueStatusEndpoint(t *testing.T) {
	trigger := &fakeTrigger{
		result: &replay.Result{Succeeded: 2, Remaining: 1},
		lastAt: time.Now(),
	}
	server, store := newTestServer(t, &fakeRemote{}, trigger, true)

	if _, err := store.Enqueue(queue.EnqueueInput{
		Type:    models.ItemTypeWorkOrderNote,
		Payload: models.NotePayload{WorkOrderID: "wo-1", Body: "note"},
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	resp, err := http.Get(server.URL + "/queue/status")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["organization_id"] != "org-1" || body["user_id"] != "user-1" {
		t.Errorf("Unexpected partition identity: %v", body)
	}
	if body["online"] != true {
		t.Error("Expected online true")
	}
	counts := body["counts"].(map[string]interface{})
	if counts["pending"] != float64(1) {
		t.Errorf("Expected 1 pending, got %v", counts)
	}
	if _, ok := body["last_replay"]; !ok {
		t.Error("Expected last_replay summary")
	}
}

// TestRetryFailedEndpoint tests POST /queue/retry-failed.
func TestRetryFailedEndpoint(t *testing.T) {
	server, store := newTestServer(t, &fakeRemote{}, &fakeTrigger{}, true)

	item, err := store.Enqueue(queue.EnqueueInput{
		Type:    models.ItemTypeWorkOrderNote,
		Payload: models.NotePayload{WorkOrderID: "wo-1", Body: "note"},
	})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := store.UpdateStatus(item.ID, models.ItemStatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	resp, err := http.Post(server.URL+"/queue/retry-failed", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["retried"] != float64(1) {
		t.Errorf("Expected 1 retried, got %v", body)
	}
	if store.GetPendingCount() != 1 {
		t.Errorf("Expected item back in pending, got %d", store.GetPendingCount())
	}
}

// TestClearEndpoint tests POST /queue/clear.
func TestClearEndpoint(t *testing.T) {
	server, store := newTestServer(t, &fakeRemote{}, &fakeTrigger{}, true)

	if _, err := store.Enqueue(queue.EnqueueInput{
		Type:    models.ItemTypeWorkOrderNote,
		Payload: models.NotePayload{WorkOrderID: "wo-1", Body: "note"},
	}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	resp, err := http.Post(server.URL+"/queue/clear", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if store.GetCount() != 0 {
		t.Errorf("Expected cleared queue, got %d items", store.GetCount())
	}
}

// TestSyncNowEndpoint tests POST /sync/now.
func TestSyncNowEndpoint(t *testing.T) {
	trigger := &fakeTrigger{result: &replay.Result{Succeeded: 3}}
	server, _ := newTestServer(t, &fakeRemote{}, trigger, true)

	resp, err := http.Post(server.URL+"/sync/now", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["succeeded"] != float64(3) {
		t.Errorf("Expected replay summary, got %v", body)
	}
}

// TestSyncNowWhileOffline tests the offline refusal.
func TestSyncNowWhileOffline(t *testing.T) {
	server, _ := newTestServer(t, &fakeRemote{}, &fakeTrigger{}, false)

	resp, err := http.Post(server.URL+"/sync/now", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("Expected 409 while offline, got %d", resp.StatusCode)
	}
}

// TestSyncNowWhileBusy tests the in-progress refusal.
func TestSyncNowWhileBusy(t *testing.T) {
	server, _ := newTestServer(t, &fakeRemote{}, &fakeTrigger{busy: true}, true)

	resp, err := http.Post(server.URL+"/sync/now", "application/json", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("Expected 409 while busy, got %d", resp.StatusCode)
	}
}

// TestCreateWorkOrderFallsBackToQueue tests that a network failure yields an
// accepted, queued mutation.
func TestCreateWorkOrderFallsBackToQueue(t *testing.T) {
	server, store := newTestServer(t, &fakeRemote{ok: false}, &fakeTrigger{}, true)

	resp, err := http.Post(server.URL+"/workorders", "application/json",
		strings.NewReader(`{"title":"fix pump"}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["queued_offline"] != true {
		t.Errorf("Expected queued_offline true, got %v", body)
	}
	if id, ok := body["queue_item_id"].(string); !ok || id == "" {
		t.Error("Expected queue item id")
	}
	if store.GetPendingCount() != 1 {
		t.Errorf("Expected 1 queued item, got %d", store.GetPendingCount())
	}
}

// TestCreateWorkOrderOnline tests the straight-through mutation path.
func TestCreateWorkOrderOnline(t *testing.T) {
	server, store := newTestServer(t, &fakeRemote{ok: true}, &fakeTrigger{}, true)

	resp, err := http.Post(server.URL+"/workorders", "application/json",
		strings.NewReader(`{"title":"fix pump"}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	body := decodeBody(t, resp)
	if body["queued_offline"] != false {
		t.Errorf("Expected direct call, got %v", body)
	}
	if store.GetCount() != 0 {
		t.Errorf("Expected empty queue, got %d items", store.GetCount())
	}
}

// TestCreateWorkOrderValidation tests the required-title guard.
func TestCreateWorkOrderValidation(t *testing.T) {
	server, _ := newTestServer(t, &fakeRemote{ok: true}, &fakeTrigger{}, true)

	resp, err := http.Post(server.URL+"/workorders", "application/json",
		strings.NewReader(`{"description":"no title"}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", resp.StatusCode)
	}
}

// TestStatusChangeUsesPathID tests that the entity id comes from the URL.
func TestStatusChangeUsesPathID(t *testing.T) {
	server, store := newTestServer(t, &fakeRemote{ok: false}, &fakeTrigger{}, true)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/workorders/wo-42/status",
		strings.NewReader(`{"status":"completed"}`))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	var payload models.StatusChangePayload
	if err := json.Unmarshal(store.GetAll()[0].Payload, &payload); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if payload.EntityID != "wo-42" || payload.Status != "completed" {
		t.Errorf("Unexpected payload: %+v", payload)
	}
}

// TestUpdateEquipmentRequiresFields tests the empty-fields guard.
func TestUpdateEquipmentRequiresFields(t *testing.T) {
	server, _ := newTestServer(t, &fakeRemote{ok: true}, &fakeTrigger{}, true)

	req, err := http.NewRequest(http.MethodPatch, server.URL+"/equipment/eq-1",
		strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", resp.StatusCode)
	}
}
