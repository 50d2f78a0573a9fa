// Package router provides unit tests for the dual-path mutation router.
package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fieldsync/fieldsync/internal/connectivity"
	fserrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/queue"
)

// fakeRemote records remote calls and returns a configured error.
type fakeRemote struct {
	err   error
	calls []string
}

func (f *fakeRemote) CreateWorkOrder(ctx context.Context, form models.WorkOrderCreatePayload) (*models.WorkOrder, error) {
	f.calls = append(f.calls, "CreateWorkOrder")
	if f.err != nil {
		return nil, f.err
	}
	return &models.WorkOrder{ID: "wo-remote-1", Title: form.Title}, nil
}

func (f *fakeRemote) GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error) {
	f.calls = append(f.calls, "GetWorkOrder")
	if f.err != nil {
		return nil, f.err
	}
	return &models.WorkOrder{ID: id}, nil
}

func (f *fakeRemote) UpdateWorkOrder(ctx context.Context, id string, fields map[string]interface{}) (*models.WorkOrder, error) {
	f.calls = append(f.calls, "UpdateWorkOrder")
	if f.err != nil {
		return nil, f.err
	}
	return &models.WorkOrder{ID: id}, nil
}

func (f *fakeRemote) ChangeWorkOrderStatus(ctx context.Context, id, status string) (*models.WorkOrder, error) {
	f.calls = append(f.calls, "ChangeWorkOrderStatus")
	if f.err != nil {
		return nil, f.err
	}
	return &models.WorkOrder{ID: id, Status: status}, nil
}

func (f *fakeRemote) CreateWorkOrderNote(ctx context.Context, workOrderID, body string) (*models.Note, error) {
	f.calls = append(f.calls, "CreateWorkOrderNote")
	if f.err != nil {
		return nil, f.err
	}
	return &models.Note{ID: "note-1", WorkOrderID: workOrderID, Body: body}, nil
}

func (f *fakeRemote) CreateEquipment(ctx context.Context, form models.EquipmentCreatePayload) (*models.Equipment, error) {
	f.calls = append(f.calls, "CreateEquipment")
	if f.err != nil {
		return nil, f.err
	}
	return &models.Equipment{ID: "eq-remote-1", Name: form.Name}, nil
}

func (f *fakeRemote) UpdateEquipment(ctx context.Context, id string, fields map[string]interface{}) (*models.Equipment, error) {
	f.calls = append(f.calls, "UpdateEquipment")
	if f.err != nil {
		return nil, f.err
	}
	return &models.Equipment{ID: id}, nil
}

// enqueueRecorder records enqueue notifications.
type enqueueRecorder struct {
	items []*models.QueueItem
}

func (r *enqueueRecorder) ItemEnqueued(item *models.QueueItem) {
	r.items = append(r.items, item)
}

// newTestRouter builds a router over a fresh in-memory store.
func newTestRouter(t *testing.T, remote *fakeRemote, online bool) (*Router, *queue.Store) {
	t.Helper()
	store, err := queue.NewStore("user-1", "org-1", queue.NewMemoryPersistence(), queue.DefaultLimits())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return New(store, remote, connectivity.Static(online)), store
}

// TestOnlineSuccessSkipsQueue tests the straight-through path.
func TestOnlineSuccessSkipsQueue(t *testing.T) {
	remote := &fakeRemote{}
	r, store := newTestRouter(t, remote, true)

	result, err := r.CreateWorkOrder(context.Background(), models.WorkOrderCreatePayload{Title: "fix pump"})
	if err != nil {
		t.Fatalf("CreateWorkOrder failed: %v", err)
	}

	if result.QueuedOffline {
		t.Error("Expected online call not to queue")
	}
	if result.Data == nil {
		t.Error("Expected remote data on success")
	}
	if store.GetCount() != 0 {
		t.Errorf("Expected empty queue, got %d items", store.GetCount())
	}
	if len(remote.calls) != 1 || remote.calls[0] != "CreateWorkOrder" {
		t.Errorf("Expected one remote call, got %v", remote.calls)
	}
}

// TestOfflinePreCheckEnqueues tests that an offline device queues without
// touching the network.
func TestOfflinePreCheckEnqueues(t *testing.T) {
	remote := &fakeRemote{}
	r, store := newTestRouter(t, remote, false)

	result, err := r.AddWorkOrderNote(context.Background(), "wo-1", "valve inspected")
	if err != nil {
		t.Fatalf("AddWorkOrderNote failed: %v", err)
	}

	if !result.QueuedOffline {
		t.Error("Expected mutation to be queued offline")
	}
	if result.Data != nil {
		t.Error("Expected nil data for a queued mutation")
	}
	if result.QueueItemID == "" {
		t.Error("Expected queue item id")
	}
	if len(remote.calls) != 0 {
		t.Errorf("Expected no remote calls while offline, got %v", remote.calls)
	}
	if store.GetPendingCount() != 1 {
		t.Errorf("Expected 1 pending item, got %d", store.GetPendingCount())
	}
}

// TestNetworkErrorFallsBackToQueue tests the awaited-failure fallback.
func TestNetworkErrorFallsBackToQueue(t *testing.T) {
	remote := &fakeRemote{err: fserrors.New(fserrors.ErrNetwork, "connection refused")}
	r, store := newTestRouter(t, remote, true)

	result, err := r.ChangeWorkOrderStatus(context.Background(), "wo-1", "completed", "2026-08-01T10:00:00Z")
	if err != nil {
		t.Fatalf("Expected fallback, got error: %v", err)
	}

	if !result.QueuedOffline {
		t.Error("Expected network failure to queue the mutation")
	}
	if len(remote.calls) != 1 {
		t.Errorf("Expected exactly one remote attempt, got %v", remote.calls)
	}
	if store.GetPendingCount() != 1 {
		t.Errorf("Expected 1 pending item, got %d", store.GetPendingCount())
	}
}

// TestApplicationErrorPropagates tests that validation and permission
// failures are never queued.
func TestApplicationErrorPropagates(t *testing.T) {
	for _, code := range []fserrors.ErrorCode{fserrors.ErrValidationFailed, fserrors.ErrPermissionDenied} {
		remote := &fakeRemote{err: fserrors.New(code, "rejected")}
		r, store := newTestRouter(t, remote, true)

		_, err := r.UpdateEquipment(context.Background(), UpdateRequest{
			EntityID: "eq-1",
			Fields:   map[string]interface{}{"location": "bay 2"},
		})
		if !fserrors.Is(err, code) {
			t.Fatalf("Expected %s to propagate, got %v", code, err)
		}
		if store.GetCount() != 0 {
			t.Errorf("Expected %s not to queue, got %d items", code, store.GetCount())
		}
	}
}

// TestAdmissionErrorPropagates tests that a rejected payload surfaces the
// admission error to the caller.
func TestAdmissionErrorPropagates(t *testing.T) {
	remote := &fakeRemote{}
	r, _ := newTestRouter(t, remote, false)

	_, err := r.AddWorkOrderNote(context.Background(), "wo-1",
		"attachment: data:image/jpeg;base64,/9j/4AAQ")
	if !fserrors.Is(err, fserrors.ErrPayloadBinary) {
		t.Fatalf("Expected PAYLOAD_BINARY_CONTENT, got %v", err)
	}
}

// TestQueuedUpdateCarriesBaseline tests that the conflict-detection baseline
// travels with a queued update.
func TestQueuedUpdateCarriesBaseline(t *testing.T) {
	remote := &fakeRemote{}
	r, store := newTestRouter(t, remote, false)

	_, err := r.UpdateWorkOrder(context.Background(), UpdateRequest{
		EntityID:        "wo-1",
		Fields:          map[string]interface{}{"title": "new title"},
		ChangedFields:   []string{"title"},
		ServerSnapshot:  map[string]interface{}{"title": "old title"},
		ServerUpdatedAt: "2026-08-01T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("UpdateWorkOrder failed: %v", err)
	}

	var payload models.UpdatePayload
	if err := json.Unmarshal(store.GetAll()[0].Payload, &payload); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if payload.EntityID != "wo-1" {
		t.Errorf("Expected entity id wo-1, got %s", payload.EntityID)
	}
	if payload.ServerUpdatedAt != "2026-08-01T10:00:00Z" {
		t.Errorf("Expected baseline marker, got %s", payload.ServerUpdatedAt)
	}
	if payload.ServerSnapshot["title"] != "old title" {
		t.Errorf("Expected snapshot preserved, got %v", payload.ServerSnapshot)
	}
}

// TestNotifierObservesEnqueues tests the optional enqueue observer.
func TestNotifierObservesEnqueues(t *testing.T) {
	remote := &fakeRemote{}
	r, _ := newTestRouter(t, remote, false)

	recorder := &enqueueRecorder{}
	r.SetNotifier(recorder)

	if _, err := r.CreateEquipment(context.Background(), models.EquipmentCreatePayload{Name: "compressor"}); err != nil {
		t.Fatalf("CreateEquipment failed: %v", err)
	}

	if len(recorder.items) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(recorder.items))
	}
	if recorder.items[0].Type != models.ItemTypeEquipmentCreate {
		t.Errorf("Expected equipment_create notification, got %s", recorder.items[0].Type)
	}
}
