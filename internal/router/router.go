// Package router decides, per domain write, whether to call the remote API
// or defer the mutation to the offline queue.
//
// Every operation follows the same dual path: an offline pre-check that
// enqueues without touching the network, an awaited remote attempt when
// online, and an enqueue fallback when that attempt fails with a
// network-class error. Application-class errors are never queued; retrying
// them offline cannot fix them.
package router

import (
	"context"

	"github.com/fieldsync/fieldsync/internal/api"
	"github.com/fieldsync/fieldsync/internal/connectivity"
	fserrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/logging"
	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/queue"
)

// CallResult is the outcome of one routed write. Data is nil when the
// mutation was queued: the server object does not exist or is not updated yet.
type CallResult struct {
	Data          interface{} `json:"data"`
	QueuedOffline bool        `json:"queued_offline"`
	QueueItemID   string      `json:"queue_item_id,omitempty"`
}

// EnqueueNotifier observes mutations deferred to the queue, typically to
// surface them to the UI over the daemon's event hub.
type EnqueueNotifier interface {
	ItemEnqueued(item *models.QueueItem)
}

// Router routes domain writes for one (user, organization) partition.
type Router struct {
	store    *queue.Store
	remote   api.Client
	online   connectivity.Signal
	notifier EnqueueNotifier
}

// New creates a Router over a queue partition, a remote API client, and a
// connectivity signal.
func New(store *queue.Store, remote api.Client, online connectivity.Signal) *Router {
	return &Router{
		store:  store,
		remote: remote,
		online: online,
	}
}

// SetNotifier installs an optional enqueue observer.
func (r *Router) SetNotifier(notifier EnqueueNotifier) {
	r.notifier = notifier
}

// UpdateRequest describes a partial entity update together with the
// conflict-detection baseline captured when the user began editing.
type UpdateRequest struct {
	EntityID        string
	Fields          map[string]interface{}
	ChangedFields   []string
	ServerSnapshot  map[string]interface{}
	ServerUpdatedAt string
}

// CreateWorkOrder creates a work order, queuing it when offline.
func (r *Router) CreateWorkOrder(ctx context.Context, form models.WorkOrderCreatePayload) (*CallResult, error) {
	return r.dispatch(ctx, models.ItemTypeWorkOrderCreate, form, func(ctx context.Context) (interface{}, error) {
		return r.remote.CreateWorkOrder(ctx, form)
	})
}

// UpdateWorkOrder applies a partial work order update, queuing it when
// offline together with its conflict-detection baseline.
func (r *Router) UpdateWorkOrder(ctx context.Context, req UpdateRequest) (*CallResult, error) {
	payload := updatePayload(req)
	return r.dispatch(ctx, models.ItemTypeWorkOrderUpdate, payload, func(ctx context.Context) (interface{}, error) {
		return r.remote.UpdateWorkOrder(ctx, req.EntityID, req.Fields)
	})
}

// ChangeWorkOrderStatus transitions a work order's status, queuing the
// transition when offline.
func (r *Router) ChangeWorkOrderStatus(ctx context.Context, entityID, status, serverUpdatedAt string) (*CallResult, error) {
	payload := models.StatusChangePayload{
		EntityID:        entityID,
		Status:          status,
		ServerUpdatedAt: serverUpdatedAt,
	}
	return r.dispatch(ctx, models.ItemTypeWorkOrderStatusChange, payload, func(ctx context.Context) (interface{}, error) {
		return r.remote.ChangeWorkOrderStatus(ctx, entityID, status)
	})
}

// AddWorkOrderNote appends a note to a work order, queuing it when offline.
func (r *Router) AddWorkOrderNote(ctx context.Context, workOrderID, body string) (*CallResult, error) {
	payload := models.NotePayload{WorkOrderID: workOrderID, Body: body}
	return r.dispatch(ctx, models.ItemTypeWorkOrderNote, payload, func(ctx context.Context) (interface{}, error) {
		return r.remote.CreateWorkOrderNote(ctx, workOrderID, body)
	})
}

// CreateEquipment creates an equipment record, queuing it when offline.
func (r *Router) CreateEquipment(ctx context.Context, form models.EquipmentCreatePayload) (*CallResult, error) {
	return r.dispatch(ctx, models.ItemTypeEquipmentCreate, form, func(ctx context.Context) (interface{}, error) {
		return r.remote.CreateEquipment(ctx, form)
	})
}

// UpdateEquipment applies a partial equipment update, queuing it when offline.
func (r *Router) UpdateEquipment(ctx context.Context, req UpdateRequest) (*CallResult, error) {
	payload := updatePayload(req)
	return r.dispatch(ctx, models.ItemTypeEquipmentUpdate, payload, func(ctx context.Context) (interface{}, error) {
		return r.remote.UpdateEquipment(ctx, req.EntityID, req.Fields)
	})
}

// dispatch runs the dual path for one operation: offline pre-check, remote
// attempt, network-error fallback.
func (r *Router) dispatch(ctx context.Context, itemType models.ItemType, payload interface{},
	call func(ctx context.Context) (interface{}, error)) (*CallResult, error) {

	if !r.online.Online() {
		return r.enqueue(itemType, payload)
	}

	data, err := call(ctx)
	if err == nil {
		return &CallResult{Data: data, QueuedOffline: false}, nil
	}

	if fserrors.IsNetworkError(err) {
		logging.Warn("Remote call failed with network error, deferring to queue",
			map[string]interface{}{"type": string(itemType), "error": err.Error()})
		return r.enqueue(itemType, payload)
	}

	return nil, err
}

// enqueue defers a mutation to the queue store. Admission errors propagate
// unchanged: they are non-retryable and the caller must surface them.
func (r *Router) enqueue(itemType models.ItemType, payload interface{}) (*CallResult, error) {
	item, err := r.store.Enqueue(queue.EnqueueInput{Type: itemType, Payload: payload})
	if err != nil {
		return nil, err
	}
	if r.notifier != nil {
		r.notifier.ItemEnqueued(item)
	}
	return &CallResult{
		Data:          nil,
		QueuedOffline: true,
		QueueItemID:   item.ID.String(),
	}, nil
}

// updatePayload builds the queued form of an update request.
func updatePayload(req UpdateRequest) models.UpdatePayload {
	return models.UpdatePayload{
		EntityID:        req.EntityID,
		Fields:          req.Fields,
		ChangedFields:   req.ChangedFields,
		ServerSnapshot:  req.ServerSnapshot,
		ServerUpdatedAt: req.ServerUpdatedAt,
	}
}
