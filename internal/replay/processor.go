// Package replay drains the offline queue when connectivity returns.
//
// A run refreshes the session if stale, compacts the queue, then replays
// pending items strictly one at a time in FIFO order: an update must never
// race ahead of the create it depends on. Update and status items go through
// conflict detection against the server's current state; conflicts are
// reported, not treated as failures.
package replay

import (
	"context"
	"fmt"
	"sort"

	"github.com/fieldsync/fieldsync/internal/api"
	"github.com/fieldsync/fieldsync/internal/cache"
	fserrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/logging"
	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/queue"
	"github.com/fieldsync/fieldsync/internal/session"
)

// Result summarizes one replay run.
type Result struct {
	Succeeded int                     `json:"succeeded"`
	Failed    int                     `json:"failed"`
	Remaining int                     `json:"remaining"`
	Conflicts []models.ConflictReport `json:"conflicts,omitempty"`
}

// handlerFunc replays one queue item. A returned conflict report is not a
// failure: the item still succeeded and is removed.
type handlerFunc func(ctx context.Context, item *models.QueueItem) (*models.ConflictReport, error)

// Events receives replay lifecycle notifications, typically forwarded to a
// UI over the daemon's event hub. All methods are called synchronously from
// the replay run.
type Events interface {
	ReplayStarted(pending int)
	ReplayCompleted(result *Result)
	ItemFailed(item *models.QueueItem, err error)
	ConflictDetected(report models.ConflictReport)
}

// Processor replays one partition's queue against the remote API.
type Processor struct {
	store       *queue.Store
	remote      api.Client
	sessions    session.Provider
	invalidator cache.Invalidator
	events      Events
	handlers    map[models.ItemType]handlerFunc
}

// NewProcessor creates a Processor with the full dispatch table.
func NewProcessor(store *queue.Store, remote api.Client, sessions session.Provider, invalidator cache.Invalidator) *Processor {
	p := &Processor{
		store:       store,
		remote:      remote,
		sessions:    sessions,
		invalidator: invalidator,
	}
	p.handlers = map[models.ItemType]handlerFunc{
		models.ItemTypeWorkOrderCreate:       p.handleWorkOrderCreate,
		models.ItemTypeWorkOrderUpdate:       p.handleWorkOrderUpdate,
		models.ItemTypeWorkOrderStatusChange: p.handleWorkOrderStatusChange,
		models.ItemTypeWorkOrderNote:         p.handleWorkOrderNote,
		models.ItemTypeEquipmentCreate:       p.handleEquipmentCreate,
		models.ItemTypeEquipmentUpdate:       p.handleEquipmentUpdate,
	}
	return p
}

// SetEvents installs an optional lifecycle listener.
func (p *Processor) SetEvents(events Events) {
	p.events = events
}

// ProcessAll replays every pending item. It aborts before touching the queue
// when the session is stale and cannot be refreshed, so a long-offline
// client never acts with an expired credential.
func (p *Processor) ProcessAll(ctx context.Context) (*Result, error) {
	result := &Result{}

	current, err := p.sessions.Session(ctx)
	if err != nil || current.Stale() {
		if _, refreshErr := p.sessions.Refresh(ctx); refreshErr != nil {
			result.Remaining = p.store.GetPendingCount()
			logging.ErrorWithCode("Replay aborted: session refresh failed",
				string(fserrors.CodeOf(refreshErr)), refreshErr,
				map[string]interface{}{"remaining": result.Remaining})
			return result, refreshErr
		}
	}

	if p.events != nil {
		p.events.ReplayStarted(p.store.GetPendingCount())
	}

	// Fold a long offline session's redundant edits before any network call.
	if err := p.store.Compact(); err != nil {
		logging.Error("Queue compaction failed, replaying uncompacted", err)
	}

	touched := make(map[models.EntityClass]bool)

	for _, item := range p.pendingItems() {
		select {
		case <-ctx.Done():
			result.Remaining = p.store.GetPendingCount()
			return result, ctx.Err()
		default:
		}

		p.processItem(ctx, item, result, touched)
	}

	result.Remaining = p.store.GetPendingCount()

	if result.Succeeded > 0 {
		p.invalidate(touched)
	}

	logging.Info("Replay run completed", map[string]interface{}{
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"remaining": result.Remaining,
		"conflicts": len(result.Conflicts),
	})
	if p.events != nil {
		p.events.ReplayCompleted(result)
	}
	return result, nil
}

// processItem replays a single item and records the outcome.
func (p *Processor) processItem(ctx context.Context, item *models.QueueItem, result *Result, touched map[models.EntityClass]bool) {
	if err := p.store.UpdateStatus(item.ID, models.ItemStatusProcessing, ""); err != nil {
		logging.Error("Failed to mark queue item processing", err,
			map[string]interface{}{"item_id": item.ID.String()})
		result.Failed++
		return
	}

	handler, ok := p.handlers[item.Type]
	if !ok {
		// Visible for investigation rather than silently skipped.
		msg := fmt.Sprintf("unknown queue item type %q", item.Type)
		if err := p.store.UpdateStatus(item.ID, models.ItemStatusFailed, msg); err != nil {
			logging.Error("Failed to mark unknown item failed", err,
				map[string]interface{}{"item_id": item.ID.String()})
		}
		logging.ErrorWithCode("Unknown queue item type", string(fserrors.ErrUnknownItemType),
			nil, map[string]interface{}{"item_id": item.ID.String(), "type": string(item.Type)})
		result.Failed++
		if p.events != nil {
			p.events.ItemFailed(item, fserrors.New(fserrors.ErrUnknownItemType, msg))
		}
		return
	}

	conflict, err := handler(ctx, item)
	if err != nil {
		result.Failed++
		if p.events != nil {
			p.events.ItemFailed(item, err)
		}
		newCount := item.RetryCount + 1
		if newCount >= item.MaxRetries {
			if uerr := p.store.MarkFailed(item.ID, newCount, err.Error()); uerr != nil {
				logging.Error("Failed to mark exhausted item failed", uerr,
					map[string]interface{}{"item_id": item.ID.String()})
			}
			logging.ErrorWithCode("Queue item failed permanently",
				string(fserrors.ErrRetriesExceeded), err,
				map[string]interface{}{"item_id": item.ID.String(), "retries": newCount})
			return
		}
		if uerr := p.store.UpdateRetry(item.ID, newCount, err.Error()); uerr != nil {
			logging.Error("Failed to record retry", uerr,
				map[string]interface{}{"item_id": item.ID.String()})
		}
		logging.Warn("Queue item failed, will retry",
			map[string]interface{}{
				"item_id": item.ID.String(),
				"retry":   newCount,
				"max":     item.MaxRetries,
				"error":   err.Error(),
			})
		return
	}

	if conflict != nil {
		result.Conflicts = append(result.Conflicts, *conflict)
		if p.events != nil {
			p.events.ConflictDetected(*conflict)
		}
	}

	if err := p.store.Remove(item.ID); err != nil {
		logging.Error("Failed to remove replayed item", err,
			map[string]interface{}{"item_id": item.ID.String()})
	}
	result.Succeeded++
	touched[item.Type.Class()] = true
}

// pendingItems snapshots the pending items in stored FIFO order.
func (p *Processor) pendingItems() []*models.QueueItem {
	var pending []*models.QueueItem
	for _, item := range p.store.GetAll() {
		if item.Status == models.ItemStatusPending {
			pending = append(pending, item)
		}
	}
	return pending
}

// invalidate signals the read cache for each touched entity class.
func (p *Processor) invalidate(touched map[models.EntityClass]bool) {
	if p.invalidator == nil || len(touched) == 0 {
		return
	}

	classes := make([]models.EntityClass, 0, len(touched))
	for class := range touched {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	p.invalidator.Invalidate(p.store.OrganizationID(), classes)
}
