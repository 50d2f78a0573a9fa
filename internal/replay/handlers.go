// Package replay drains the offline queue when connectivity returns.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	fserrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/logging"
	"github.com/fieldsync/fieldsync/internal/models"
)

// handleWorkOrderCreate replays a queued work order creation. Side effects
// that depend on the not-yet-known server id (checklist instantiation from a
// template) cannot be replayed and are logged as skipped, never silently
// dropped.
func (p *Processor) handleWorkOrderCreate(ctx context.Context, item *models.QueueItem) (*models.ConflictReport, error) {
	var payload models.WorkOrderCreatePayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return nil, fserrors.Wrap(fserrors.ErrInternal, "undecodable work order create payload", err)
	}

	created, err := p.remote.CreateWorkOrder(ctx, payload)
	if err != nil {
		return nil, err
	}

	if payload.ChecklistTemplateID != "" {
		logging.Warn("Skipped checklist instantiation for replayed work order create",
			map[string]interface{}{
				"work_order_id":         created.ID,
				"checklist_template_id": payload.ChecklistTemplateID,
			})
	}
	return nil, nil
}

// handleWorkOrderUpdate replays a queued partial update with conflict
// detection. When the server's modification marker moved while we were
// offline, only the fields the offline edit touched are re-applied, and the
// overlap with server-side changes is reported as a field conflict: the
// processor cannot know whose change is more correct at the field level, so
// the choice is explicit and auditable rather than a silent merge.
func (p *Processor) handleWorkOrderUpdate(ctx context.Context, item *models.QueueItem) (*models.ConflictReport, error) {
	var payload models.UpdatePayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return nil, fserrors.Wrap(fserrors.ErrInternal, "undecodable work order update payload", err)
	}

	var conflict *models.ConflictReport

	if payload.ServerUpdatedAt != "" && len(payload.ChangedFields) > 0 {
		current, err := p.remote.GetWorkOrder(ctx, payload.EntityID)
		if err != nil {
			return nil, err
		}

		if current.UpdatedAt != payload.ServerUpdatedAt {
			conflictFields := detectFieldConflicts(payload, current)
			if len(conflictFields) > 0 {
				conflict = &models.ConflictReport{
					ItemID:      item.ID,
					EntityID:    payload.EntityID,
					EntityClass: models.EntityClassWorkOrder,
					Type:        models.ConflictTypeField,
					Fields:      conflictFields,
					DetectedAt:  time.Now().Unix(),
				}
				logging.Warn("Concurrent server-side edit detected, re-applying offline fields",
					map[string]interface{}{
						"entity_id": payload.EntityID,
						"fields":    conflictFields,
					})
			}
		}
	}

	if _, err := p.remote.UpdateWorkOrder(ctx, payload.EntityID, applyFields(payload)); err != nil {
		return nil, err
	}
	return conflict, nil
}

// handleWorkOrderStatusChange replays a queued status transition with a
// server-wins policy for terminal states: a work order the server already
// completed or cancelled is never reopened by a stale queued change.
func (p *Processor) handleWorkOrderStatusChange(ctx context.Context, item *models.QueueItem) (*models.ConflictReport, error) {
	var payload models.StatusChangePayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return nil, fserrors.Wrap(fserrors.ErrInternal, "undecodable status change payload", err)
	}

	current, err := p.remote.GetWorkOrder(ctx, payload.EntityID)
	if err != nil {
		return nil, err
	}

	if models.IsTerminalStatus(current.Status) && !models.IsTerminalStatus(payload.Status) {
		logging.Warn("Skipping queued status change: server status is terminal",
			map[string]interface{}{
				"entity_id":     payload.EntityID,
				"queued_status": payload.Status,
				"server_status": current.Status,
			})
		return &models.ConflictReport{
			ItemID:       item.ID,
			EntityID:     payload.EntityID,
			EntityClass:  models.EntityClassWorkOrder,
			Type:         models.ConflictTypeStatus,
			QueuedStatus: payload.Status,
			ServerStatus: current.Status,
			DetectedAt:   time.Now().Unix(),
		}, nil
	}

	if _, err := p.remote.ChangeWorkOrderStatus(ctx, payload.EntityID, payload.Status); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleWorkOrderNote replays a queued note. Notes are append-only; no
// conflict detection applies.
func (p *Processor) handleWorkOrderNote(ctx context.Context, item *models.QueueItem) (*models.ConflictReport, error) {
	var payload models.NotePayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return nil, fserrors.Wrap(fserrors.ErrInternal, "undecodable note payload", err)
	}

	if _, err := p.remote.CreateWorkOrderNote(ctx, payload.WorkOrderID, payload.Body); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleEquipmentCreate replays a queued equipment creation.
func (p *Processor) handleEquipmentCreate(ctx context.Context, item *models.QueueItem) (*models.ConflictReport, error) {
	var payload models.EquipmentCreatePayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return nil, fserrors.Wrap(fserrors.ErrInternal, "undecodable equipment create payload", err)
	}

	if _, err := p.remote.CreateEquipment(ctx, payload); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleEquipmentUpdate replays a queued equipment update. Equipment fields
// are independent enough that no conflict detection is defined for them.
func (p *Processor) handleEquipmentUpdate(ctx context.Context, item *models.QueueItem) (*models.ConflictReport, error) {
	var payload models.UpdatePayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return nil, fserrors.Wrap(fserrors.ErrInternal, "undecodable equipment update payload", err)
	}

	if _, err := p.remote.UpdateEquipment(ctx, payload.EntityID, applyFields(payload)); err != nil {
		return nil, err
	}
	return nil, nil
}

// applyFields returns the field values to re-apply: only the fields the user
// actually changed when a changed-field set was captured, all payload fields
// otherwise.
func applyFields(payload models.UpdatePayload) map[string]interface{} {
	if len(payload.ChangedFields) == 0 {
		return payload.Fields
	}

	out := make(map[string]interface{}, len(payload.ChangedFields))
	for _, name := range payload.ChangedFields {
		if v, ok := payload.Fields[name]; ok {
			out[name] = v
		}
	}
	return out
}

// detectFieldConflicts names the offline-changed fields that the server also
// changed. With a snapshot baseline the comparison is per field; without one
// the processor cannot narrow the overlap and reports every offline-changed
// field.
func detectFieldConflicts(payload models.UpdatePayload, current *models.WorkOrder) []string {
	if payload.ServerSnapshot == nil {
		out := make([]string, len(payload.ChangedFields))
		copy(out, payload.ChangedFields)
		return out
	}

	var out []string
	for _, name := range payload.ChangedFields {
		baseline, ok := payload.ServerSnapshot[name]
		if !ok {
			continue
		}
		if fmt.Sprint(baseline) != fmt.Sprint(serverFieldValue(current, name)) {
			out = append(out, name)
		}
	}
	return out
}

// serverFieldValue looks up a work order field by its wire name.
func serverFieldValue(wo *models.WorkOrder, name string) interface{} {
	if wo.Fields != nil {
		if v, ok := wo.Fields[name]; ok {
			return v
		}
	}
	switch name {
	case "title":
		return wo.Title
	case "description":
		return wo.Description
	case "priority":
		return wo.Priority
	case "status":
		return wo.Status
	case "equipment_id":
		return wo.EquipmentID
	case "assignee_id":
		return wo.AssigneeID
	default:
		return nil
	}
}
