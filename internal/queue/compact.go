// Package queue provides the durable offline mutation queue.
package queue

import (
	"encoding/json"
	"sort"

	fserrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/logging"
	"github.com/fieldsync/fieldsync/internal/models"
)

// compactGroup identifies mutations that target the same entity.
type compactGroup struct {
	itemType models.ItemType
	entityID string
}

// foldedUpdate tracks an update item being folded together with its decoded
// payload, so repeated decode/encode per contributing item is avoided.
type foldedUpdate struct {
	item    *models.QueueItem
	payload *models.UpdatePayload
}

// Compact reduces redundant work accumulated during a long offline session:
//
//   - Pending update items targeting the same entity fold into one. Later
//     field values win per field, changed-field sets are unioned, and the
//     earliest serverUpdatedAt/serverSnapshot baseline is kept: it is the
//     true pre-edit baseline, and overwriting it with a later one would
//     corrupt conflict detection. The folded item's timestamp becomes the
//     latest contributing timestamp.
//   - Pending status changes on the same entity collapse to the most recent
//     target status, again keeping the earliest baseline.
//   - Creates and notes are never merged: creates have no server identity
//     yet, notes are append-only.
//   - Failed and processing items pass through untouched.
//
// The compacted set is re-sorted by timestamp to preserve causal order.
// Compacting twice in a row yields the same result as once.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.items) <= 1 {
		return nil
	}

	var out []*models.QueueItem
	updates := make(map[compactGroup]*foldedUpdate)
	statuses := make(map[compactGroup]*models.QueueItem)
	merged := 0

	for _, item := range s.items {
		if item.Status != models.ItemStatusPending {
			out = append(out, item)
			continue
		}

		switch item.Type {
		case models.ItemTypeWorkOrderUpdate, models.ItemTypeEquipmentUpdate:
			var payload models.UpdatePayload
			if err := json.Unmarshal(item.Payload, &payload); err != nil {
				// Undecodable payloads are left for the replay handler to report.
				out = append(out, item)
				continue
			}

			key := compactGroup{item.Type, payload.EntityID}
			prev, ok := updates[key]
			if !ok {
				dup := *item
				updates[key] = &foldedUpdate{item: &dup, payload: &payload}
				out = append(out, &dup)
				continue
			}

			mergeUpdatePayload(prev.payload, &payload)
			if item.Timestamp > prev.item.Timestamp {
				prev.item.Timestamp = item.Timestamp
			}
			merged++

		case models.ItemTypeWorkOrderStatusChange:
			var payload models.StatusChangePayload
			if err := json.Unmarshal(item.Payload, &payload); err != nil {
				out = append(out, item)
				continue
			}

			key := compactGroup{item.Type, payload.EntityID}
			prev, ok := statuses[key]
			if !ok {
				dup := *item
				statuses[key] = &dup
				out = append(out, &dup)
				continue
			}

			// Most recent target status wins; the earliest baseline stays.
			var prevPayload models.StatusChangePayload
			if err := json.Unmarshal(prev.Payload, &prevPayload); err == nil {
				prevPayload.Status = payload.Status
				raw, err := json.Marshal(&prevPayload)
				if err != nil {
					return fserrors.Wrap(fserrors.ErrInternal, "failed to serialize compacted status change", err)
				}
				prev.Payload = raw
				prev.PayloadSizeBytes = len(raw)
			}
			if item.Timestamp > prev.Timestamp {
				prev.Timestamp = item.Timestamp
			}
			merged++

		default:
			out = append(out, item)
		}
	}

	if merged == 0 {
		return nil
	}

	// Write the folded update payloads back to their surviving items.
	for _, folded := range updates {
		raw, err := json.Marshal(folded.payload)
		if err != nil {
			return fserrors.Wrap(fserrors.ErrInternal, "failed to serialize compacted update", err)
		}
		folded.item.Payload = raw
		folded.item.PayloadSizeBytes = len(raw)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})

	before := len(s.items)
	s.items = out
	if err := s.persistLocked(); err != nil {
		return err
	}

	logging.Info("Compacted queue partition",
		map[string]interface{}{"partition": s.key, "before": before, "after": len(out)})
	return nil
}

// mergeUpdatePayload folds a later update into an earlier one in place.
func mergeUpdatePayload(dst, src *models.UpdatePayload) {
	if dst.Fields == nil {
		dst.Fields = make(map[string]interface{})
	}
	for k, v := range src.Fields {
		dst.Fields[k] = v
	}

	seen := make(map[string]bool, len(dst.ChangedFields))
	for _, f := range dst.ChangedFields {
		seen[f] = true
	}
	for _, f := range src.ChangedFields {
		if !seen[f] {
			dst.ChangedFields = append(dst.ChangedFields, f)
			seen[f] = true
		}
	}

	// The earlier baseline is the true pre-edit baseline; only fill gaps.
	if dst.ServerUpdatedAt == "" {
		dst.ServerUpdatedAt = src.ServerUpdatedAt
	}
	if dst.ServerSnapshot == nil {
		dst.ServerSnapshot = src.ServerSnapshot
	}
}
