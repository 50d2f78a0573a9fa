// Package models provides data model definitions for FieldSync Core.
package models

import "time"

// ConflictType classifies a replay-time conflict.
type ConflictType string

const (
	// ConflictTypeField means the server modified an entity while offline
	// edits to the same entity were queued. The offline field values were
	// still applied; the overlap is reported for user review.
	ConflictTypeField ConflictType = "field_conflict"
	// ConflictTypeStatus means a queued status change was skipped because
	// the server's current status is terminal.
	ConflictTypeStatus ConflictType = "status_conflict"
)

// ConflictReport records one conflict detected during replay for user
// awareness. Conflicts are not failures: the item still succeeds.
type ConflictReport struct {
	ItemID       UUID         `json:"item_id"`
	EntityID     string       `json:"entity_id"`
	EntityClass  EntityClass  `json:"entity_class"`
	Type         ConflictType `json:"type"`
	Fields       []string     `json:"fields,omitempty"`
	QueuedStatus string       `json:"queued_status,omitempty"`
	ServerStatus string       `json:"server_status,omitempty"`
	DetectedAt   int64        `json:"detected_at"`
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictReport) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
