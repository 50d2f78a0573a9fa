// Package models provides data model definitions for FieldSync Core.
package models

import (
	"encoding/json"
	"time"
)

// ItemType identifies which mutation a queue item carries and therefore
// which replay handler applies to it.
type ItemType string

const (
	ItemTypeWorkOrderCreate       ItemType = "work_order_create"
	ItemTypeWorkOrderUpdate       ItemType = "work_order_update"
	ItemTypeWorkOrderStatusChange ItemType = "work_order_status_change"
	ItemTypeWorkOrderNote         ItemType = "work_order_note"
	ItemTypeEquipmentCreate       ItemType = "equipment_create"
	ItemTypeEquipmentUpdate       ItemType = "equipment_update"
)

// ItemStatus represents the lifecycle state of a queued mutation.
type ItemStatus string

const (
	// ItemStatusPending means the item is waiting for the next replay run.
	ItemStatusPending ItemStatus = "pending"
	// ItemStatusProcessing is a transient marker held only while a replay
	// attempt for the item is in flight.
	ItemStatusProcessing ItemStatus = "processing"
	// ItemStatusFailed is terminal until an explicit bulk retry resets the
	// item back to pending.
	ItemStatusFailed ItemStatus = "failed"
)

// QueueItem represents one durable pending mutation.
type QueueItem struct {
	ID               UUID            `db:"id" json:"id"`
	Type             ItemType        `db:"type" json:"type"`
	Payload          json.RawMessage `db:"payload" json:"payload"`
	OrganizationID   string          `db:"organization_id" json:"organization_id"`
	UserID           string          `db:"user_id" json:"user_id"`
	Timestamp        int64           `db:"timestamp" json:"timestamp"` // unix nanoseconds, FIFO order
	RetryCount       int             `db:"retry_count" json:"retry_count"`
	MaxRetries       int             `db:"max_retries" json:"max_retries"`
	Status           ItemStatus      `db:"status" json:"status"`
	PayloadSizeBytes int             `db:"payload_size_bytes" json:"payload_size_bytes"`
	LastError        string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for QueueItem.
func (QueueItem) TableName() string {
	return "sync_queue_partitions"
}

// Time returns the Timestamp as time.Time.
func (q *QueueItem) Time() time.Time {
	return time.Unix(0, q.Timestamp)
}

// WorkOrderCreatePayload is the full creation form for a work order.
type WorkOrderCreatePayload struct {
	Title               string `json:"title"`
	Description         string `json:"description,omitempty"`
	Priority            string `json:"priority,omitempty"`
	EquipmentID         string `json:"equipment_id,omitempty"`
	AssigneeID          string `json:"assignee_id,omitempty"`
	ChecklistTemplateID string `json:"checklist_template_id,omitempty"`
}

// UpdatePayload carries a partial update: the changed field values plus the
// conflict-detection baseline captured when the user began editing.
type UpdatePayload struct {
	EntityID      string                 `json:"entity_id"`
	Fields        map[string]interface{} `json:"fields"`
	ChangedFields []string               `json:"changed_fields,omitempty"`
	// ServerSnapshot holds the field values the user observed when editing
	// began. Used for the 3-way merge on replay.
	ServerSnapshot map[string]interface{} `json:"server_snapshot,omitempty"`
	// ServerUpdatedAt is the server's last-modified marker at edit time.
	ServerUpdatedAt string `json:"server_updated_at,omitempty"`
}

// StatusChangePayload carries a status transition for an entity.
type StatusChangePayload struct {
	EntityID        string `json:"entity_id"`
	Status          string `json:"status"`
	ServerUpdatedAt string `json:"server_updated_at,omitempty"`
}

// NotePayload carries an appended note for a work order.
type NotePayload struct {
	WorkOrderID string `json:"work_order_id"`
	Body        string `json:"body"`
}

// EquipmentCreatePayload is the full creation form for an equipment record.
type EquipmentCreatePayload struct {
	Name         string `json:"name"`
	SerialNumber string `json:"serial_number,omitempty"`
	Location     string `json:"location,omitempty"`
	Category     string `json:"category,omitempty"`
}

// EntityClass is the coarse grouping used for cache invalidation.
type EntityClass string

const (
	EntityClassWorkOrder EntityClass = "work_order"
	EntityClassEquipment EntityClass = "equipment"
)

// Class returns the coarse entity class an item type belongs to.
func (t ItemType) Class() EntityClass {
	switch t {
	case ItemTypeEquipmentCreate, ItemTypeEquipmentUpdate:
		return EntityClassEquipment
	default:
		return EntityClassWorkOrder
	}
}
