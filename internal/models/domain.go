// Package models provides data model definitions for FieldSync Core.
package models

// WorkOrder is the remote system of record's view of a work order. Only the
// fields the sync core needs for conflict merges are modeled here.
type WorkOrder struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Priority    string                 `json:"priority,omitempty"`
	Status      string                 `json:"status"`
	EquipmentID string                 `json:"equipment_id,omitempty"`
	AssigneeID  string                 `json:"assignee_id,omitempty"`
	UpdatedAt   string                 `json:"updated_at"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
}

// Terminal work order statuses. A queued status change never overrides a
// terminal server-side status.
const (
	WorkOrderStatusCompleted = "completed"
	WorkOrderStatusCancelled = "cancelled"
)

// IsTerminalStatus reports whether a work order status is terminal.
func IsTerminalStatus(status string) bool {
	return status == WorkOrderStatusCompleted || status == WorkOrderStatusCancelled
}

// Equipment is the remote system of record's view of an equipment record.
type Equipment struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	SerialNumber string `json:"serial_number,omitempty"`
	Location     string `json:"location,omitempty"`
	Category     string `json:"category,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

// Note is an appended work order note.
type Note struct {
	ID          string `json:"id"`
	WorkOrderID string `json:"work_order_id"`
	Body        string `json:"body"`
	CreatedAt   string `json:"created_at"`
}
