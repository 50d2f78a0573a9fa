// Package api defines the remote mutation API the sync core replays against.
//
// The core only needs success/failure per call plus a network-vs-application
// error classification; the interfaces here are the narrow create/update/
// status surface, and HTTPClient is the default implementation.
package api

import (
	"context"

	"github.com/fieldsync/fieldsync/internal/models"
)

// Client is the remote mutation API for all entity kinds the queue handles.
type Client interface {
	WorkOrderAPI
	EquipmentAPI
}

// WorkOrderAPI covers work order mutations and the reads conflict detection
// needs.
type WorkOrderAPI interface {
	CreateWorkOrder(ctx context.Context, form models.WorkOrderCreatePayload) (*models.WorkOrder, error)
	GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error)
	UpdateWorkOrder(ctx context.Context, id string, fields map[string]interface{}) (*models.WorkOrder, error)
	ChangeWorkOrderStatus(ctx context.Context, id, status string) (*models.WorkOrder, error)
	CreateWorkOrderNote(ctx context.Context, workOrderID, body string) (*models.Note, error)
}

// EquipmentAPI covers equipment mutations.
type EquipmentAPI interface {
	CreateEquipment(ctx context.Context, form models.EquipmentCreatePayload) (*models.Equipment, error)
	UpdateEquipment(ctx context.Context, id string, fields map[string]interface{}) (*models.Equipment, error)
}
