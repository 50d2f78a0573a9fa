package handlers

import (
	"encoding/json"
	"net/http"

	fserrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/models"
	"github.com/fieldsync/fieldsync/internal/router"
)

// updateRequest is the wire form of a partial update. The entity id comes
// from the URL path.
type updateRequest struct {
	Fields          map[string]interface{} `json:"fields"`
	ChangedFields   []string               `json:"changed_fields,omitempty"`
	ServerSnapshot  map[string]interface{} `json:"server_snapshot,omitempty"`
	ServerUpdatedAt string                 `json:"server_updated_at,omitempty"`
}

// CreateWorkOrder handles POST /workorders.
func (h *Handler) CreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	var form models.WorkOrderCreatePayload
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, fserrors.Wrap(fserrors.ErrInvalid, "invalid request body", err))
		return
	}
	if form.Title == "" {
		writeError(w, fserrors.New(fserrors.ErrInvalid, "title is required"))
		return
	}

	result, err := h.router.CreateWorkOrder(r.Context(), form)
	h.writeRouted(w, result, err)
}

// UpdateWorkOrder handles PATCH /workorders/{id}.
func (h *Handler) UpdateWorkOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeUpdate(w, r)
	if !ok {
		return
	}

	result, err := h.router.UpdateWorkOrder(r.Context(), req)
	h.writeRouted(w, result, err)
}

// ChangeWorkOrderStatus handles POST /workorders/{id}/status.
func (h *Handler) ChangeWorkOrderStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status          string `json:"status"`
		ServerUpdatedAt string `json:"server_updated_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fserrors.Wrap(fserrors.ErrInvalid, "invalid request body", err))
		return
	}
	if body.Status == "" {
		writeError(w, fserrors.New(fserrors.ErrInvalid, "status is required"))
		return
	}

	result, err := h.router.ChangeWorkOrderStatus(r.Context(), r.PathValue("id"), body.Status, body.ServerUpdatedAt)
	h.writeRouted(w, result, err)
}

// AddWorkOrderNote handles POST /workorders/{id}/notes.
func (h *Handler) AddWorkOrderNote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fserrors.Wrap(fserrors.ErrInvalid, "invalid request body", err))
		return
	}
	if body.Body == "" {
		writeError(w, fserrors.New(fserrors.ErrInvalid, "body is required"))
		return
	}

	result, err := h.router.AddWorkOrderNote(r.Context(), r.PathValue("id"), body.Body)
	h.writeRouted(w, result, err)
}

// CreateEquipment handles POST /equipment.
func (h *Handler) CreateEquipment(w http.ResponseWriter, r *http.Request) {
	var form models.EquipmentCreatePayload
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, fserrors.Wrap(fserrors.ErrInvalid, "invalid request body", err))
		return
	}
	if form.Name == "" {
		writeError(w, fserrors.New(fserrors.ErrInvalid, "name is required"))
		return
	}

	result, err := h.router.CreateEquipment(r.Context(), form)
	h.writeRouted(w, result, err)
}

// UpdateEquipment handles PATCH /equipment/{id}.
func (h *Handler) UpdateEquipment(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeUpdate(w, r)
	if !ok {
		return
	}

	result, err := h.router.UpdateEquipment(r.Context(), req)
	h.writeRouted(w, result, err)
}

// decodeUpdate parses an update body and the path id into a router request.
func (h *Handler) decodeUpdate(w http.ResponseWriter, r *http.Request) (router.UpdateRequest, bool) {
	var body updateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fserrors.Wrap(fserrors.ErrInvalid, "invalid request body", err))
		return router.UpdateRequest{}, false
	}
	if len(body.Fields) == 0 {
		writeError(w, fserrors.New(fserrors.ErrInvalid, "fields is required"))
		return router.UpdateRequest{}, false
	}

	return router.UpdateRequest{
		EntityID:        r.PathValue("id"),
		Fields:          body.Fields,
		ChangedFields:   body.ChangedFields,
		ServerSnapshot:  body.ServerSnapshot,
		ServerUpdatedAt: body.ServerUpdatedAt,
	}, true
}

// writeRouted encodes a routed mutation outcome. A queued mutation is
// accepted, not completed, so it answers 202 with the queue item id.
func (h *Handler) writeRouted(w http.ResponseWriter, result *router.CallResult, err error) {
	if err != nil {
		writeError(w, err)
		return
	}

	if result.QueuedOffline {
		writeJSON(w, http.StatusAccepted, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
