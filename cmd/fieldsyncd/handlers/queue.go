// Package handlers provides the daemon's HTTP handlers for queue inspection,
// replay control, and routed domain mutations.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fieldsync/fieldsync/internal/connectivity"
	fserrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/queue"
	"github.com/fieldsync/fieldsync/internal/replay"
	"github.com/fieldsync/fieldsync/internal/router"
)

// ReplayTrigger runs replay synchronously and reports the last run.
type ReplayTrigger interface {
	RunNow(ctx context.Context) (result *replay.Result, ran bool, err error)
	LastResult() (*replay.Result, time.Time)
}

// Handler serves the daemon's control and mutation endpoints for one
// (user, organization) partition.
type Handler struct {
	store  *queue.Store
	router *router.Router
	replay ReplayTrigger
	online connectivity.Signal
}

// New creates a Handler.
func New(store *queue.Store, rt *router.Router, replay ReplayTrigger, online connectivity.Signal) *Handler {
	return &Handler{
		store:  store,
		router: rt,
		replay: replay,
		online: online,
	}
}

// Register attaches all routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /queue/status", h.QueueStatus)
	mux.HandleFunc("POST /queue/retry-failed", h.RetryFailed)
	mux.HandleFunc("POST /queue/clear", h.ClearQueue)
	mux.HandleFunc("POST /sync/now", h.SyncNow)

	mux.HandleFunc("POST /workorders", h.CreateWorkOrder)
	mux.HandleFunc("PATCH /workorders/{id}", h.UpdateWorkOrder)
	mux.HandleFunc("POST /workorders/{id}/status", h.ChangeWorkOrderStatus)
	mux.HandleFunc("POST /workorders/{id}/notes", h.AddWorkOrderNote)
	mux.HandleFunc("POST /equipment", h.CreateEquipment)
	mux.HandleFunc("PATCH /equipment/{id}", h.UpdateEquipment)
}

// QueueStatus handles GET /queue/status.
func (h *Handler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"user_id":         h.store.UserID(),
		"organization_id": h.store.OrganizationID(),
		"online":          h.online.Online(),
		"counts":          h.store.Stats(),
	}

	if result, at := h.replay.LastResult(); result != nil {
		response["last_replay"] = map[string]interface{}{
			"at":        at.Unix(),
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
			"remaining": result.Remaining,
			"conflicts": len(result.Conflicts),
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// RetryFailed handles POST /queue/retry-failed. Failed items go back to
// pending with a fresh retry budget.
func (h *Handler) RetryFailed(w http.ResponseWriter, r *http.Request) {
	retried, err := h.store.RetryFailedItems()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"retried": retried})
}

// ClearQueue handles POST /queue/clear. Every queued mutation is discarded.
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

// SyncNow handles POST /sync/now: one synchronous replay run.
func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	if !h.online.Online() {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "device is offline",
		})
		return
	}

	result, ran, err := h.replay.RunNow(r.Context())
	if !ran {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error": "a replay run is already in progress",
		})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":     err.Error(),
			"code":      string(fserrors.CodeOf(err)),
			"remaining": result.Remaining,
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeJSON encodes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps an error to an HTTP status by its code class.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case fserrors.IsAdmissionError(err):
		status = http.StatusUnprocessableEntity
	case fserrors.Is(err, fserrors.ErrPermissionDenied):
		status = http.StatusForbidden
	case fserrors.Is(err, fserrors.ErrValidationFailed):
		status = http.StatusBadRequest
	case fserrors.Is(err, fserrors.ErrInvalid):
		status = http.StatusBadRequest
	}

	writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  string(fserrors.CodeOf(err)),
	})
}
