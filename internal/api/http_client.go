// Package api defines the remote mutation API the sync core replays against.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	fserrors "github.com/fieldsync/fieldsync/internal/errors"
	"github.com/fieldsync/fieldsync/internal/models"
)

// TokenSource supplies the bearer token attached to remote calls.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// HTTPConfig holds remote API connection configuration.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPClient implements Client over the field-service REST API.
type HTTPClient struct {
	config     HTTPConfig
	tokens     TokenSource
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTPClient.
func NewHTTPClient(config HTTPConfig, tokens TokenSource) *HTTPClient {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		config: config,
		tokens: tokens,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// CreateWorkOrder implements WorkOrderAPI.
func (c *HTTPClient) CreateWorkOrder(ctx context.Context, form models.WorkOrderCreatePayload) (*models.WorkOrder, error) {
	var out models.WorkOrder
	if err := c.do(ctx, http.MethodPost, "/work-orders", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetWorkOrder implements WorkOrderAPI.
func (c *HTTPClient) GetWorkOrder(ctx context.Context, id string) (*models.WorkOrder, error) {
	var out models.WorkOrder
	if err := c.do(ctx, http.MethodGet, "/work-orders/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateWorkOrder implements WorkOrderAPI.
func (c *HTTPClient) UpdateWorkOrder(ctx context.Context, id string, fields map[string]interface{}) (*models.WorkOrder, error) {
	var out models.WorkOrder
	if err := c.do(ctx, http.MethodPatch, "/work-orders/"+id, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangeWorkOrderStatus implements WorkOrderAPI.
func (c *HTTPClient) ChangeWorkOrderStatus(ctx context.Context, id, status string) (*models.WorkOrder, error) {
	var out models.WorkOrder
	body := map[string]string{"status": status}
	if err := c.do(ctx, http.MethodPost, "/work-orders/"+id+"/status", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateWorkOrderNote implements WorkOrderAPI.
func (c *HTTPClient) CreateWorkOrderNote(ctx context.Context, workOrderID, body string) (*models.Note, error) {
	var out models.Note
	payload := map[string]string{"body": body}
	if err := c.do(ctx, http.MethodPost, "/work-orders/"+workOrderID+"/notes", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateEquipment implements EquipmentAPI.
func (c *HTTPClient) CreateEquipment(ctx context.Context, form models.EquipmentCreatePayload) (*models.Equipment, error) {
	var out models.Equipment
	if err := c.do(ctx, http.MethodPost, "/equipment", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateEquipment implements EquipmentAPI.
func (c *HTTPClient) UpdateEquipment(ctx context.Context, id string, fields map[string]interface{}) (*models.Equipment, error) {
	var out models.Equipment
	if err := c.do(ctx, http.MethodPatch, "/equipment/"+id, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// apiError is the error envelope the field-service API returns.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do executes one JSON request and classifies the failure mode: transport
// failures and 5xx/429 responses are network-class (retryable offline),
// other non-2xx responses are application-class and must never be queued.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fserrors.Wrap(fserrors.ErrInvalid, "failed to serialize request body", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return fserrors.Wrap(fserrors.ErrInvalid, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fserrors.Wrap(fserrors.ErrNetwork, "remote call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fserrors.Wrap(fserrors.ErrInternal, "failed to decode response", err)
		}
		return nil
	}

	msg := readErrorMessage(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fserrors.New(fserrors.ErrPermissionDenied, msg)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fserrors.New(fserrors.ErrNetwork,
			fmt.Sprintf("server unavailable (status %d): %s", resp.StatusCode, msg))
	default:
		return fserrors.New(fserrors.ErrValidationFailed, msg)
	}
}

// readErrorMessage extracts the error message from a non-2xx response body.
func readErrorMessage(resp *http.Response) string {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(raw) == 0 {
		return fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}

	var envelope apiError
	if err := json.Unmarshal(raw, &envelope); err == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Error != "" {
			return envelope.Error
		}
	}
	return string(raw)
}
