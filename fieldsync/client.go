// Copyright 2025 The nearcar-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jinsangpil/nearcar-fieldsync/internal/auth"
)

// RemoteAPI is the narrow surface of the marketplace backend that the
// offline layer consumes. Read calls return the raw JSON response body so
// snapshots stay byte-faithful to what the server sent; write calls return
// only an error, classified as network-class or application-class.
type RemoteAPI interface {
	GetDashboardStats(ctx context.Context) (json.RawMessage, error)
	GetMyInspections(ctx context.Context) (json.RawMessage, error)
	GetAssignments(ctx context.Context) (json.RawMessage, error)
	SaveChecklist(ctx context.Context, inspectionID string, checklist json.RawMessage) error
	UpdateInspectionStatus(ctx context.Context, inspectionID, newStatus string) error
	AcceptAssignment(ctx context.Context, inspectionID string) error
	RejectAssignment(ctx context.Context, inspectionID, reason string) error
}

// APIClient is the HTTP implementation of RemoteAPI.
type APIClient struct {
	BaseURL string
	Token   TokenSource // returns the bearer JWT for each request
	HTTP    *http.Client
	logger  *slog.Logger
}

// apiErrorBody is the backend's error response shape.
type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewAPIClient creates a client for the marketplace backend at baseURL.
func NewAPIClient(baseURL string, token TokenSource, logger *slog.Logger) *APIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIClient{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

func (c *APIClient) GetDashboardStats(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/inspector/dashboard/stats", nil)
}

func (c *APIClient) GetMyInspections(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/inspector/inspections", nil)
}

func (c *APIClient) GetAssignments(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/inspector/assignments", nil)
}

func (c *APIClient) SaveChecklist(ctx context.Context, inspectionID string, checklist json.RawMessage) error {
	path := fmt.Sprintf("/api/inspector/inspections/%s/checklist", url.PathEscape(inspectionID))
	_, err := c.do(ctx, http.MethodPut, path, checklist)
	return err
}

func (c *APIClient) UpdateInspectionStatus(ctx context.Context, inspectionID, newStatus string) error {
	body, err := json.Marshal(statusUpdateBody{Status: newStatus})
	if err != nil {
		return fmt.Errorf("failed to marshal status update: %w", err)
	}
	path := fmt.Sprintf("/api/inspector/inspections/%s/status", url.PathEscape(inspectionID))
	_, err = c.do(ctx, http.MethodPatch, path, body)
	return err
}

func (c *APIClient) AcceptAssignment(ctx context.Context, inspectionID string) error {
	path := fmt.Sprintf("/api/inspector/assignments/%s/accept", url.PathEscape(inspectionID))
	_, err := c.do(ctx, http.MethodPost, path, nil)
	return err
}

func (c *APIClient) RejectAssignment(ctx context.Context, inspectionID, reason string) error {
	body, err := json.Marshal(rejectBody{Reason: reason})
	if err != nil {
		return fmt.Errorf("failed to marshal rejection: %w", err)
	}
	path := fmt.Sprintf("/api/inspector/assignments/%s/reject", url.PathEscape(inspectionID))
	_, err = c.do(ctx, http.MethodPost, path, body)
	return err
}

// do performs one request and classifies the outcome. A transport failure
// becomes a *NetworkError; a non-2xx response becomes a *NetworkError for
// proxy-level statuses (the request never reached the application) and a
// *ApplicationError otherwise.
func (c *APIClient) do(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != nil {
		token, err := c.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if inspectorID, ok := auth.GetInspectorID(ctx); ok {
		req.Header.Set("X-Inspector-Id", inspectorID)
	}
	if deviceID, ok := auth.GetDeviceID(ctx); ok {
		req.Header.Set("X-Device-Id", deviceID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}
	if statusIsNetworkClass(resp.StatusCode) {
		return nil, &NetworkError{Err: fmt.Errorf("server returned status %d", resp.StatusCode)}
	}

	appErr := &ApplicationError{StatusCode: resp.StatusCode}
	var parsed apiErrorBody
	if err := json.Unmarshal(respBody, &parsed); err == nil {
		appErr.Code = parsed.Code
		appErr.Message = parsed.Message
	} else {
		appErr.Message = string(respBody)
	}
	c.logger.Debug("request rejected by server",
		"method", method, "path", path, "status", resp.StatusCode, "code", appErr.Code)
	return nil, appErr
}
