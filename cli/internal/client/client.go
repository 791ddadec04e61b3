// ABOUTME: HTTP client for the watcher control plane API
// ABOUTME: Wraps API calls with proper error handling for CLI usage

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/openstack/watcher-sub000/engine"
	"github.com/openstack/watcher-sub000/models"
	"github.com/openstack/watcher-sub000/pool"
)

// Client is the API client for the watcher control plane
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client with the given base URL
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// HealthResponse represents the /api/v1/health endpoint response
type HealthResponse struct {
	Status  string       `json:"status"`
	Uptime  string       `json:"uptime"`
	Workers []pool.Stats `json:"workers"`
}

// CreateAuditInput is the POST /api/v1/audits request body
type CreateAuditInput struct {
	Name            string            `json:"name,omitempty"`
	Type            models.AuditType  `json:"type,omitempty"`
	Strategy        string            `json:"strategy"`
	Parameters      map[string]any    `json:"parameters,omitempty"`
	Scope           models.AuditScope `json:"scope,omitempty"`
	IntervalSeconds int               `json:"interval_seconds,omitempty"`
	AutoTrigger     bool              `json:"auto_trigger,omitempty"`
	Trigger         bool              `json:"trigger,omitempty"`
}

// ActionPlanDetail is one plan with its actions and efficacy indicators
type ActionPlanDetail struct {
	models.ActionPlan
	Actions    []*models.Action            `json:"actions"`
	Indicators []*models.EfficacyIndicator `json:"efficacy_indicators,omitempty"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// Health calls GET /api/v1/health
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.get(ctx, "/api/v1/health", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// CreateAudit calls POST /api/v1/audits
func (c *Client) CreateAudit(ctx context.Context, input *CreateAuditInput) (*models.Audit, error) {
	var audit models.Audit
	if err := c.post(ctx, "/api/v1/audits", input, &audit); err != nil {
		return nil, err
	}
	return &audit, nil
}

// ListAudits calls GET /api/v1/audits
func (c *Client) ListAudits(ctx context.Context) ([]*models.Audit, error) {
	var listing struct {
		Audits []*models.Audit `json:"audits"`
	}
	if err := c.get(ctx, "/api/v1/audits", &listing); err != nil {
		return nil, err
	}
	return listing.Audits, nil
}

// GetAudit calls GET /api/v1/audits/{uuid}
func (c *Client) GetAudit(ctx context.Context, uuid string) (*models.Audit, error) {
	var audit models.Audit
	if err := c.get(ctx, "/api/v1/audits/"+url.PathEscape(uuid), &audit); err != nil {
		return nil, err
	}
	return &audit, nil
}

// TriggerAudit calls POST /api/v1/audits/{uuid}/trigger
func (c *Client) TriggerAudit(ctx context.Context, uuid string) error {
	return c.post(ctx, "/api/v1/audits/"+url.PathEscape(uuid)+"/trigger", nil, nil)
}

// DeleteAudit calls DELETE /api/v1/audits/{uuid}
func (c *Client) DeleteAudit(ctx context.Context, uuid string) error {
	return c.del(ctx, "/api/v1/audits/"+url.PathEscape(uuid))
}

// ListActionPlans calls GET /api/v1/action_plans, optionally filtered by audit
func (c *Client) ListActionPlans(ctx context.Context, auditUUID string) ([]*models.ActionPlan, error) {
	path := "/api/v1/action_plans"
	if auditUUID != "" {
		path += "?audit_uuid=" + url.QueryEscape(auditUUID)
	}
	var listing struct {
		ActionPlans []*models.ActionPlan `json:"action_plans"`
	}
	if err := c.get(ctx, path, &listing); err != nil {
		return nil, err
	}
	return listing.ActionPlans, nil
}

// GetActionPlan calls GET /api/v1/action_plans/{uuid}
func (c *Client) GetActionPlan(ctx context.Context, uuid string) (*ActionPlanDetail, error) {
	var detail ActionPlanDetail
	if err := c.get(ctx, "/api/v1/action_plans/"+url.PathEscape(uuid), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// LaunchActionPlan calls POST /api/v1/action_plans/{uuid}/launch
func (c *Client) LaunchActionPlan(ctx context.Context, uuid string) error {
	return c.post(ctx, "/api/v1/action_plans/"+url.PathEscape(uuid)+"/launch", nil, nil)
}

// CancelActionPlan calls POST /api/v1/action_plans/{uuid}/cancel
func (c *Client) CancelActionPlan(ctx context.Context, uuid string) error {
	return c.post(ctx, "/api/v1/action_plans/"+url.PathEscape(uuid)+"/cancel", nil, nil)
}

// DeleteActionPlan calls DELETE /api/v1/action_plans/{uuid}
func (c *Client) DeleteActionPlan(ctx context.Context, uuid string) error {
	return c.del(ctx, "/api/v1/action_plans/"+url.PathEscape(uuid))
}

// ListStrategies calls GET /api/v1/strategies
func (c *Client) ListStrategies(ctx context.Context) ([]*engine.StrategyInfo, error) {
	var listing struct {
		Strategies []*engine.StrategyInfo `json:"strategies"`
	}
	if err := c.get(ctx, "/api/v1/strategies", &listing); err != nil {
		return nil, err
	}
	return listing.Strategies, nil
}

// GetStrategy calls GET /api/v1/strategies/{name}
func (c *Client) GetStrategy(ctx context.Context, name string) (*engine.StrategyInfo, error) {
	var info engine.StrategyInfo
	if err := c.get(ctx, "/api/v1/strategies/"+url.PathEscape(name), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetDataModel calls GET /api/v1/data_model and returns the raw snapshot
func (c *Client) GetDataModel(ctx context.Context, modelType string) (json.RawMessage, error) {
	path := "/api/v1/data_model"
	if modelType != "" {
		path += "?type=" + url.QueryEscape(modelType)
	}
	var raw json.RawMessage
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal input: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) del(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.handleRequestError(req.Context(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid response from control plane: %w", err)
	}
	return nil
}

// handleRequestError converts context errors to user-friendly messages
func (c *Client) handleRequestError(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return fmt.Errorf("request canceled")
	}
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("request timed out")
	}
	return fmt.Errorf("cannot connect to control plane at %s: %w", c.baseURL, err)
}

// handleErrorResponse parses API error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return fmt.Errorf("control plane returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("control plane error: %s", errResp.Error)
}
