package transitionsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Default per-request timeouts.
const (
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 20 * time.Second
)

// Client is a minimal Transition OS HTTP API client.
type Client struct {
	BaseURL      string
	BasePath     string
	APIKey       string
	ActorType    string
	ActorID      string
	HTTPClient   *http.Client
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:      baseURL,
		BasePath:     "/api",
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// Health is the liveness payload.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// Household represents a transition list entry (partial).
type Household struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	AdvisorID       int64    `json:"advisor_id"`
	AdvisorName     string   `json:"advisor_name"`
	Status          string   `json:"status"`
	ETADate         *string  `json:"eta_date,omitempty"`
	RiskScore       *float64 `json:"risk_score,omitempty"`
	OpenTasksCount  int      `json:"open_tasks_count"`
	NIGOIssuesCount int      `json:"nigo_issues_count"`
	AccountsCount   int      `json:"accounts_count"`
	ProgressPercent float64  `json:"progress_percent"`
}

// Task represents the API task model (partial).
type Task struct {
	ID          int64   `json:"id"`
	WorkflowID  *int64  `json:"workflow_id,omitempty"`
	HouseholdID *int64  `json:"household_id,omitempty"`
	Name        string  `json:"name"`
	OwnerRole   string  `json:"owner_role"`
	Status      string  `json:"status"`
	Priority    int     `json:"priority"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// AuditEvent represents an audit trail entry.
type AuditEvent struct {
	ID         int64          `json:"id"`
	CreatedAt  string         `json:"created_at"`
	ActorType  string         `json:"actor_type"`
	ActorID    string         `json:"actor_id"`
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedAuditEvents wraps list responses with cursors.
type PaginatedAuditEvents struct {
	Items      []AuditEvent `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// TransitionFilters narrow ListTransitions.
type TransitionFilters struct {
	AdvisorID string
	Status    string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health calls the liveness probe.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "/health/live", nil, &resp)
	return resp, err
}

// ListTransitions lists households in presentation order.
func (c *Client) ListTransitions(ctx context.Context, f TransitionFilters) ([]Household, error) {
	var resp []Household
	err := c.do(ctx, http.MethodGet, c.apiPath("transitions")+transitionQuery(f), nil, &resp)
	return resp, err
}

// ListTransitionsRaw is ListTransitions without decoding.
func (c *Client) ListTransitionsRaw(ctx context.Context, f TransitionFilters) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodGet, c.apiPath("transitions")+transitionQuery(f), nil, &resp)
	return resp, err
}

// GetTransition returns the household detail document.
func (c *Client) GetTransition(ctx context.Context, householdID string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodGet, c.apiPath("transitions/"+url.PathEscape(householdID)), nil, &resp)
	return resp, err
}

// CreateWorkflow starts a workflow. The payload is forwarded as is.
func (c *Client) CreateWorkflow(ctx context.Context, payload any) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodPost, c.apiPath("workflows"), payload, &resp)
	return resp, err
}

// GetWorkflow returns the workflow dashboard.
func (c *Client) GetWorkflow(ctx context.Context, workflowID string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodGet, c.apiPath("workflows/"+url.PathEscape(workflowID)), nil, &resp)
	return resp, err
}

// CompleteTask marks a task COMPLETED.
func (c *Client) CompleteTask(ctx context.Context, taskID, note string) (Task, error) {
	body := map[string]any{
		"status": "COMPLETED",
		"note":   note,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.apiPath("tasks/"+url.PathEscape(taskID)+"/complete"), body, &resp)
	return resp, err
}

// ValidateDocument asks the capability provider to check a document.
func (c *Client) ValidateDocument(ctx context.Context, documentID string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodPost, c.apiPath("documents/"+url.PathEscape(documentID)+"/validate"), nil, &resp)
	return resp, err
}

// MeetingPack requests a meeting pack for the household.
func (c *Client) MeetingPack(ctx context.Context, householdID string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodGet, c.apiPath("households/"+url.PathEscape(householdID)+"/meeting-pack"), nil, &resp)
	return resp, err
}

// PredictETA requests a completion prediction for the household.
func (c *Client) PredictETA(ctx context.Context, householdID string) (json.RawMessage, error) {
	var resp json.RawMessage
	err := c.do(ctx, http.MethodGet, c.apiPath("predictions/eta/"+url.PathEscape(householdID)), nil, &resp)
	return resp, err
}

// AuditEventsPage returns one page of audit events, newest first.
func (c *Client) AuditEventsPage(ctx context.Context, limit int, cursor string) (PaginatedAuditEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.apiPath("audit-events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedAuditEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	timeout := c.ReadTimeout
	if method != http.MethodGet {
		timeout = c.WriteTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	} else if method != http.MethodGet {
		buf.WriteString("{}")
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.ActorType != "" {
		req.Header.Set("X-Actor-Type", c.ActorType)
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		return strings.TrimLeft(p, "/")
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func transitionQuery(f TransitionFilters) string {
	q := url.Values{}
	if f.AdvisorID != "" {
		q.Set("advisor_id", f.AdvisorID)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
