package sitelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Siteline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Record represents the API record model.
type Record struct {
	ID               string   `json:"id"`
	ProjectID        string   `json:"project_id"`
	Kind             string   `json:"kind"`
	ReportNumber     string   `json:"report_number"`
	Title            string   `json:"title"`
	Description      string   `json:"description,omitempty"`
	Status           string   `json:"status"`
	CreatorActorID   string   `json:"creator_actor_id"`
	OrganizerActorID string   `json:"organizer_actor_id,omitempty"`
	AssignedActorIDs []string `json:"assigned_actor_ids"`
	PlannedCloseDate string   `json:"planned_close_date,omitempty"`
	ClosedAt         string   `json:"closed_at,omitempty"`
	Closure          string   `json:"closure,omitempty"`
	RejectionReason  string   `json:"rejection_reason,omitempty"`
	Version          int      `json:"version"`
	CreatedAt        string   `json:"created_at"`
	UpdatedAt        string   `json:"updated_at"`
}

// WorkLogEntry is one record diary entry.
type WorkLogEntry struct {
	ID        string `json:"id"`
	RecordID  string `json:"record_id"`
	ActorID   string `json:"actor_id"`
	Kind      string `json:"kind"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// PendingCounts is a per-kind tally of records awaiting the caller.
type PendingCounts struct {
	Observation int `json:"observation"`
	Training    int `json:"training"`
	Task        int `json:"task"`
	Total       int `json:"total"`
}

// Me describes the authenticated actor's standing in a project.
type Me struct {
	ActorID      string   `json:"actor_id"`
	GlobalRole   string   `json:"global_role,omitempty"`
	ProjectID    string   `json:"project_id,omitempty"`
	ProjectOwner bool     `json:"project_owner"`
	Capabilities []string `json:"capabilities"`
}

// APIError wraps non-2xx responses. Code and Message come from the
// server's error envelope when it can be decoded.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedRecords wraps record listings with cursors.
type PaginatedRecords struct {
	Items      []Record `json:"items"`
	NextCursor string   `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateRecordOptions carries the optional fields of record creation.
type CreateRecordOptions struct {
	Description      string
	OrganizerActorID string
	AssignedActorIDs []string
	PlannedCloseDate string
}

// CreateRecord creates a record of the given kind.
func (c *Client) CreateRecord(ctx context.Context, kind, title string, opts CreateRecordOptions) (Record, error) {
	body := map[string]any{
		"kind":  kind,
		"title": title,
	}
	if opts.Description != "" {
		body["description"] = opts.Description
	}
	if opts.OrganizerActorID != "" {
		body["organizer_actor_id"] = opts.OrganizerActorID
	}
	if len(opts.AssignedActorIDs) > 0 {
		body["assigned_actor_ids"] = opts.AssignedActorIDs
	}
	if opts.PlannedCloseDate != "" {
		body["planned_close_date"] = opts.PlannedCloseDate
	}
	var resp Record
	err := c.do(ctx, http.MethodPost, c.projectPath("records"), body, &resp)
	return resp, err
}

// GetRecord fetches a record by id.
func (c *Client) GetRecord(ctx context.Context, id string) (Record, error) {
	var resp Record
	endpoint := c.projectPath(fmt.Sprintf("records/%s", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListRecords returns a page of records, optionally filtered by kind and status.
func (c *Client) ListRecords(ctx context.Context, kind, status string, limit int, cursor string) (PaginatedRecords, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", kind)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("records")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedRecords
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition applies a lifecycle action to a record. Description feeds the
// work log on submit actions; reason is required by reject.
func (c *Client) Transition(ctx context.Context, recordID, action, description, reason string) (Record, error) {
	body := map[string]any{"action": action}
	if description != "" {
		body["description"] = description
	}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Record
	endpoint := c.projectPath(fmt.Sprintf("records/%s/transitions", url.PathEscape(recordID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Actions lists the lifecycle actions the caller may take on a record.
func (c *Client) Actions(ctx context.Context, recordID string) ([]string, error) {
	var resp struct {
		Actions []string `json:"actions"`
	}
	endpoint := c.projectPath(fmt.Sprintf("records/%s/actions", url.PathEscape(recordID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Actions, err
}

// WorkLog returns a record's work log entries.
func (c *Client) WorkLog(ctx context.Context, recordID string) ([]WorkLogEntry, error) {
	var resp struct {
		Items []WorkLogEntry `json:"items"`
	}
	endpoint := c.projectPath(fmt.Sprintf("records/%s/worklog", url.PathEscape(recordID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Pending lists records currently awaiting the caller's action.
func (c *Client) Pending(ctx context.Context) ([]Record, error) {
	var resp struct {
		Items []Record `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.projectPath("pending"), nil, &resp)
	return resp.Items, err
}

// PendingCounts returns the caller's per-kind pending tally.
func (c *Client) PendingCounts(ctx context.Context) (PendingCounts, error) {
	var resp PendingCounts
	err := c.do(ctx, http.MethodGet, c.projectPath("pending/counts"), nil, &resp)
	return resp, err
}

// Me returns the authenticated actor's role and capabilities.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	endpoint := "v0/me"
	if c.ProjectID != "" {
		endpoint += "?project_id=" + url.QueryEscape(c.ProjectID)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
