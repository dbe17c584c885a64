package desklinesdk

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

// Client is a minimal Deskline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client for the API mounted under /v0.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  30 * time.Second,
	}
}

// Field is a ticket metadata field definition.
type Field struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ValueKind   string `json:"value_kind"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Ticket represents the API ticket model (partial).
type Ticket struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Status     string   `json:"status"`
	Priority   string   `json:"priority"`
	AssigneeID *string  `json:"assignee_id,omitempty"`
	TeamID     *string  `json:"team_id,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

type User struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	Role       string  `json:"role"`
	IsTeamLead bool    `json:"is_team_lead"`
	TeamID     *string `json:"team_id,omitempty"`
	TeamName   string  `json:"team_name,omitempty"`
}

// Selection mirrors a session's bulk selection state.
type Selection struct {
	Selected    []string `json:"selected"`
	Pending     string   `json:"pending"`
	TargetTeam  string   `json:"target_team,omitempty"`
	Deleting    bool     `json:"deleting"`
	Reassigning bool     `json:"reassigning"`
}

type Filter struct {
	FieldID   string          `json:"field_id"`
	FieldName string          `json:"field_name"`
	ValueKind string          `json:"value_kind"`
	Operator  string          `json:"operator"`
	Value     json.RawMessage `json:"value"`
}

type Session struct {
	ID             string    `json:"id"`
	FiltersEnabled bool      `json:"filters_enabled"`
	Filters        []Filter  `json:"filters"`
	Users          Selection `json:"users"`
	Tickets        Selection `json:"tickets"`
}

// Person is one row of a command result.
type Person struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role,omitempty"`
	IsTeamLead *bool  `json:"is_team_lead,omitempty"`
	Team       string `json:"team,omitempty"`
	Delete     bool   `json:"delete,omitempty"`
	Reassign   bool   `json:"reassign,omitempty"`
	TargetTeam string `json:"targetTeam,omitempty"`
}

type CommandResult struct {
	Kind       string   `json:"kind"`
	Subjects   []Person `json:"subjects"`
	TargetTeam string   `json:"target_team,omitempty"`
	Text       string   `json:"text,omitempty"`
	Ambiguous  bool     `json:"ambiguous,omitempty"`
}

type TraceEntry struct {
	Type      string          `json:"type"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// SessionCommand is the answer to a command run inside a session.
type SessionCommand struct {
	Command struct {
		Input       string        `json:"input"`
		Output      string        `json:"output"`
		Description string        `json:"description"`
		Result      CommandResult `json:"result"`
		Trace       []TraceEntry  `json:"trace"`
	} `json:"command"`
	Users Selection `json:"users"`
}

type Outcome struct {
	Action     string   `json:"action"`
	IDs        []string `json:"ids"`
	TargetTeam string   `json:"target_team,omitempty"`
}

// LLMCommand is the /llm-command response.
type LLMCommand struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Description string `json:"description"`
	Metadata    struct {
		ProcessedAt      string `json:"processedAt"`
		ProcessingTimeMS int64  `json:"processingTimeMs"`
	} `json:"metadata"`
	Trace []TraceEntry `json:"trace"`
}

// APIError wraps non-2xx responses. Code and Message are filled from the
// error envelope when the body carries one.
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

// PaginatedTickets wraps ticket listings with a cursor.
type PaginatedTickets struct {
	Items      []Ticket `json:"items"`
	NextCursor string   `json:"next_cursor"`
}

func (c *Client) ListFields(ctx context.Context) ([]Field, error) {
	var resp []Field
	err := c.do(ctx, http.MethodGet, c.apiPath("fields"), nil, &resp)
	return resp, err
}

func (c *Client) CreateField(ctx context.Context, name, valueKind, description string) (Field, error) {
	body := map[string]any{"name": name, "value_kind": valueKind}
	if description != "" {
		body["description"] = description
	}
	var resp Field
	err := c.do(ctx, http.MethodPost, c.apiPath("fields"), body, &resp)
	return resp, err
}

// DeleteField removes a field and every value recorded for it.
func (c *Client) DeleteField(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.apiPath("fields/"+url.PathEscape(id)), nil, nil)
}

func (c *Client) CreateTicket(ctx context.Context, title string) (Ticket, error) {
	var resp Ticket
	err := c.do(ctx, http.MethodPost, c.apiPath("tickets"), map[string]any{"title": title}, &resp)
	return resp, err
}

// SetTicketValue records a metadata value; value must match the field's kind.
func (c *Client) SetTicketValue(ctx context.Context, ticketID, fieldID string, value any) error {
	endpoint := c.apiPath(fmt.Sprintf("tickets/%s/metadata/%s", url.PathEscape(ticketID), url.PathEscape(fieldID)))
	return c.do(ctx, http.MethodPut, endpoint, map[string]any{"value": value}, nil)
}

// TicketsPage lists tickets. A non-empty sessionID applies that session's
// enabled filters.
func (c *Client) TicketsPage(ctx context.Context, sessionID string, limit int, cursor string) (PaginatedTickets, error) {
	q := url.Values{}
	if sessionID != "" {
		q.Set("session_id", sessionID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.apiPath("tickets")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedTickets
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) ListUsers(ctx context.Context, teamID string) ([]User, error) {
	endpoint := c.apiPath("users")
	if teamID != "" {
		endpoint += "?team_id=" + url.QueryEscape(teamID)
	}
	var resp []User
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) OpenSession(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.apiPath("sessions"), nil, &resp)
	return resp, err
}

func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.sessionPath(id, ""), nil, nil)
}

func (c *Client) SetFilter(ctx context.Context, sessionID, fieldID string, value any) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPut, c.sessionPath(sessionID, "filters/"+url.PathEscape(fieldID)), map[string]any{"value": value}, &resp)
	return resp, err
}

func (c *Client) SetFiltersEnabled(ctx context.Context, sessionID string, enabled bool) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPut, c.sessionPath(sessionID, "filters-enabled"), map[string]any{"enabled": enabled}, &resp)
	return resp, err
}

// Command runs a free-text command in a session. Proposed actions are left
// pending on the users selection until Confirm or Cancel.
func (c *Client) Command(ctx context.Context, sessionID, text string) (SessionCommand, error) {
	var resp SessionCommand
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "command"), map[string]any{"text": text}, &resp)
	return resp, err
}

// Confirm runs the pending action on a selection scope ("users" or "tickets").
func (c *Client) Confirm(ctx context.Context, sessionID, scope string) (Outcome, error) {
	var resp struct {
		Outcome Outcome `json:"outcome"`
	}
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "selection/"+url.PathEscape(scope)+"/confirm"), nil, &resp)
	return resp.Outcome, err
}

func (c *Client) Cancel(ctx context.Context, sessionID, scope string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "selection/"+url.PathEscape(scope)+"/cancel"), nil, &resp)
	return resp, err
}

// LLMCommand calls the stateless /llm-command endpoint. It needs a bearer
// token; API keys are not accepted there.
func (c *Client) LLMCommand(ctx context.Context, text string) (LLMCommand, error) {
	var resp LLMCommand
	err := c.do(ctx, http.MethodPost, "llm-command", map[string]any{"text": text}, &resp)
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
		return newAPIError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// newAPIError understands both the API envelope {error:{code,message}} and
// the /llm-command shape {error:"..."}.
func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &envelope) != nil || len(envelope.Error) == 0 {
		return e
	}
	var detail struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(envelope.Error, &detail) == nil {
		e.Code, e.Message = detail.Code, detail.Message
		return e
	}
	var msg string
	if json.Unmarshal(envelope.Error, &msg) == nil {
		e.Message = msg
	}
	return e
}

func (c *Client) apiPath(p string) string {
	return strings.Trim(c.BasePath, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) sessionPath(id, p string) string {
	path := c.apiPath("sessions/" + url.PathEscape(id))
	if p != "" {
		path += "/" + p
	}
	return path
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
