package ckdtsdk

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

// Client is a minimal ckdt HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Item struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	Observation string   `json:"observation,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	IsOptional  bool     `json:"is_optional"`
	IsCompleted bool     `json:"is_completed"`
}

type Section struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	IsOptional    bool   `json:"is_optional"`
	IsAlternative bool   `json:"is_alternative"`
	Items         []Item `json:"items"`
}

type Service struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Sections    []Section `json:"sections,omitempty"`
	UpdatedAt   string    `json:"updated_at,omitempty"`
}

// Summary mirrors the progress block of session and evaluate responses.
type Summary struct {
	Complete bool `json:"complete"`
	Progress struct {
		CompletedCount int     `json:"completed_count"`
		TotalCount     int     `json:"total_count"`
		Percentage     float64 `json:"percentage"`
	} `json:"progress"`
	Items struct {
		Completed int `json:"completed"`
		Total     int `json:"total"`
	} `json:"items"`
}

// Session is one checklist view held by the server.
type Session struct {
	ID        string  `json:"session_id"`
	Service   Service `json:"service"`
	Summary   Summary `json:"summary"`
	ExpiresAt string  `json:"expires_at,omitempty"`
}

// Event represents an audit entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/login", map[string]string{"email": email, "password": password}, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// Services lists the catalog. Empty arguments disable the filters.
func (c *Client) Services(ctx context.Context, category, query string) ([]Service, error) {
	v := url.Values{}
	if category != "" {
		v.Set("category", category)
	}
	if query != "" {
		v.Set("q", query)
	}
	endpoint := "services"
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	var resp []Service
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Service(ctx context.Context, id string) (Service, error) {
	var resp Service
	err := c.do(ctx, http.MethodGet, "services/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// OpenSession starts a checklist view with nothing checked.
func (c *Client) OpenSession(ctx context.Context, serviceID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("services/%s/sessions", url.PathEscape(serviceID)), nil, &resp)
	return resp, err
}

func (c *Client) Toggle(ctx context.Context, sessionID, sectionID, itemID string) (Session, error) {
	var resp Session
	body := map[string]string{"section_id": sectionID, "item_id": itemID}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("sessions/%s/toggle", url.PathEscape(sessionID)), body, &resp)
	return resp, err
}

func (c *Client) Reset(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("sessions/%s/reset", url.PathEscape(sessionID)), nil, &resp)
	return resp, err
}

func (c *Client) Leave(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "sessions/"+url.PathEscape(sessionID), nil, nil)
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	v := url.Values{}
	if limit > 0 {
		v.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		v.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
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
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
