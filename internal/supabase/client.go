// Package supabase implements the chat and guestbook stores against a
// hosted Supabase project: PostgREST for rows, Edge Functions for answer
// delivery and Realtime for the live feed.
package supabase

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

	"github.com/user/memorial/internal/types"
)

const (
	chatTable    = "n8n_chat_histories"
	sourceTable  = "sources"
	tributeTable = "replies"

	sendFunction = "send-chat-message"
)

// Client talks to one Supabase project.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	httpClient *http.Client
}

var (
	_ types.TurnStore    = (*Client)(nil)
	_ types.SourceStore  = (*Client)(nil)
	_ types.Answerer     = (*Client)(nil)
	_ types.TributeStore = (*Client)(nil)
)

type ClientOption func(*Client)

// WithServiceKey authenticates writes with the service role key.
func WithServiceKey(key string) ClientOption {
	return func(c *Client) { c.serviceKey = key }
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the project at baseURL.
func NewClient(baseURL, anonKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx response from PostgREST or an Edge Function.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("supabase: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("supabase: status %d: %s", e.StatusCode, e.Body)
}

type request struct {
	method string
	path   string
	query  url.Values
	body   any
	prefer string
	useKey string
}

func (c *Client) do(ctx context.Context, r request, out any) (http.Header, error) {
	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	key := r.useKey
	if key == "" {
		key = c.anonKey
	}
	req.Header.Set("apikey", key)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		var detail struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(respBody, &detail) == nil {
			apiErr.Code = detail.Code
			apiErr.Message = detail.Message
			if apiErr.Message == "" {
				apiErr.Message = detail.Error
			}
		}
		return resp.Header, apiErr
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.Header, fmt.Errorf("parsing response: %w", err)
		}
	}
	return resp.Header, nil
}

// writeKey prefers the service role key for inserts.
func (c *Client) writeKey() string {
	if c.serviceKey != "" {
		return c.serviceKey
	}
	return c.anonKey
}

func (c *Client) ListTurns(ctx context.Context, sessionID types.SessionID) ([]types.StoredTurn, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("session_id", "eq."+string(sessionID))
	q.Set("order", "id.asc")

	var rows []types.StoredTurn
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/rest/v1/" + chatTable, query: q}, &rows); err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	return rows, nil
}

func (c *Client) AppendTurn(ctx context.Context, sessionID types.SessionID, message json.RawMessage) (*types.StoredTurn, error) {
	row := map[string]any{"session_id": sessionID, "message": message}
	var rows []types.StoredTurn
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/rest/v1/" + chatTable,
		body:   row,
		prefer: "return=representation",
		useKey: c.writeKey(),
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("append turn: empty representation")
	}
	return &rows[0], nil
}

func (c *Client) ListSources(ctx context.Context, notebookID types.NotebookID) ([]types.Source, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("notebook_id", "eq."+string(notebookID))
	q.Set("order", "created_at.desc")

	var rows []types.Source
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/rest/v1/" + sourceTable, query: q}, &rows); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return rows, nil
}

func (c *Client) GetSource(ctx context.Context, id types.SourceID) (*types.Source, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("id", "eq."+string(id))
	q.Set("limit", "1")

	var rows []types.Source
	if _, err := c.do(ctx, request{method: http.MethodGet, path: "/rest/v1/" + sourceTable, query: q}, &rows); err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("get source %s: %w", id, types.ErrNotFound)
	}
	return &rows[0], nil
}

// SendChatMessage invokes the send-chat-message Edge Function.
func (c *Client) SendChatMessage(ctx context.Context, req types.SendRequest) error {
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/functions/v1/" + sendFunction,
		body:   req,
	}, nil)
	if err != nil {
		return fmt.Errorf("webhook error: %w", err)
	}
	return nil
}

func (c *Client) CreateTribute(ctx context.Context, t *types.Tribute) (*types.Tribute, error) {
	row := map[string]any{
		"name":       t.Name,
		"position":   t.Position,
		"contents":   t.Contents,
		"image_url":  t.ImageURL,
		"is_deleted": false,
	}
	var rows []types.Tribute
	_, err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/rest/v1/" + tributeTable,
		body:   row,
		prefer: "return=representation",
		useKey: c.writeKey(),
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("create tribute: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create tribute: empty representation")
	}
	return &rows[0], nil
}

func (c *Client) ListTributes(ctx context.Context, limit, offset int) ([]types.Tribute, int, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("is_deleted", "eq.false")
	q.Set("order", "created_at.desc")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var rows []types.Tribute
	header, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/rest/v1/" + tributeTable,
		query:  q,
		prefer: "count=exact",
		useKey: c.writeKey(),
	}, &rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list tributes: %w", err)
	}
	return rows, parseContentRange(header.Get("Content-Range")), nil
}

// parseContentRange extracts the total from "0-49/123" or "*/0".
func parseContentRange(v string) int {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(v[i+1:])
	if err != nil {
		return 0
	}
	return n
}
