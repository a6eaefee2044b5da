package goalflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal goalflow HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, actorID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		ActorID:  actorID,
		Timeout:  90 * time.Second,
	}
}

// Version is one stored document version. Document is kept raw so callers
// can decode it into their own types.
type Version struct {
	DocumentID string          `json:"document_id"`
	Version    int             `json:"version"`
	ActorID    string          `json:"actor_id"`
	Summary    string          `json:"summary,omitempty"`
	CreatedAt  string          `json:"created_at"`
	Document   json.RawMessage `json:"document"`
}

type VersionInfo struct {
	DocumentID string `json:"document_id"`
	Version    int    `json:"version"`
	ActorID    string `json:"actor_id"`
	Summary    string `json:"summary,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type ValidationResult struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

type ToolCall struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
	Status string         `json:"status,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// EditResult mirrors the edit endpoint. A failed edit is not an HTTP error:
// Success is false and ErrorKind says why.
type EditResult struct {
	Success          bool       `json:"success"`
	RunID            string     `json:"run_id"`
	Message          string     `json:"message"`
	Reasoning        string     `json:"reasoning,omitempty"`
	Attempts         int        `json:"attempts"`
	ToolCalls        []ToolCall `json:"tool_calls"`
	ErrorKind        string     `json:"error_kind,omitempty"`
	ValidationIssues []Issue    `json:"validation_issues,omitempty"`
	Version          *Version   `json:"version,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsConflict reports whether err is a stale base_version rejection.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "version_conflict"
}

// CreateDocument creates an empty document.
func (c *Client) CreateDocument(ctx context.Context, name, objective string) (Version, error) {
	body := map[string]any{
		"name":      name,
		"objective": objective,
	}
	var resp Version
	err := c.do(ctx, http.MethodPost, "documents", body, &resp)
	return resp, err
}

// ImportDocument stores a complete document after server-side validation.
func (c *Client) ImportDocument(ctx context.Context, document any) (Version, error) {
	var resp Version
	err := c.do(ctx, http.MethodPost, "documents", map[string]any{"document": document}, &resp)
	return resp, err
}

// GetDocument fetches a version; 0 means latest.
func (c *Client) GetDocument(ctx context.Context, id string, version int) (Version, error) {
	endpoint := "documents/" + url.PathEscape(id)
	if version > 0 {
		endpoint = fmt.Sprintf("%s/versions/%d", endpoint, version)
	}
	var resp Version
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ApplyOperation runs one tool call against baseVersion (0 = latest).
func (c *Client) ApplyOperation(ctx context.Context, id string, baseVersion int, tool string, params map[string]any) (Version, error) {
	body := map[string]any{"tool": tool}
	if params != nil {
		body["params"] = params
	}
	if baseVersion > 0 {
		body["base_version"] = baseVersion
	}
	var resp Version
	err := c.do(ctx, http.MethodPost, "documents/"+url.PathEscape(id)+"/operations", body, &resp)
	return resp, err
}

// Edit asks the server's agent to apply a natural-language request.
func (c *Client) Edit(ctx context.Context, id string, baseVersion int, request string) (EditResult, error) {
	body := map[string]any{"request": request}
	if baseVersion > 0 {
		body["base_version"] = baseVersion
	}
	var resp EditResult
	err := c.do(ctx, http.MethodPost, "documents/"+url.PathEscape(id)+"/edit", body, &resp)
	return resp, err
}

// Validate checks a document without storing it.
func (c *Client) Validate(ctx context.Context, document any) (ValidationResult, error) {
	var resp ValidationResult
	err := c.do(ctx, http.MethodPost, "validate", document, &resp)
	return resp, err
}

// History lists the versions of a document, oldest first.
func (c *Client) History(ctx context.Context, id string) ([]VersionInfo, error) {
	var resp struct {
		Items []VersionInfo `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "documents/"+url.PathEscape(id)+"/versions", nil, &resp)
	return resp.Items, err
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
