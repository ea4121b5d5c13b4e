package client

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

	"retrievald/internal/api"
	"retrievald/internal/filestore"
	"retrievald/internal/retrieval"
)

const defaultHTTPTimeout = 30 * time.Second

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("retrievald: http %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}

// Client talks to a running daemon over its HTTP API.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New returns a client for the daemon at address, which may be a bare
// host:port or a full http URL.
func New(address, token string, opts ...Option) (*Client, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("daemon address is required")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	base, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("parse daemon address: %w", err)
	}
	c := &Client{
		baseURL:    base,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Health calls the unauthenticated health endpoint.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doJSON(ctx, http.MethodGet, api.PathHealth, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Suggest(ctx context.Context, req retrieval.SuggestRequest) ([]retrieval.Suggestion, error) {
	var resp api.SuggestResponse
	if err := c.doJSON(ctx, http.MethodPost, api.PathSuggest, nil, req, &resp); err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

func (c *Client) ContextPack(ctx context.Context, req retrieval.ContextPackRequest) (*retrieval.ContextPack, error) {
	var resp retrieval.ContextPack
	if err := c.doJSON(ctx, http.MethodPost, api.PathContextPack, nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Preview(ctx context.Context, itemID string) (*retrieval.Preview, error) {
	var resp retrieval.Preview
	if err := c.doJSON(ctx, http.MethodPost, api.PathPreview, nil, api.PreviewRequest{ItemID: itemID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) State(ctx context.Context) (*retrieval.State, error) {
	var resp retrieval.State
	if err := c.doJSON(ctx, http.MethodGet, api.PathState, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Progress(ctx context.Context) (*retrieval.Progress, error) {
	var resp retrieval.Progress
	if err := c.doJSON(ctx, http.MethodGet, api.PathProgress, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) IndexStats(ctx context.Context) (*retrieval.IndexStats, error) {
	var resp retrieval.IndexStats
	if err := c.doJSON(ctx, http.MethodGet, api.PathIndexStats, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Activity(ctx context.Context) ([]retrieval.ActivityEntry, error) {
	var resp api.ActivityResponse
	if err := c.doJSON(ctx, http.MethodGet, api.PathActivity, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) BackfillJobs(ctx context.Context) ([]retrieval.BackfillJob, error) {
	var resp api.JobsResponse
	if err := c.doJSON(ctx, http.MethodGet, api.PathBackfillJobs, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *Client) PauseJob(ctx context.Context, jobID string) error {
	return c.doJSON(ctx, http.MethodPost, api.PathBackfillPause, nil, api.JobRequest{JobID: jobID}, nil)
}

func (c *Client) ResumeJob(ctx context.Context, jobID string) error {
	return c.doJSON(ctx, http.MethodPost, api.PathBackfillResume, nil, api.JobRequest{JobID: jobID}, nil)
}

func (c *Client) TriggerBackfill(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, api.PathBackfillTrigger, nil, nil, nil)
}

func (c *Client) ConfigureScopes(ctx context.Context, scopes []retrieval.Scope) error {
	return c.doJSON(ctx, http.MethodPost, api.PathScopes, nil, api.ScopesRequest{Scopes: scopes}, nil)
}

// Upload stores data as name in the task's uploads and returns the stored path.
func (c *Client) Upload(ctx context.Context, taskID, name string, data io.Reader) (string, error) {
	query := url.Values{"name": {name}}
	req, err := c.newRequest(ctx, http.MethodPost, taskPath(taskID, "uploads"), query, data)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	var resp api.UploadResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	return resp.Path, nil
}

func (c *Client) ListUploads(ctx context.Context, taskID string) ([]filestore.StoredFile, error) {
	var resp api.FilesResponse
	if err := c.doJSON(ctx, http.MethodGet, taskPath(taskID, "uploads"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (c *Client) UploadPaths(ctx context.Context, taskID string) ([]string, error) {
	var resp api.PathsResponse
	if err := c.doJSON(ctx, http.MethodGet, taskPath(taskID, "uploads", "paths"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Paths, nil
}

func (c *Client) ListOutputs(ctx context.Context, taskID string) ([]filestore.StoredFile, error) {
	var resp api.FilesResponse
	if err := c.doJSON(ctx, http.MethodGet, taskPath(taskID, "outputs"), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// CollectOutputs asks the daemon to copy outbox files into the task outputs.
func (c *Client) CollectOutputs(ctx context.Context, taskID, outbox string) (*api.CollectResponse, error) {
	var resp api.CollectResponse
	if err := c.doJSON(ctx, http.MethodPost, taskPath(taskID, "outputs", "collect"), nil, api.CollectRequest{Outbox: outbox}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FileData downloads one stored file.
func (c *Client) FileData(ctx context.Context, taskID string, direction filestore.Direction, name string) (*filestore.FileData, error) {
	req, err := c.newRequest(ctx, http.MethodGet, taskPath(taskID, "files", string(direction), name), nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrievald request: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file data: %w", err)
	}
	return &filestore.FileData{Name: name, MimeType: resp.Header.Get("Content-Type"), Data: data}, nil
}

func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.doJSON(ctx, http.MethodDelete, taskPath(taskID), nil, nil, nil)
}

func taskPath(taskID string, parts ...string) string {
	segments := append([]string{strings.TrimSuffix(api.PathTasks, "/"), url.PathEscape(taskID)}, escapeAll(parts)...)
	return strings.Join(segments, "/")
}

func escapeAll(parts []string) []string {
	escaped := make([]string, len(parts))
	for i, part := range parts {
		escaped[i] = url.PathEscape(part)
	}
	return escaped
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	target := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set(api.TokenHeader, c.token)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("retrievald request: %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload api.ErrorResponse
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		message = payload.Error
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: message}
}
