// Package api is the REST client for the task server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fitz/tasksync/internal/models"
)

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// Config holds client settings.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Validate checks that required fields are set.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("missing required configuration fields: base URL")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base URL %q", c.BaseURL)
	}
	return nil
}

// Client talks to the task server.
type Client struct {
	base   string
	http   *http.Client
	logger *slog.Logger

	mu    sync.RWMutex
	token string
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		http:   cfg.HTTPClient,
		logger: cfg.Logger,
		token:  cfg.Token,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// BaseURL returns the server root.
func (c *Client) BaseURL() string {
	return c.base
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		herr := &HTTPError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		c.logger.Debug("request rejected", "method", method, "path", path, "status", resp.StatusCode)
		return herr
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

type taskEnvelope struct {
	Task *models.Task `json:"task"`
}

// taskList accepts both {"tasks": [...]} and a bare array.
type taskList []models.Task

func (l *taskList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		return json.Unmarshal(data, (*[]models.Task)(l))
	}
	var env struct {
		Tasks []models.Task `json:"tasks"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*l = env.Tasks
	return nil
}

// decodeTask accepts {"task": {...}} or a bare task object.
func decodeTask(raw json.RawMessage) (models.Task, error) {
	var env taskEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Task != nil {
		return *env.Task, nil
	}
	var t models.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return models.Task{}, err
	}
	if t.ID == "" {
		return models.Task{}, fmt.Errorf("response carries no task")
	}
	return t, nil
}

func (c *Client) taskCall(ctx context.Context, method, path string, body any) (models.Task, error) {
	var raw json.RawMessage
	if err := c.do(ctx, method, path, body, &raw); err != nil {
		return models.Task{}, err
	}
	t, err := decodeTask(raw)
	if err != nil {
		return models.Task{}, fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return t, nil
}

// ListTasks fetches the tasks of a project, optionally only those changed
// since a point in time.
func (c *Client) ListTasks(ctx context.Context, projectID string, since *time.Time) ([]models.Task, error) {
	q := url.Values{}
	if projectID != "" {
		q.Set("projectId", projectID)
	}
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list taskList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetTask fetches the authoritative server snapshot of a task.
func (c *Client) GetTask(ctx context.Context, id string) (models.Task, error) {
	return c.taskCall(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil)
}

// CreateTask posts a new task and returns the server record.
func (c *Client) CreateTask(ctx context.Context, t models.Task) (models.Task, error) {
	return c.taskCall(ctx, http.MethodPost, "/tasks", t)
}

// UpdateTask sends a partial update carrying the version the edit was based
// on. A stale version yields an error matching ErrConflict.
func (c *Client) UpdateTask(ctx context.Context, id string, fields json.RawMessage, version int) (models.Task, error) {
	body := map[string]json.RawMessage{}
	if len(fields) > 0 {
		if err := json.Unmarshal(fields, &body); err != nil {
			return models.Task{}, fmt.Errorf("failed to decode update fields: %w", err)
		}
	}
	v, _ := json.Marshal(version)
	body["version"] = v
	return c.taskCall(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id), body)
}

// DeleteTask removes a task on the server.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, nil)
}
