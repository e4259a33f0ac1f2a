package api

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

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
	"github.com/hugo-lorenzo-mato/switchboard/internal/events"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/background"
	"github.com/hugo-lorenzo-mato/switchboard/internal/service/workflow"
)

// Client talks to a running server over the admin API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for addr, which may omit the scheme.
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base: base,
		// No client timeout: workflow runs are synchronous and bounded by ctx.
		http: &http.Client{},
	}
}

// TaskListOptions selects which tasks ListTasks returns.
type TaskListOptions struct {
	Status   core.TaskStatus
	ExpertID string
	History  bool
	Limit    int
}

// Health checks that the server answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// StartTask starts a background task.
func (c *Client) StartTask(ctx context.Context, req background.StartRequest) (*core.BackgroundTask, error) {
	var task core.BackgroundTask
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask returns a live or persisted task.
func (c *Client) GetTask(ctx context.Context, id string) (*core.BackgroundTask, error) {
	var task core.BackgroundTask
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks lists tasks.
func (c *Client) ListTasks(ctx context.Context, opts TaskListOptions) ([]*core.BackgroundTask, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.ExpertID != "" {
		q.Set("expert", opts.ExpertID)
	}
	if opts.History {
		q.Set("history", "true")
		if opts.Limit > 0 {
			q.Set("limit", strconv.Itoa(opts.Limit))
		}
	}
	path := "/api/v1/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var tasks []*core.BackgroundTask
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CancelTask cancels a task.
func (c *Client) CancelTask(ctx context.Context, id string) (*core.BackgroundTask, error) {
	var task core.BackgroundTask
	if err := c.do(ctx, http.MethodDelete, "/api/v1/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// RunWorkflow runs a workflow on the server and waits for its result.
func (c *Client) RunWorkflow(ctx context.Context, request string, overrides workflow.Overrides) (*core.WorkflowResult, error) {
	var result core.WorkflowResult
	body := RunWorkflowRequest{Request: request, Overrides: overrides}
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CurrentWorkflow returns the context of the running or last workflow.
func (c *Client) CurrentWorkflow(ctx context.Context) (*core.WorkflowContext, error) {
	var wc core.WorkflowContext
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows/current", nil, &wc); err != nil {
		return nil, err
	}
	return &wc, nil
}

// ControlWorkflow sends "cancel", "pause" or "resume" to the running
// workflow and returns the reported status.
func (c *Client) ControlWorkflow(ctx context.Context, action string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows/current/"+url.PathEscape(action), nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// Stats returns router, task and bus counters.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var stats StatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Hooks lists registered hooks.
func (c *Client) Hooks(ctx context.Context) ([]events.HookInfo, error) {
	var hooks []events.HookInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/hooks", nil, &hooks); err != nil {
		return nil, err
	}
	return hooks, nil
}

// SetHookEnabled enables or disables a hook.
func (c *Client) SetHookEnabled(ctx context.Context, name string, enabled bool) (*events.HookInfo, error) {
	action := "disable"
	if enabled {
		action = "enable"
	}
	var info events.HookInfo
	if err := c.do(ctx, http.MethodPost, "/api/v1/hooks/"+url.PathEscape(name)+"/"+action, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return core.ErrTransient("SERVER_UNREACHABLE", "cannot reach server at "+c.base).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError turns an error response back into a domain error so callers
// can branch on its category.
func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	cat := core.ErrCatInternal
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		cat = core.ErrCatValidation
	case http.StatusNotFound:
		cat = core.ErrCatNotFound
	case http.StatusConflict:
		cat = core.ErrCatState
	case http.StatusUnauthorized:
		cat = core.ErrCatAuth
	case http.StatusTooManyRequests:
		cat = core.ErrCatRateLimit
	case http.StatusGatewayTimeout:
		cat = core.ErrCatTimeout
	case http.StatusServiceUnavailable:
		cat = core.ErrCatTransient
	}
	return &core.DomainError{
		Category: cat,
		Code:     "HTTP_" + strconv.Itoa(resp.StatusCode),
		Message:  msg,
	}
}
