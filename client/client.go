// Package client talks to the taskboard HTTP API and implements board.Remote.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"taskboard/board"
	"taskboard/domain"
)

const maxErrorBody = 4 << 10

// StatusError is returned for non-2xx responses other than 404.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, e.Body)
}

// Client wraps http.Client with the task routes of the API.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

var _ board.Remote = (*Client)(nil)

// New creates a Client for baseURL. timeout <= 0 leaves the request
// deadline to the caller's context.
func New(baseURL, bearer string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Bearer:  bearer,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type envelope[T any] struct {
	Data T `json:"data"`
}

type statusBody struct {
	Status domain.Status `json:"status"`
}

// FetchAll returns every task of the authenticated user.
func (c *Client) FetchAll(ctx context.Context) ([]domain.Task, error) {
	var out envelope[[]domain.Task]
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Create stores a new task and returns it with its assigned id.
func (c *Client) Create(ctx context.Context, n domain.NewTask) (domain.Task, error) {
	var out envelope[domain.Task]
	if err := c.do(ctx, http.MethodPost, "/api/tasks", n, &out); err != nil {
		return domain.Task{}, err
	}
	return out.Data, nil
}

// Update changes the title and description of a task.
func (c *Client) Update(ctx context.Context, id string, p domain.TaskPatch) error {
	return c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(id), p, nil)
}

// Delete removes a task.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

// UpdateStatus moves a task to another column.
func (c *Client) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	return c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(id)+"/status", statusBody{Status: status}, nil)
}

// Session reports who the configured token belongs to.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodGet, "/auth/session", nil, &out)
	return out, err
}

// Session is the body of GET /auth/session.
type Session struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
	Email         string `json:"email,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := sonic.ConfigStd.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, domain.ErrTaskNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := sonic.ConfigStd.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
