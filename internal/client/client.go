// Package client talks to the task API over HTTP.
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

	"github.com/hiroki-koketsu/go-todo/internal/model"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	// ErrUnreachable wraps transport failures: the server could not be reached
	// or did not answer.
	ErrUnreachable = errors.New("server unreachable")
	// ErrUnauthorized is returned when the server rejects the identity token.
	ErrUnauthorized = errors.New("unauthorized")
)

// Client is a task API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL. Requests are traced
// through an otelhttp transport and time out after timeout.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// List returns the owner's tasks, newest first.
func (c *Client) List(ctx context.Context, ownerID string) ([]model.Task, error) {
	var resp model.ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tasks", owner(ownerID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Create adds a task and returns its id.
func (c *Client) Create(ctx context.Context, req model.CreateTaskRequest) (string, error) {
	var resp model.CreateResponse
	if err := c.do(ctx, http.MethodPost, "/api/tasks", nil, req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// ToggleStatus flips the task's status and returns the new one.
func (c *Client) ToggleStatus(ctx context.Context, id, ownerID string) (model.Status, error) {
	var resp model.ToggleResponse
	path := "/api/tasks/" + url.PathEscape(id) + "/toggle"
	if err := c.do(ctx, http.MethodPatch, path, owner(ownerID), nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// Delete removes a task.
func (c *Client) Delete(ctx context.Context, id, ownerID string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), owner(ownerID), nil, nil)
}

// Reorder assigns ranks 1..N to orderedIDs.
func (c *Client) Reorder(ctx context.Context, ownerID string, orderedIDs []string) error {
	body := model.ReorderRequest{OrderedIDs: orderedIDs}
	return c.do(ctx, http.MethodPatch, "/api/tasks/reorder", owner(ownerID), body, nil)
}

// SyncImport uploads tasks created offline and returns their new ids.
func (c *Client) SyncImport(ctx context.Context, ownerID string, tasks []model.OfflineTaskInput) ([]string, error) {
	var resp model.SyncResponse
	body := model.SyncRequest{Tasks: tasks}
	if err := c.do(ctx, http.MethodPost, "/api/tasks/sync", owner(ownerID), body, &resp); err != nil {
		return nil, err
	}
	return resp.CreatedIDs, nil
}

func owner(ownerID string) url.Values {
	return url.Values{"ownerId": []string{ownerID}}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError turns an error response back into the domain error kinds.
func decodeError(resp *http.Response) error {
	var body model.StatusResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	msg := body.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return model.TaskError{Kind: model.KindValidation, Message: msg}
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case http.StatusForbidden:
		return model.TaskError{Kind: model.KindForbidden, Message: msg}
	case http.StatusNotFound:
		return model.TaskError{Kind: model.KindNotFound, Message: msg}
	default:
		if resp.StatusCode >= http.StatusInternalServerError {
			return model.TaskError{Kind: model.KindStore, Message: msg}
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
}
