package client

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
	"time"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

// HTTPTransport submits tasks to a task runner over HTTP. The runner
// exposes POST /tasks, POST /tasks/{id}/abort, and POST /tasks/{id}/expire
type HTTPTransport struct {
	httpClient *http.Client
	endpoint   string
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport for the runner at the endpoint
func NewHTTPTransport(endpoint string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		endpoint: strings.TrimRight(endpoint, "/"),
	}
}

// Submit posts the task and returns the id the runner assigned
func (c *HTTPTransport) Submit(
	ctx context.Context, scope *api.Ambiance, req *api.TaskRequest,
) (api.TaskID, error) {
	if err := validate(req); err != nil {
		return "", err
	}
	body, err := json.Marshal(TaskEnvelope{Scope: scope, Request: req})
	if err != nil {
		slog.Error("Failed to marshal task request",
			slog.String("task_type", req.Type),
			log.Error(err))
		return "", err
	}

	status, respBody, err := c.post(ctx, c.endpoint+"/tasks", body)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusCreated &&
		status != http.StatusAccepted {
		slog.Error("HTTP error",
			slog.String("task_type", req.Type),
			slog.Int("status_code", status),
			slog.String("response_body", string(respBody)))
		return "", fmt.Errorf("%w: HTTP %d", ErrHTTPError, status)
	}

	var res SubmitResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		slog.Error("Failed to unmarshal response",
			slog.String("task_type", req.Type),
			log.Error(err))
		return "", err
	}
	if res.TaskID == "" {
		return "", ErrMissingTaskID
	}
	return res.TaskID, nil
}

// Abort asks the runner to cancel the task. It reports false when the
// runner no longer knows the task
func (c *HTTPTransport) Abort(ctx context.Context, id api.TaskID) (bool, error) {
	status, _, err := c.post(ctx, c.taskURL(id, "abort"), nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound, http.StatusConflict:
		return false, nil
	default:
		return false, fmt.Errorf("%w: HTTP %d", ErrHTTPError, status)
	}
}

// Expire tells the runner the engine has stopped waiting for the task
func (c *HTTPTransport) Expire(ctx context.Context, id api.TaskID) error {
	status, _, err := c.post(ctx, c.taskURL(id, "expire"), nil)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest && status != http.StatusNotFound {
		return fmt.Errorf("%w: HTTP %d", ErrHTTPError, status)
	}
	return nil
}

func (c *HTTPTransport) taskURL(id api.TaskID, action string) string {
	return c.endpoint + "/tasks/" + url.PathEscape(string(id)) + "/" + action
}

func (c *HTTPTransport) post(
	ctx context.Context, target string, body []byte,
) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, target, bytes.NewReader(body),
	)
	if err != nil {
		slog.Error("Failed to create HTTP request",
			slog.String("url", target),
			log.Error(err))
		return 0, nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	dur := time.Since(start)

	if err != nil {
		slog.Error("HTTP request failed",
			slog.String("url", target),
			slog.Duration("duration", dur),
			log.Error(err))
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("Failed to read response body",
			slog.String("url", target),
			log.Error(err))
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}
