package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/kode4food/conductor/pkg/api"
)

// Client talks to the engine's HTTP API
type Client struct {
	httpClient *http.Client
	baseURL    string
}

var (
	ErrStartPlan         = errors.New("failed to start plan")
	ErrGetPlan           = errors.New("failed to get plan")
	ErrListNodes         = errors.New("failed to list nodes")
	ErrInterrupt         = errors.New("failed to register interrupt")
	ErrCallback          = errors.New("failed to deliver callback")
	ErrTaskResult        = errors.New("failed to deliver task result")
	ErrSetCapacity       = errors.New("failed to set capacity")
	ErrMissingPlanResult = errors.New("engine returned no plan execution id")
)

const (
	DefaultEngineURL = "http://localhost:8080"

	routePlan      = "/engine/plan"
	routeCallback  = "/engine/callback"
	routeTask      = "/engine/task"
	routeRestraint = "/engine/restraint"
)

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// StartPlan starts a plan execution. An empty id lets the engine assign
// one, which is returned
func (c *Client) StartPlan(
	ctx context.Context, id api.PlanExecutionID, plan *api.Plan,
	setup map[string]string,
) (api.PlanExecutionID, error) {
	var res api.PlanStartedResponse
	err := c.do(ctx, http.MethodPost, c.url(routePlan),
		api.StartPlanRequest{
			ID:                id,
			Plan:              plan,
			SetupAbstractions: setup,
		}, &res, ErrStartPlan, http.StatusCreated,
	)
	if err != nil {
		return "", err
	}
	if res.PlanExecutionID == "" {
		return "", ErrMissingPlanResult
	}
	return res.PlanExecutionID, nil
}

func (c *Client) GetPlan(
	ctx context.Context, id api.PlanExecutionID,
) (*api.PlanExecution, error) {
	var res api.PlanExecution
	err := c.do(ctx, http.MethodGet, c.url(routePlan, id), nil, &res,
		ErrGetPlan, http.StatusOK,
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ListNodes(
	ctx context.Context, id api.PlanExecutionID,
) ([]*api.NodeExecution, error) {
	var res api.NodesListResponse
	err := c.do(ctx, http.MethodGet, c.url(routePlan, id, "node"), nil, &res,
		ErrListNodes, http.StatusOK,
	)
	if err != nil {
		return nil, err
	}
	return res.Nodes, nil
}

// Interrupt registers an interrupt against a plan execution and returns
// the id it was recorded under
func (c *Client) Interrupt(
	ctx context.Context, id api.PlanExecutionID, req *api.InterruptRequest,
) (api.InterruptID, error) {
	var res api.InterruptResponse
	err := c.do(ctx, http.MethodPost, c.url(routePlan, id, "interrupt"),
		req, &res, ErrInterrupt, http.StatusOK,
	)
	if err != nil {
		return "", err
	}
	return res.InterruptID, nil
}

func (c *Client) Callback(
	ctx context.Context, id api.CorrelationID, data json.RawMessage,
) error {
	return c.do(ctx, http.MethodPost, c.url(routeCallback, id),
		api.CallbackRequest{Data: data}, nil, ErrCallback,
		http.StatusAccepted,
	)
}

func (c *Client) TaskResult(
	ctx context.Context, id api.TaskID, result json.RawMessage,
) error {
	return c.do(ctx, http.MethodPost, c.url(routeTask, id, "result"),
		api.TaskResultRequest{Result: result}, nil, ErrTaskResult,
		http.StatusAccepted,
	)
}

func (c *Client) SetCapacity(
	ctx context.Context, unit api.ResourceUnit, capacity int,
) error {
	return c.do(ctx, http.MethodPut, c.url(routeRestraint, unit),
		api.CapacityRequest{Capacity: capacity}, nil, ErrSetCapacity,
		http.StatusOK,
	)
}

func (c *Client) do(
	ctx context.Context, method, target string, body, out any,
	base error, expect ...int,
) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if !slices.Contains(expect, resp.StatusCode) {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d, body: %s",
			base, resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// url joins the route and path-escaped segments onto the base URL
func (c *Client) url(route string, segments ...any) string {
	var sb strings.Builder
	sb.WriteString(c.baseURL)
	sb.WriteString(route)
	for _, s := range segments {
		sb.WriteByte('/')
		sb.WriteString(url.PathEscape(fmt.Sprint(s)))
	}
	return sb.String()
}
