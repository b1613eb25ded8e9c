package builder_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/builder"
)

type recordedRequest struct {
	method string
	path   string
	body   []byte
}

func testServer(
	t *testing.T, status int, response any,
) (*builder.Client, *recordedRequest) {
	t.Helper()
	rec := &recordedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			rec.method = r.Method
			rec.path = r.URL.EscapedPath()
			rec.body, _ = io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(response)
		},
	))
	t.Cleanup(srv.Close)
	return builder.NewClient(srv.URL+"/", time.Second), rec
}

func TestClientStartPlan(t *testing.T) {
	client, rec := testServer(t, http.StatusCreated, api.PlanStartedResponse{
		PlanExecutionID: "exec-1",
	})

	plan, err := builder.NewPlan("p").
		WithNode(builder.NewNode("a", "noop")).
		Build()
	assert.NoError(t, err)

	id, err := client.StartPlan(context.Background(), "", plan,
		map[string]string{"env": "dev"},
	)
	assert.NoError(t, err)
	assert.Equal(t, api.PlanExecutionID("exec-1"), id)
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/engine/plan", rec.path)

	var req api.StartPlanRequest
	assert.NoError(t, json.Unmarshal(rec.body, &req))
	assert.Equal(t, "dev", req.SetupAbstractions["env"])
	assert.Equal(t, api.PlanID("p"), req.Plan.ID)
}

func TestClientStartPlanConflict(t *testing.T) {
	client, _ := testServer(t, http.StatusConflict, api.ErrorResponse{
		Error: "plan execution exists",
	})

	_, err := client.StartPlan(context.Background(), "exec-1",
		&api.Plan{}, nil,
	)
	assert.ErrorIs(t, err, builder.ErrStartPlan)
	assert.Contains(t, err.Error(), "status 409")
}

func TestClientGetPlan(t *testing.T) {
	client, rec := testServer(t, http.StatusOK, api.PlanExecution{
		ID:     "exec/1",
		Status: api.StatusRunning,
	})

	plan, err := client.GetPlan(context.Background(), "exec/1")
	assert.NoError(t, err)
	assert.Equal(t, api.StatusRunning, plan.Status)
	assert.Equal(t, "/engine/plan/exec%2F1", rec.path)
}

func TestClientListNodes(t *testing.T) {
	client, rec := testServer(t, http.StatusOK, api.NodesListResponse{
		Nodes: []*api.NodeExecution{{ID: "n1"}, {ID: "n2"}},
		Count: 2,
	})

	nodes, err := client.ListNodes(context.Background(), "exec-1")
	assert.NoError(t, err)
	assert.Len(t, nodes, 2)
	assert.Equal(t, "/engine/plan/exec-1/node", rec.path)
}

func TestClientInterrupt(t *testing.T) {
	client, rec := testServer(t, http.StatusOK, api.InterruptResponse{
		InterruptID: "int-1",
	})

	id, err := client.Interrupt(context.Background(), "exec-1",
		&api.InterruptRequest{Type: api.InterruptPauseAll},
	)
	assert.NoError(t, err)
	assert.Equal(t, api.InterruptID("int-1"), id)
	assert.Equal(t, "/engine/plan/exec-1/interrupt", rec.path)

	var req api.InterruptRequest
	assert.NoError(t, json.Unmarshal(rec.body, &req))
	assert.Equal(t, api.InterruptPauseAll, req.Type)
}

func TestClientCallbackAndTaskResult(t *testing.T) {
	client, rec := testServer(t, http.StatusAccepted, api.MessageResponse{})

	err := client.Callback(context.Background(), "cb-1",
		json.RawMessage(`{"ok":true}`),
	)
	assert.NoError(t, err)
	assert.Equal(t, "/engine/callback/cb-1", rec.path)

	err = client.TaskResult(context.Background(), "task-1",
		json.RawMessage(`{"outputs":{}}`),
	)
	assert.NoError(t, err)
	assert.Equal(t, "/engine/task/task-1/result", rec.path)
}

func TestClientSetCapacity(t *testing.T) {
	client, rec := testServer(t, http.StatusOK, api.MessageResponse{})

	err := client.SetCapacity(context.Background(), "env-prod", 2)
	assert.NoError(t, err)
	assert.Equal(t, http.MethodPut, rec.method)
	assert.Equal(t, "/engine/restraint/env-prod", rec.path)

	bad, _ := testServer(t, http.StatusBadRequest, api.ErrorResponse{})
	err = bad.SetCapacity(context.Background(), "env-prod", -1)
	assert.ErrorIs(t, err, builder.ErrSetCapacity)
}
