package step_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/conductor/internal/registry"
	"github.com/kode4food/conductor/internal/step"
	"github.com/kode4food/conductor/pkg/api"
)

func request(params string, children ...api.PlanNodeID) *step.Request {
	node := &api.PlanNode{ID: "n", StepType: "test", Children: children}
	if params != "" {
		node.StepParameters = json.RawMessage(params)
	}
	return &step.Request{
		Ambiance: api.NewAmbiance("p", nil, 0),
		Node:     node,
	}
}

func TestRegistry(t *testing.T) {
	r := step.NewRegistry()
	assert.Equal(t, []api.StepType{
		step.CallbackStep, step.GroupStep, step.NoopStep, step.TaskStep,
	}, r.Keys())

	noop, err := r.Obtain(step.NoopStep)
	require.NoError(t, err)
	assert.NoError(t, step.CheckMode(step.NoopStep, noop, api.ModeSync))
	assert.ErrorIs(t,
		step.CheckMode(step.NoopStep, noop, api.ModeTask),
		step.ErrModeNotSupported,
	)

	group, _ := r.Obtain(step.GroupStep)
	assert.True(t, step.Supports(group, api.ModeChildChain))
	assert.False(t, step.Supports(group, "BOGUS"))

	_, err = r.Obtain("deploy")
	assert.ErrorIs(t, err, registry.ErrUnregisteredKey)
}

func TestNoop(t *testing.T) {
	res, err := (&step.Noop{}).ExecuteSync(t.Context(), request(""))
	require.NoError(t, err)
	assert.Equal(t, api.StatusSucceeded, res.Status)
	assert.Nil(t, res.Failure)

	res, _ = (&step.Noop{}).ExecuteSync(t.Context(),
		request(`{"status":"FAILED","error":"boom","outputs":{"a":1}}`),
	)
	assert.Equal(t, api.StatusFailed, res.Status)
	assert.Equal(t, "boom", res.Failure.Message)
	assert.JSONEq(t, `{"a":1}`, string(res.Outputs))

	res, _ = (&step.Noop{}).ExecuteSync(t.Context(),
		request(`{"status":"RUNNING"}`),
	)
	assert.Equal(t, api.StatusErrored, res.Status)
}

func TestCallback(t *testing.T) {
	cb := &step.Callback{}
	res, err := cb.ExecuteAsync(t.Context(), request(""))
	require.NoError(t, err)
	assert.Len(t, res.CorrelationIDs, 1)

	req := request(`{"correlationIds":["a","b"],"timeoutMs":500}`)
	res, _ = cb.ExecuteAsync(t.Context(), req)
	assert.Equal(t, []api.CorrelationID{"a", "b"}, res.CorrelationIDs)
	assert.Equal(t, int64(500), res.TimeoutMillis)

	done, err := cb.HandleAsyncResponse(t.Context(), req,
		map[api.CorrelationID]json.RawMessage{
			"a": json.RawMessage(`{"ok":true}`),
			"b": json.RawMessage(`{"status":"FAILED","error":"denied"}`),
		},
	)
	require.NoError(t, err)
	assert.Equal(t, api.StatusFailed, done.Status)
	assert.Equal(t, "denied", done.Failure.Message)
	assert.JSONEq(t,
		`{"a":{"ok":true},"b":{"status":"FAILED","error":"denied"}}`,
		string(done.Outputs),
	)
}

func TestTask(t *testing.T) {
	task := &step.Task{}
	req := request(`{"taskType":"shell","timeoutMs":1000,"cmd":"make"}`)
	tr, err := task.ExecuteTask(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, "shell", tr.Type)
	assert.Equal(t, int64(1000), tr.TimeoutMillis)
	assert.JSONEq(t, string(req.Params()), string(tr.Payload))

	tr, _ = task.ExecuteTask(t.Context(), request(""))
	assert.Equal(t, "test", tr.Type)

	res, _ := task.HandleTaskResult(t.Context(), req,
		json.RawMessage(`{"status":"SUCCEEDED","outputs":"done"}`),
	)
	assert.Equal(t, api.StatusSucceeded, res.Status)
	assert.JSONEq(t, `"done"`, string(res.Outputs))
}

func TestGroup(t *testing.T) {
	g := &step.Group{}
	req := request("", "a", "b")
	ids, err := g.ObtainChildren(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, []api.PlanNodeID{"a", "b"}, ids)

	res, _ := g.HandleChildResponse(t.Context(), req,
		map[api.ChainID]api.Status{
			"1": api.StatusSucceeded, "2": api.StatusSkipped,
		},
	)
	assert.Equal(t, api.StatusSucceeded, res.Status)

	res, _ = g.HandleChildResponse(t.Context(), req,
		map[api.ChainID]api.Status{
			"1": api.StatusAborted, "2": api.StatusErrored,
		},
	)
	assert.Equal(t, api.StatusFailed, res.Status)
	assert.Equal(t, api.FailureChild, res.Failure.Kind)
}
