package step

import (
	"context"
	"encoding/json"
	"maps"
	"slices"

	"github.com/tidwall/gjson"

	"github.com/kode4food/conductor/pkg/api"
)

type (
	// Noop completes immediately with the status and outputs named in its
	// parameters, succeeding by default
	Noop struct{}

	// Callback waits for externally delivered callbacks. Each callback
	// body may carry a status and error
	Callback struct{}

	// Task hands its parameters to the remote task transport
	Task struct{}

	// Group spawns the plan node's declared children
	Group struct{}
)

const (
	NoopStep     api.StepType = "noop"
	CallbackStep api.StepType = "callback"
	TaskStep     api.StepType = "task"
	GroupStep    api.StepType = "group"
)

const (
	statusKey         = "status"
	errorKey          = "error"
	outputsKey        = "outputs"
	correlationIDsKey = "correlationIds"
	taskTypeKey       = "taskType"
	timeoutKey        = "timeoutMs"
)

var (
	_ SyncExecutable  = (*Noop)(nil)
	_ AsyncExecutable = (*Callback)(nil)
	_ TaskExecutable  = (*Task)(nil)
	_ ChildExecutable = (*Group)(nil)
)

func (*Noop) ExecuteSync(
	_ context.Context, req *Request,
) (*api.StepResponse, error) {
	return responseFrom(req.Params()), nil
}

func (*Callback) ExecuteAsync(
	_ context.Context, req *Request,
) (*api.AsyncResponse, error) {
	var ids []api.CorrelationID
	params := req.Params()
	if len(params) > 0 {
		for _, v := range gjson.GetBytes(params, correlationIDsKey).Array() {
			ids = append(ids, api.CorrelationID(v.String()))
		}
	}
	if len(ids) == 0 {
		ids = []api.CorrelationID{api.NewID[api.CorrelationID]()}
	}
	res := &api.AsyncResponse{CorrelationIDs: ids}
	if len(params) > 0 {
		res.TimeoutMillis = gjson.GetBytes(params, timeoutKey).Int()
	}
	return res, nil
}

func (*Callback) HandleAsyncResponse(
	_ context.Context, _ *Request,
	responses map[api.CorrelationID]json.RawMessage,
) (*api.StepResponse, error) {
	res := &api.StepResponse{Status: api.StatusSucceeded}
	outputs := make(map[api.CorrelationID]json.RawMessage, len(responses))
	for _, id := range slices.Sorted(maps.Keys(responses)) {
		data := responses[id]
		outputs[id] = data
		r := responseFrom(data)
		if r.Status.IsPositive() {
			continue
		}
		if res.Status.IsPositive() {
			res.Status = r.Status
			res.Failure = r.Failure
		}
	}
	out, err := json.Marshal(outputs)
	if err != nil {
		return nil, err
	}
	res.Outputs = out
	return res, nil
}

func (*Task) ExecuteTask(
	_ context.Context, req *Request,
) (*api.TaskRequest, error) {
	params := req.Params()
	res := &api.TaskRequest{
		Type:    string(req.Node.StepType),
		Payload: params,
	}
	if len(params) > 0 {
		if typ := gjson.GetBytes(params, taskTypeKey); typ.Exists() {
			res.Type = typ.String()
		}
		res.TimeoutMillis = gjson.GetBytes(params, timeoutKey).Int()
	}
	return res, nil
}

func (*Task) HandleTaskResult(
	_ context.Context, _ *Request, result json.RawMessage,
) (*api.StepResponse, error) {
	return responseFrom(result), nil
}

func (*Group) ObtainChildren(
	_ context.Context, req *Request,
) ([]api.PlanNodeID, error) {
	return slices.Clone(req.Node.Children), nil
}

func (*Group) HandleChildResponse(
	_ context.Context, _ *Request, statuses map[api.ChainID]api.Status,
) (*api.StepResponse, error) {
	all := slices.Collect(maps.Values(statuses))
	res := &api.StepResponse{Status: api.WorstOf(all...)}
	if !res.Status.IsPositive() {
		res.Failure = api.NewFailure(api.FailureChild,
			"child execution ended "+string(res.Status))
	}
	return res, nil
}

// responseFrom reads a step outcome from a JSON document of the form
// {"status": ..., "error": ..., "outputs": ...}
func responseFrom(data json.RawMessage) *api.StepResponse {
	res := &api.StepResponse{Status: api.StatusSucceeded}
	if len(data) == 0 || !gjson.ValidBytes(data) {
		return res
	}
	if s := gjson.GetBytes(data, statusKey); s.Exists() {
		res.Status = api.Status(s.String())
	}
	if out := gjson.GetBytes(data, outputsKey); out.Exists() {
		res.Outputs = json.RawMessage(out.Raw)
	}
	msg := gjson.GetBytes(data, errorKey).String()
	switch {
	case !res.Status.IsTerminal():
		res.Failure = api.NewFailure(api.FailureStep,
			"step reported non-terminal status "+string(res.Status))
		res.Status = api.StatusErrored
	case !res.Status.IsPositive():
		if msg == "" {
			msg = "step ended " + string(res.Status)
		}
		res.Failure = api.NewFailure(api.FailureStep, msg)
	}
	return res
}
