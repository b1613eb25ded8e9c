package client

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kode4food/conductor/pkg/api"
)

type (
	// Transport hands remote work to an external task runner. Results come
	// back asynchronously and are delivered to the engine by task id
	Transport interface {
		Submit(
			ctx context.Context, scope *api.Ambiance, req *api.TaskRequest,
		) (api.TaskID, error)
		Abort(ctx context.Context, id api.TaskID) (bool, error)
		Expire(ctx context.Context, id api.TaskID) error
	}

	// ResultHandler receives the raw result of a finished task
	ResultHandler func(
		ctx context.Context, id api.TaskID, result json.RawMessage,
	) error

	// TaskEnvelope is the wire form of a submitted task
	TaskEnvelope struct {
		TaskID  api.TaskID       `json:"task_id,omitempty"`
		Scope   *api.Ambiance    `json:"scope"`
		Request *api.TaskRequest `json:"request"`
	}

	// TaskResult is the wire form of a finished task
	TaskResult struct {
		TaskID api.TaskID      `json:"task_id"`
		Result json.RawMessage `json:"result,omitempty"`
	}

	// SubmitResponse is returned by an HTTP task runner on submission
	SubmitResponse struct {
		TaskID api.TaskID `json:"task_id"`
	}
)

const userAgent = "Conductor-Engine/1.0"

var (
	ErrHTTPError      = errors.New("task runner returned HTTP error")
	ErrMissingTaskID  = errors.New("task runner returned no task id")
	ErrInvalidRequest = errors.New("invalid task request")
)

func validate(req *api.TaskRequest) error {
	if req == nil || req.Type == "" {
		return ErrInvalidRequest
	}
	return nil
}
