package step

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kode4food/conductor/internal/registry"
	"github.com/kode4food/conductor/pkg/api"
)

type (
	// Request carries what a step executor needs to run one invocation
	Request struct {
		Ambiance *api.Ambiance
		Node     *api.PlanNode
		Mode     api.ExecutionMode
		Prior    []*api.ExecutableResponse
	}

	// Executor is implemented by one or more of the mode-specific
	// executable interfaces
	Executor any

	// SyncExecutable runs a step to completion in a single call
	SyncExecutable interface {
		ExecuteSync(context.Context, *Request) (*api.StepResponse, error)
	}

	// AsyncExecutable starts a step that completes when every correlation
	// id it returns has received a callback
	AsyncExecutable interface {
		ExecuteAsync(context.Context, *Request) (*api.AsyncResponse, error)
		HandleAsyncResponse(
			context.Context, *Request, map[api.CorrelationID]json.RawMessage,
		) (*api.StepResponse, error)
	}

	// TaskExecutable describes remote work for the task transport and
	// interprets its raw result
	TaskExecutable interface {
		ExecuteTask(context.Context, *Request) (*api.TaskRequest, error)
		HandleTaskResult(
			context.Context, *Request, json.RawMessage,
		) (*api.StepResponse, error)
	}

	// ChildExecutable names the child nodes to spawn and folds their
	// terminal statuses into a response
	ChildExecutable interface {
		ObtainChildren(context.Context, *Request) ([]api.PlanNodeID, error)
		HandleChildResponse(
			context.Context, *Request, map[api.ChainID]api.Status,
		) (*api.StepResponse, error)
	}

	// Registry resolves step types to executors
	Registry = registry.Registry[api.StepType, Executor]
)

var ErrModeNotSupported = errors.New("step does not support execution mode")

// Params returns the step parameters of the requested node
func (r *Request) Params() json.RawMessage {
	if r.Node == nil {
		return nil
	}
	return r.Node.StepParameters
}

// NewRegistry creates a step registry holding the built-in steps
func NewRegistry() *Registry {
	r := registry.New[api.StepType, Executor]()
	r.MustRegister(NoopStep, &Noop{})
	r.MustRegister(CallbackStep, &Callback{})
	r.MustRegister(TaskStep, &Task{})
	r.MustRegister(GroupStep, &Group{})
	return r
}

// Supports reports whether the executor implements the mode's interface
func Supports(e Executor, mode api.ExecutionMode) bool {
	switch mode {
	case api.ModeSync:
		_, ok := e.(SyncExecutable)
		return ok
	case api.ModeAsync:
		_, ok := e.(AsyncExecutable)
		return ok
	case api.ModeTask:
		_, ok := e.(TaskExecutable)
		return ok
	case api.ModeChild, api.ModeChildren, api.ModeChildChain:
		_, ok := e.(ChildExecutable)
		return ok
	default:
		return false
	}
}

// CheckMode returns ErrModeNotSupported if the executor cannot run under
// the mode
func CheckMode(typ api.StepType, e Executor, mode api.ExecutionMode) error {
	if Supports(e, mode) {
		return nil
	}
	return fmt.Errorf("%w: %s %s", ErrModeNotSupported, typ, mode)
}
