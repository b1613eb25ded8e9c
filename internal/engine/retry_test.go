package engine_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	testify "github.com/stretchr/testify/assert"

	"github.com/kode4food/conductor/internal/adviser"
	"github.com/kode4food/conductor/internal/assert"
	"github.com/kode4food/conductor/internal/assert/helpers"
	"github.com/kode4food/conductor/internal/engine/planopt"
	"github.com/kode4food/conductor/internal/facilitator"
	"github.com/kode4food/conductor/internal/step"
	"github.com/kode4food/conductor/pkg/api"
)

type (
	// flakyStep fails until it has been called more than failures times
	flakyStep struct {
		calls    atomic.Int32
		failures int32
	}

	panicStep struct{}
)

const (
	flakyStepType api.StepType = "flaky"
	panicStepType api.StepType = "panic"
)

func (s *flakyStep) ExecuteSync(
	context.Context, *step.Request,
) (*api.StepResponse, error) {
	if s.calls.Add(1) <= s.failures {
		return &api.StepResponse{
			Status:  api.StatusFailed,
			Failure: api.NewFailure(api.FailureStep, "not yet"),
		}, nil
	}
	return &api.StepResponse{Status: api.StatusSucceeded}, nil
}

func (panicStep) ExecuteSync(
	context.Context, *step.Request,
) (*api.StepResponse, error) {
	panic("step exploded")
}

func TestRetryUntilSuccess(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		flaky := &flakyStep{failures: 2}
		env.Engine.Steps().MustRegister(flakyStepType, flaky)

		id := api.PlanExecutionID("plan-retry")
		done := env.SubscribeToPlanCompletion(id)
		plan := helpers.NewPlan(helpers.NewNode("a", flakyStepType,
			helpers.Adviser(adviser.Retry, map[string]any{
				"retryCount":    3,
				"waitIntervals": []string{"10ms", "20ms"},
			}),
		))
		_, err := env.Engine.StartPlan(t.Context(), plan,
			planopt.WithExecutionID(id),
		)
		as.Require.NoError(err)
		as.PlanStatus(done.Wait(t, testTimeout), api.StatusSucceeded)
		as.Equal(int32(3), flaky.calls.Load())

		nodes, err := env.NodesOf(t.Context(), id, "a")
		as.Require.NoError(err)
		as.Require.Len(nodes, 3)
		as.NodeStatus(nodes[0], api.StatusFailed)
		as.Equal(api.AdviseRetry, nodes[0].Advise.Type)
		as.Equal(int64(10), nodes[0].Advise.RetryMillis)
		as.Equal(int64(20), nodes[1].Advise.RetryMillis)
		as.NodeStatus(nodes[2], api.StatusSucceeded)
		as.Equal([]api.NodeExecutionID{nodes[0].ID, nodes[1].ID},
			nodes[2].RetryIDs,
		)
		as.False(nodes[1].StartTS.Before(
			nodes[0].EndTS.Add(10 * time.Millisecond),
		))
	})
}

func TestRetryExhausted(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		env.Engine.Steps().MustRegister(flakyStepType,
			&flakyStep{failures: 100},
		)

		id := api.PlanExecutionID("plan-retry-exhausted")
		done := env.SubscribeToPlanCompletion(id)
		plan := helpers.NewPlan(helpers.NewNode("a", flakyStepType,
			helpers.Adviser(adviser.Retry, map[string]any{
				"retryCount": 1,
				"afterRetry": api.AdviseIgnore,
			}),
			helpers.Next("b"),
		), helpers.NewNode("b", step.NoopStep))
		_, err := env.Engine.StartPlan(t.Context(), plan,
			planopt.WithExecutionID(id),
		)
		as.Require.NoError(err)
		as.PlanStatus(done.Wait(t, testTimeout), api.StatusSucceeded)

		nodes, err := env.NodesOf(t.Context(), id, "a")
		as.Require.NoError(err)
		as.Require.Len(nodes, 2)
		as.NodeStatus(nodes[1], api.StatusIgnoreFailed)
		as.Equal(api.AdviseIgnore, nodes[1].Advise.Type)

		b, err := env.LatestNode(t.Context(), id, "b")
		as.Require.NoError(err)
		as.NodeStatus(b, api.StatusSucceeded)
	})
}

func TestOnFailRoutes(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		id := api.PlanExecutionID("plan-on-fail")
		done := env.SubscribeToPlanCompletion(id)

		plan := helpers.NewPlan(
			helpers.NewNode("a", step.NoopStep,
				helpers.Params(map[string]any{"status": "FAILED"}),
				helpers.Adviser(adviser.OnFail, map[string]any{
					api.NextNodeParam: "rollback",
				}),
				helpers.Next("b"),
			),
			helpers.NewNode("b", step.NoopStep),
			helpers.NewNode("rollback", step.NoopStep),
		)
		_, err := env.Engine.StartPlan(t.Context(), plan,
			planopt.WithExecutionID(id),
		)
		as.Require.NoError(err)
		done.Wait(t, testTimeout)

		rb, err := env.LatestNode(t.Context(), id, "rollback")
		as.Require.NoError(err)
		as.NodeStatus(rb, api.StatusSucceeded)
		_, err = env.LatestNode(t.Context(), id, "b")
		as.Error(err)
	})
}

func TestStepPanicErrors(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		env.Engine.Steps().MustRegister(panicStepType, panicStep{})
		id := api.PlanExecutionID("plan-panic")
		done := env.SubscribeToPlanCompletion(id)

		_, err := env.Engine.StartPlan(t.Context(),
			helpers.NewPlan(helpers.NewNode("a", panicStepType)),
			planopt.WithExecutionID(id),
		)
		testify.NoError(t, err)
		testify.Equal(t, api.StatusFailed, done.Wait(t, testTimeout).Status)

		node, err := env.LatestNode(t.Context(), id, "a")
		testify.NoError(t, err)
		testify.Equal(t, api.StatusErrored, node.Status)
		testify.Equal(t, api.FailureEngine, node.Failure.Kind)
		testify.Contains(t, node.Failure.Message, "step exploded")
	})
}

func TestBarrierWait(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		id := api.PlanExecutionID("plan-barrier")
		done := env.SubscribeToPlanCompletion(id)

		plan := helpers.NewPlan(helpers.NewNode("a", step.NoopStep,
			helpers.Facilitator(facilitator.BarrierWait, map[string]any{
				"waitDuration": "50ms",
			}),
		))
		_, err := env.Engine.StartPlan(t.Context(), plan,
			planopt.WithExecutionID(id),
		)
		as.Require.NoError(err)
		as.PlanStatus(done.Wait(t, testTimeout), api.StatusSucceeded)

		a, err := env.LatestNode(t.Context(), id, "a")
		as.Require.NoError(err)
		as.False(a.EndTS.Before(a.StartTS.Add(50 * time.Millisecond)))
	})
}
