package engine_test

import (
	"encoding/json"
	"testing"

	testify "github.com/stretchr/testify/assert"

	"github.com/kode4food/conductor/internal/assert"
	"github.com/kode4food/conductor/internal/assert/helpers"
	"github.com/kode4food/conductor/internal/engine"
	"github.com/kode4food/conductor/internal/engine/planopt"
	"github.com/kode4food/conductor/internal/facilitator"
	"github.com/kode4food/conductor/internal/step"
	"github.com/kode4food/conductor/pkg/api"
)

const envProd api.ResourceUnit = "env-prod"

func deployPlan(cb api.CorrelationID, scope api.HoldingScope) *api.Plan {
	return helpers.NewPlan(
		helpers.NewNode("a", step.NoopStep, helpers.Next("b")),
		helpers.NewNode("b", step.CallbackStep,
			helpers.Params(map[string]any{
				"correlationIds": []api.CorrelationID{cb},
			}),
			helpers.Facilitator(facilitator.Async, nil),
			helpers.Restraint(envProd, 1, scope),
			helpers.Next("c"),
		),
		helpers.NewNode("c", step.NoopStep),
	)
}

func blocked(n *api.NodeExecution) bool {
	return n.Status == api.StatusQueued && n.Restraint != nil &&
		n.Restraint.State == api.RestraintBlocked
}

func TestRestraintSerializes(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		as.NoError(env.Engine.SetRestraintCapacity(t.Context(), envProd, 1))

		first := api.PlanExecutionID("plan-deploy-1")
		second := api.PlanExecutionID("plan-deploy-2")
		firstDone := env.SubscribeToPlanCompletion(first)
		secondDone := env.SubscribeToPlanCompletion(second)

		_, err := env.Engine.StartPlan(t.Context(),
			deployPlan("deploy-1", api.ScopeStage),
			planopt.WithExecutionID(first),
		)
		as.Require.NoError(err)
		b1 := env.WaitForNodeStatus(t, first, "b", api.StatusAsyncWaiting)
		as.Equal(api.RestraintActive, b1.Restraint.State)

		_, err = env.Engine.StartPlan(t.Context(),
			deployPlan("deploy-2", api.ScopeStage),
			planopt.WithExecutionID(second),
		)
		as.Require.NoError(err)
		b2 := env.WaitForNode(t, second, "b", blocked)
		as.True(b2.StartTS.IsZero())

		units := env.Engine.RestraintUnits()
		as.Require.Len(units, 1)
		as.Equal(envProd, units[0].Unit)
		as.Equal(1, units[0].Capacity)
		as.Equal(1, units[0].Active)
		as.Len(units[0].Instances, 2)

		waiting := env.SubscribeToNodeStatus(second, "b", api.StatusAsyncWaiting)
		as.NoError(env.Engine.HandleCallback(t.Context(),
			"deploy-1", json.RawMessage(`{}`),
		))
		as.PlanStatus(firstDone.Wait(t, testTimeout), api.StatusSucceeded)
		b2 = waiting.Wait(t, testTimeout)
		as.Equal(api.RestraintActive, b2.Restraint.State)

		as.NoError(env.Engine.HandleCallback(t.Context(),
			"deploy-2", json.RawMessage(`{}`),
		))
		as.PlanStatus(secondDone.Wait(t, testTimeout), api.StatusSucceeded)

		b1, err = env.LatestNode(t.Context(), first, "b")
		as.Require.NoError(err)
		b2, err = env.LatestNode(t.Context(), second, "b")
		as.Require.NoError(err)
		as.False(b1.EndTS.After(b2.StartTS))
		as.Empty(env.Engine.RestraintInstances(envProd))
	})
}

func TestRestraintCapacityGrowth(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		as.NoError(env.Engine.SetRestraintCapacity(t.Context(), envProd, 1))

		first := api.PlanExecutionID("plan-grow-1")
		second := api.PlanExecutionID("plan-grow-2")
		_, err := env.Engine.StartPlan(t.Context(),
			deployPlan("grow-1", api.ScopeStage),
			planopt.WithExecutionID(first),
		)
		as.Require.NoError(err)
		env.WaitForNodeStatus(t, first, "b", api.StatusAsyncWaiting)

		_, err = env.Engine.StartPlan(t.Context(),
			deployPlan("grow-2", api.ScopeStage),
			planopt.WithExecutionID(second),
		)
		as.Require.NoError(err)
		env.WaitForNode(t, second, "b", blocked)

		waiting := env.SubscribeToNodeStatus(second, "b", api.StatusAsyncWaiting)
		as.NoError(env.Engine.SetRestraintCapacity(t.Context(), envProd, 2))
		waiting.Wait(t, testTimeout)

		as.Equal(2, env.Engine.RestraintUnits()[0].Active)
		st, err := env.Engine.GetEngineState(t.Context())
		as.Require.NoError(err)
		as.Equal(2, st.Capacities[envProd])
	})
}

func TestRestraintInvalidCapacity(t *testing.T) {
	helpers.WithStartedEngine(t, func(eng *engine.Engine) {
		testify.Error(t, eng.SetRestraintCapacity(t.Context(), envProd, -1))
	})
}

func TestPlanScopedRestraint(t *testing.T) {
	helpers.WithStartedEnv(t, func(env *helpers.TestEngineEnv) {
		as := assert.New(t)
		id := api.PlanExecutionID("plan-scoped")
		done := env.SubscribeToPlanCompletion(id)

		plan := helpers.NewPlan(
			helpers.NewNode("a", step.NoopStep,
				helpers.Restraint(envProd, 1, api.ScopePlan),
				helpers.Next("b"),
			),
			helpers.NewNode("b", step.CallbackStep,
				helpers.Params(map[string]any{
					"correlationIds": []string{"scoped"},
				}),
				helpers.Facilitator(facilitator.Async, nil),
			),
		)
		_, err := env.Engine.StartPlan(t.Context(), plan,
			planopt.WithExecutionID(id),
		)
		as.Require.NoError(err)
		env.WaitForNodeStatus(t, id, "b", api.StatusAsyncWaiting)

		a, err := env.LatestNode(t.Context(), id, "a")
		as.Require.NoError(err)
		as.NodeStatus(a, api.StatusSucceeded)
		as.Equal(1, env.Engine.RestraintUnits()[0].Active)

		as.NoError(env.Engine.HandleCallback(t.Context(),
			"scoped", json.RawMessage(`{}`),
		))
		as.PlanStatus(done.Wait(t, testTimeout), api.StatusSucceeded)
		as.EventuallyWithError(func() bool {
			return len(env.Engine.RestraintInstances(envProd)) == 0
		}, testTimeout)
	})
}
