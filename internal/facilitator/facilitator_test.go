package facilitator_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/conductor/internal/facilitator"
	"github.com/kode4food/conductor/internal/registry"
	"github.com/kode4food/conductor/pkg/api"
)

func stepAmbiance(st api.StepType) *api.Ambiance {
	return api.NewAmbiance("p", nil, 0).Child(&api.Level{StepType: st})
}

func resolve(
	t *testing.T, obtainments ...*api.Obtainment,
) facilitator.Chain {
	t.Helper()
	chain, err := facilitator.Resolve(facilitator.NewRegistry(), obtainments)
	require.NoError(t, err)
	return chain
}

func TestEmptyChainIsSync(t *testing.T) {
	res, err := facilitator.Chain(nil).Facilitate(stepAmbiance("x"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, api.ModeSync, res.Mode)
	assert.Zero(t, res.WaitDuration)
}

func TestBuiltInModes(t *testing.T) {
	modes := map[api.ObtainmentType]api.ExecutionMode{
		facilitator.Sync:       api.ModeSync,
		facilitator.Async:      api.ModeAsync,
		facilitator.Task:       api.ModeTask,
		facilitator.Child:      api.ModeChild,
		facilitator.Children:   api.ModeChildren,
		facilitator.ChildChain: api.ModeChildChain,
	}
	for typ, mode := range modes {
		chain := resolve(t, &api.Obtainment{Type: typ})
		res, err := chain.Facilitate(stepAmbiance("x"), nil, nil)
		require.NoError(t, err)
		assert.Equal(t, mode, res.Mode)
	}
}

func TestWaitDuration(t *testing.T) {
	chain := resolve(t, &api.Obtainment{
		Type:       facilitator.Async,
		Parameters: json.RawMessage(`{"waitDuration":"2s"}`),
	})
	res, _ := chain.Facilitate(stepAmbiance("x"), nil, nil)
	assert.Equal(t, 2*time.Second, res.WaitDuration)

	chain = resolve(t, &api.Obtainment{
		Type:       facilitator.Task,
		Parameters: json.RawMessage(`{"waitDuration":150}`),
	})
	res, _ = chain.Facilitate(stepAmbiance("x"), nil, nil)
	assert.Equal(t, 150*time.Millisecond, res.WaitDuration)

	_, err := facilitator.Resolve(facilitator.NewRegistry(),
		[]*api.Obtainment{{
			Type:       facilitator.Sync,
			Parameters: json.RawMessage(`{"waitDuration":"soon"}`),
		}},
	)
	assert.ErrorIs(t, err, facilitator.ErrInvalidParameters)
}

func TestFirstAnswerWins(t *testing.T) {
	chain := resolve(t,
		&api.Obtainment{
			Type:       facilitator.Task,
			Parameters: json.RawMessage(`{"stepTypes":["remote"]}`),
		},
		&api.Obtainment{Type: facilitator.Async},
		&api.Obtainment{Type: facilitator.Children},
	)

	res, err := chain.Facilitate(stepAmbiance("remote"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, api.ModeTask, res.Mode)

	res, err = chain.Facilitate(stepAmbiance("local"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, api.ModeAsync, res.Mode)
}

func TestBarrierWait(t *testing.T) {
	chain := resolve(t, &api.Obtainment{
		Type:       facilitator.BarrierWait,
		Parameters: json.RawMessage(`{"waitDuration":"1m"}`),
	})
	res, _ := chain.Facilitate(stepAmbiance("x"), nil, nil)
	assert.Equal(t, api.ModeSync, res.Mode)
	assert.Equal(t, time.Minute, res.WaitDuration)

	prior := []*api.ExecutableResponse{
		api.SyncExecutable(&api.StepResponse{}, time.Now()),
	}
	res, _ = chain.Facilitate(stepAmbiance("x"), nil, prior)
	assert.Zero(t, res.WaitDuration)

	_, err := facilitator.Resolve(facilitator.NewRegistry(),
		[]*api.Obtainment{{Type: facilitator.BarrierWait}},
	)
	assert.ErrorIs(t, err, facilitator.ErrInvalidParameters)
}

func TestResolveUnknownType(t *testing.T) {
	_, err := facilitator.Resolve(facilitator.NewRegistry(),
		[]*api.Obtainment{{Type: "TELEPORT"}},
	)
	assert.ErrorIs(t, err, registry.ErrUnregisteredKey)

	err = facilitator.NewRegistry().Register(facilitator.Sync, nil)
	assert.ErrorIs(t, err, registry.ErrDuplicateRegistry)
}
