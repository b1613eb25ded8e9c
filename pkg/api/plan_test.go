package api_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/conductor/pkg/api"
)

func linearPlan() *api.Plan {
	return &api.Plan{
		ID:          "plan",
		StartNodeID: "build",
		Nodes: map[api.PlanNodeID]*api.PlanNode{
			"build": {ID: "build", StepType: "shell", Next: "test"},
			"test":  {ID: "test", StepType: "shell", Next: "deploy"},
			"deploy": {
				ID: "deploy", StepType: "shell",
			},
		},
	}
}

func TestValidatePlan(t *testing.T) {
	assert.NoError(t, linearPlan().Validate())
}

func TestValidateMissingStart(t *testing.T) {
	p := linearPlan()
	p.StartNodeID = "missing"
	err := p.Validate()
	assert.ErrorIs(t, err, api.ErrInvalidPlan)
	assert.ErrorIs(t, err, api.ErrMissingStartNode)
}

func TestValidateMissingReference(t *testing.T) {
	t.Run("next", func(t *testing.T) {
		p := linearPlan()
		p.Nodes["deploy"].Next = "nowhere"
		assert.ErrorIs(t, p.Validate(), api.ErrMissingNodeReference)
	})

	t.Run("children", func(t *testing.T) {
		p := linearPlan()
		p.Nodes["test"].Children = []api.PlanNodeID{"nowhere"}
		assert.ErrorIs(t, p.Validate(), api.ErrMissingNodeReference)
	})

	t.Run("adviser", func(t *testing.T) {
		p := linearPlan()
		p.Nodes["test"].Advisers = []*api.Obtainment{{
			Type:       "ON_FAIL",
			Parameters: json.RawMessage(`{"nextNodeId":"nowhere"}`),
		}}
		assert.ErrorIs(t, p.Validate(), api.ErrMissingNodeReference)
	})
}

func TestValidateCycle(t *testing.T) {
	p := linearPlan()
	p.Nodes["deploy"].Next = "build"
	err := p.Validate()
	assert.ErrorIs(t, err, api.ErrPlanCycle)
	assert.Contains(t, err.Error(), "build -> test -> deploy -> build")
}

func TestValidateMultipleParents(t *testing.T) {
	t.Run("next", func(t *testing.T) {
		p := linearPlan()
		p.Nodes["build"].Children = []api.PlanNodeID{"deploy"}
		err := p.Validate()
		assert.ErrorIs(t, err, api.ErrInvalidPlan)
		assert.ErrorIs(t, err, api.ErrMultipleParents)
		assert.Contains(t, err.Error(), "deploy (from build and test)")
	})

	t.Run("children", func(t *testing.T) {
		p := linearPlan()
		p.Nodes["deploy"].Children = []api.PlanNodeID{"smoke", "smoke"}
		p.Nodes["smoke"] = &api.PlanNode{ID: "smoke", StepType: "shell"}
		assert.ErrorIs(t, p.Validate(), api.ErrMultipleParents)
	})

	t.Run("adviser_jump", func(t *testing.T) {
		p := linearPlan()
		p.Nodes["build"].Advisers = []*api.Obtainment{{
			Type:       "ON_FAIL",
			Parameters: json.RawMessage(`{"nextNodeId":"deploy"}`),
		}}
		assert.NoError(t, p.Validate())
	})
}

func TestValidateUnreachable(t *testing.T) {
	p := linearPlan()
	p.Nodes["orphan"] = &api.PlanNode{ID: "orphan", StepType: "shell"}
	assert.ErrorIs(t, p.Validate(), api.ErrUnreachableNode)
}

func TestValidateNodes(t *testing.T) {
	t.Run("id_mismatch", func(t *testing.T) {
		p := linearPlan()
		p.Nodes["test"].ID = "other"
		assert.ErrorIs(t, p.Validate(), api.ErrNodeIDMismatch)
	})

	t.Run("missing_step_type", func(t *testing.T) {
		p := linearPlan()
		p.Nodes["test"].StepType = ""
		assert.ErrorIs(t, p.Validate(), api.ErrMissingStepType)
	})

	t.Run("skip_node_without_step_type", func(t *testing.T) {
		p := linearPlan()
		p.Nodes["test"].StepType = ""
		p.Nodes["test"].SkipGraph = api.SkipGraphSkipNode
		assert.NoError(t, p.Validate())
	})

	t.Run("bad_requirement", func(t *testing.T) {
		p := linearPlan()
		p.Nodes["deploy"].Restraint = &api.ResourceRequirement{
			Unit: "prod",
		}
		assert.ErrorIs(t, p.Validate(), api.ErrInvalidRequirement)
	})

	t.Run("bad_timeout", func(t *testing.T) {
		p := linearPlan()
		p.Nodes["deploy"].Timeouts = []*api.TimeoutSpec{
			{Dimension: api.DimensionStep},
		}
		assert.ErrorIs(t, p.Validate(), api.ErrInvalidTimeout)
	})
}

func TestEdges(t *testing.T) {
	p := linearPlan()
	p.Nodes["stage"] = &api.PlanNode{ID: "stage", StepType: "fork"}
	p.Nodes["build"].Children = []api.PlanNodeID{"stage"}
	p.Nodes["build"].Advisers = []*api.Obtainment{
		{Type: "ON_FAIL", Parameters: json.RawMessage(`{"nextNodeId":"deploy"}`)},
		{Type: "ON_SUCCESS", Parameters: json.RawMessage(`{"nextNodeId":"test"}`)},
	}

	assert.Equal(t,
		[]api.PlanNodeID{"test", "stage", "deploy"}, p.Edges("build"),
	)
	assert.Nil(t, p.Edges("missing"))
}

func TestParsePlanYAML(t *testing.T) {
	doc := `
id: release
start_node_id: build
nodes:
  build:
    id: build
    step_type: shell
    step_parameters:
      command: make
    next: deploy
  deploy:
    id: deploy
    step_type: deploy
    restraint:
      unit: prod
      permits: 1
    timeouts:
      - dimension: STEP
        timeout_ms: 500
`
	p, err := api.ParsePlan([]byte(doc), api.PlanFormatYAML)
	require.NoError(t, err)
	assert.NoError(t, p.Validate())

	n, ok := p.Node("deploy")
	require.True(t, ok)
	assert.Equal(t, api.ResourceUnit("prod"), n.Restraint.Unit)
	assert.Equal(t, api.AcquireEnsure, n.Restraint.EffectiveMode())
	assert.Equal(t, api.ScopeStage, n.Restraint.EffectiveScope())
	assert.Equal(t, int64(500), n.Timeouts[0].Millis)
	assert.JSONEq(t,
		`{"command":"make"}`, string(p.Nodes["build"].StepParameters),
	)
}

func TestParsePlanFormats(t *testing.T) {
	p, err := api.ParsePlan(
		[]byte(`{"id":"p","start_node_id":"a","nodes":{}}`), "",
	)
	require.NoError(t, err)
	assert.Equal(t, api.PlanID("p"), p.ID)

	_, err = api.ParsePlan([]byte(`{}`), "toml")
	assert.ErrorIs(t, err, api.ErrUnknownPlanFormat)

	_, err = api.ParsePlan([]byte(`{`), api.PlanFormatJSON)
	assert.Error(t, err)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Build", (&api.PlanNode{ID: "b", Name: "Build"}).DisplayName())
	assert.Equal(t, "bld", (&api.PlanNode{ID: "b", Identifier: "bld"}).DisplayName())
	assert.Equal(t, "b", (&api.PlanNode{ID: "b"}).DisplayName())
}
