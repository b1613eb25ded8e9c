package script_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/conductor/internal/engine/script"
	"github.com/kode4food/conductor/pkg/api"
)

func skipNode(lang, src string) *api.PlanNode {
	return &api.PlanNode{
		ID:             "deploy",
		Identifier:     "deploy",
		StepType:       "noop",
		StepParameters: json.RawMessage(`{"dryRun":true,"replicas":3}`),
		SkipCondition:  &api.SkipCondition{Language: lang, Script: src},
	}
}

func ambiance() *api.Ambiance {
	return api.NewAmbiance("plan-1", map[string]string{"env": "dev"}, 0)
}

func TestShouldSkipLua(t *testing.T) {
	r := script.NewRegistry()

	skip, err := r.ShouldSkip(ambiance(),
		skipNode(script.LangLua, `return setup.env == "dev"`),
	)
	require.NoError(t, err)
	assert.True(t, skip)

	skip, err = r.ShouldSkip(ambiance(),
		skipNode(script.LangLua, `return params.replicas > 5`),
	)
	require.NoError(t, err)
	assert.False(t, skip)

	skip, err = r.ShouldSkip(ambiance(),
		skipNode(script.LangLua, `return identifier == "deploy" and depth == 0`),
	)
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestShouldSkipExpr(t *testing.T) {
	r := script.NewRegistry()

	skip, err := r.ShouldSkip(ambiance(),
		skipNode(script.LangExpr, `params.dryRun && setup.env != "prod"`),
	)
	require.NoError(t, err)
	assert.True(t, skip)

	skip, err = r.ShouldSkip(ambiance(),
		skipNode(script.LangExpr, `stepType == "task"`),
	)
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestNoCondition(t *testing.T) {
	r := script.NewRegistry()
	skip, err := r.ShouldSkip(ambiance(), &api.PlanNode{ID: "a"})
	assert.NoError(t, err)
	assert.False(t, skip)
}

func TestCompileErrors(t *testing.T) {
	r := script.NewRegistry()

	_, err := r.Compile(&api.SkipCondition{Language: "ale", Script: "(true)"})
	assert.ErrorIs(t, err, script.ErrUnsupportedLanguage)

	_, err = r.Compile(&api.SkipCondition{
		Language: script.LangLua, Script: "return (",
	})
	assert.ErrorIs(t, err, script.ErrLuaLoad)

	_, err = r.Compile(&api.SkipCondition{
		Language: script.LangExpr, Script: "1 +",
	})
	assert.ErrorIs(t, err, script.ErrExprCompile)

	p := &api.Plan{
		ID:          "p",
		StartNodeID: "deploy",
		Nodes: map[api.PlanNodeID]*api.PlanNode{
			"deploy": skipNode(script.LangLua, "return ("),
		},
	}
	assert.ErrorIs(t, r.CompilePlan(p), script.ErrLuaLoad)

	p.Nodes["deploy"] = skipNode(script.LangExpr, "true")
	assert.NoError(t, r.CompilePlan(p))
}

func TestLuaSandbox(t *testing.T) {
	r := script.NewRegistry()
	_, err := r.ShouldSkip(ambiance(),
		skipNode(script.LangLua, `return os.time() > 0`),
	)
	assert.ErrorIs(t, err, script.ErrLuaExecution)
}

func TestCompileCaches(t *testing.T) {
	env := script.NewLuaEnv()
	a, err := env.Compile("return true")
	require.NoError(t, err)
	b, err := env.Compile("return true")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.NoError(t, env.Validate("return false"))

	none, err := env.Compile("")
	assert.NoError(t, err)
	assert.Nil(t, none)
}

func TestLuaTables(t *testing.T) {
	env := script.NewLuaEnv()
	c, err := env.Compile(
		`return #params.regions == 2 and params.regions[1] == "us-east"`,
	)
	require.NoError(t, err)

	ok, err := env.EvaluatePredicate(c, script.Args{
		script.ArgParams: map[string]any{
			"regions": []any{"us-east", "eu-west"},
		},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.EvaluatePredicate(c, script.Args{})
	assert.ErrorIs(t, err, script.ErrLuaExecution)
	assert.False(t, ok)
}

func TestLuaBlockedGlobals(t *testing.T) {
	env := script.NewLuaEnv()
	c, err := env.Compile(`return load == nil and dofile == nil`)
	require.NoError(t, err)

	ok, err := env.EvaluatePredicate(c, script.Args{})
	require.NoError(t, err)
	assert.True(t, ok)
}
