package script

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kode4food/lru"

	"github.com/kode4food/conductor/pkg/api"
)

type (
	// Registry manages script environments for different languages
	Registry struct {
		envs map[string]Environment
	}

	// Environment defines the interface for script environments
	Environment interface {
		// Validate checks if a script is syntactically valid
		Validate(script string) error

		// Compile compiles a script and returns the compiled form
		Compile(script string) (Compiled, error)

		// EvaluatePredicate evaluates a compiled predicate with given inputs
		EvaluatePredicate(c Compiled, inputs Args) (bool, error)
	}

	// Compiled represents a compiled script for any supported language
	Compiled any

	// Args are the named values a script can read
	Args map[string]any

	compileFunc[T any] func(script string) (T, error)

	compiler[T any] struct {
		cache *lru.Cache[T]
		build compileFunc[T]
	}
)

const (
	LangLua  = api.ScriptLangLua
	LangExpr = api.ScriptLangExpr
)

// Names of the values exposed to skip conditions
const (
	ArgDepth           = "depth"
	ArgIdentifier      = "identifier"
	ArgParams          = "params"
	ArgPlanExecutionID = "planExecutionId"
	ArgSetup           = "setup"
	ArgStepType        = "stepType"
)

var argNames = []string{
	ArgDepth, ArgIdentifier, ArgParams, ArgPlanExecutionID, ArgSetup,
	ArgStepType,
}

var ErrUnsupportedLanguage = errors.New("unsupported script language")

// NewRegistry creates a new script registry with Lua and expr environments
func NewRegistry() *Registry {
	return &Registry{
		envs: map[string]Environment{
			LangLua:  NewLuaEnv(),
			LangExpr: NewExprEnv(),
		},
	}
}

func (r *Registry) Register(language string, env Environment) {
	r.envs[language] = env
}

// Get returns the script environment for the given language
func (r *Registry) Get(language string) (Environment, error) {
	env, ok := r.envs[language]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return env, nil
}

// CompilePlan compiles every skip condition in the plan so that a broken
// condition rejects the plan before execution starts
func (r *Registry) CompilePlan(p *api.Plan) error {
	for id, n := range p.Nodes {
		if n.SkipCondition == nil {
			continue
		}
		if _, err := r.Compile(n.SkipCondition); err != nil {
			return fmt.Errorf("node %s skip condition: %w", id, err)
		}
	}
	return nil
}

// Compile compiles a skip condition
func (r *Registry) Compile(cond *api.SkipCondition) (Compiled, error) {
	if cond == nil {
		return nil, nil
	}
	env, err := r.Get(cond.Language)
	if err != nil {
		return nil, err
	}
	return env.Compile(cond.Script)
}

// ShouldSkip evaluates the node's skip condition against its ambiance. A
// node without a condition is never skipped
func (r *Registry) ShouldSkip(amb *api.Ambiance, n *api.PlanNode) (bool, error) {
	cond := n.SkipCondition
	if cond == nil || cond.Script == "" {
		return false, nil
	}
	env, err := r.Get(cond.Language)
	if err != nil {
		return false, err
	}
	c, err := env.Compile(cond.Script)
	if err != nil {
		return false, err
	}
	return env.EvaluatePredicate(c, Inputs(amb, n))
}

// Inputs builds the values a node's skip condition can read
func Inputs(amb *api.Ambiance, n *api.PlanNode) Args {
	var params any
	if len(n.StepParameters) > 0 {
		_ = json.Unmarshal(n.StepParameters, &params)
	}
	setup := map[string]any{}
	for k, v := range amb.Setup() {
		setup[k] = v
	}
	return Args{
		ArgDepth:           amb.Depth(),
		ArgIdentifier:      n.Identifier,
		ArgParams:          params,
		ArgPlanExecutionID: string(amb.PlanExecutionID),
		ArgSetup:           setup,
		ArgStepType:        string(n.StepType),
	}
}

func newCompiler[T any](size int, build compileFunc[T]) *compiler[T] {
	return &compiler[T]{
		cache: lru.NewCache[T](size),
		build: build,
	}
}

func (c *compiler[T]) Validate(script string) error {
	_, err := c.Compile(script)
	return err
}

func (c *compiler[T]) Compile(script string) (Compiled, error) {
	if script == "" {
		return nil, nil
	}
	return c.cache.Get(hashScript(script), func() (T, error) {
		return c.build(script)
	})
}

func hashScript(script string) string {
	h := sha256.Sum256([]byte(script))
	return hex.EncodeToString(h[:])
}
