package api

import (
	"maps"
	"slices"
)

type (
	// Ambiance is the hierarchical execution context of a node: an
	// append-only stack of levels, one per nesting scope
	Ambiance struct {
		PlanExecutionID        PlanExecutionID   `json:"plan_execution_id"`
		SetupAbstractions      map[string]string `json:"setup_abstractions,omitempty"`
		ExpressionFunctorToken int64             `json:"expression_functor_token"`
		Levels                 []*Level          `json:"levels"`
	}

	// Level is one nesting scope of an ambiance
	Level struct {
		PlanNodeID             PlanNodeID        `json:"plan_node_id"`
		NodeExecutionID        NodeExecutionID   `json:"node_execution_id"`
		Identifier             string            `json:"identifier"`
		StepType               StepType          `json:"step_type"`
		SetupAbstractions      map[string]string `json:"setup_abstractions,omitempty"`
		ExpressionFunctorToken int64             `json:"expression_functor_token"`
		Strategy               *StrategyMetadata `json:"strategy,omitempty"`
	}

	// StrategyMetadata identifies a matrix or loop iteration
	StrategyMetadata struct {
		Iteration       int `json:"iteration"`
		TotalIterations int `json:"total_iterations"`
	}
)

// NewAmbiance creates the root ambiance of a plan execution
func NewAmbiance(
	id PlanExecutionID, setup map[string]string, token int64,
) *Ambiance {
	return &Ambiance{
		PlanExecutionID:        id,
		SetupAbstractions:      maps.Clone(setup),
		ExpressionFunctorToken: token,
		Levels:                 []*Level{},
	}
}

// Child returns a new ambiance with the level appended. The level inherits
// the current setup abstractions, adding its own keys but never removing
// any, and inherits the expression functor token unless it sets one
func (a *Ambiance) Child(l *Level) *Ambiance {
	lvl := *l
	setup := maps.Clone(a.Setup())
	if setup == nil {
		setup = map[string]string{}
	}
	for k, v := range l.SetupAbstractions {
		if _, ok := setup[k]; !ok {
			setup[k] = v
		}
	}
	lvl.SetupAbstractions = setup
	if lvl.ExpressionFunctorToken == 0 {
		lvl.ExpressionFunctorToken = a.Token()
	}

	res := *a
	res.Levels = append(slices.Clone(a.Levels), &lvl)
	return &res
}

// Parent returns the ambiance without its innermost level
func (a *Ambiance) Parent() *Ambiance {
	if len(a.Levels) == 0 {
		return a
	}
	res := *a
	res.Levels = slices.Clone(a.Levels[:len(a.Levels)-1])
	return &res
}

// Current returns the innermost level, or nil for a root ambiance
func (a *Ambiance) Current() *Level {
	if len(a.Levels) == 0 {
		return nil
	}
	return a.Levels[len(a.Levels)-1]
}

// Setup returns the setup abstractions in effect at the innermost level
func (a *Ambiance) Setup() map[string]string {
	if cur := a.Current(); cur != nil {
		return cur.SetupAbstractions
	}
	return a.SetupAbstractions
}

// Token returns the expression functor token in effect
func (a *Ambiance) Token() int64 {
	if cur := a.Current(); cur != nil && cur.ExpressionFunctorToken != 0 {
		return cur.ExpressionFunctorToken
	}
	return a.ExpressionFunctorToken
}

// Depth returns the number of levels in the ambiance
func (a *Ambiance) Depth() int {
	return len(a.Levels)
}

// Contains reports whether a node execution is one of the ambiance's
// levels, which makes this ambiance part of that node's subtree
func (a *Ambiance) Contains(id NodeExecutionID) bool {
	return slices.ContainsFunc(a.Levels, func(l *Level) bool {
		return l.NodeExecutionID == id
	})
}
