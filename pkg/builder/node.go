package builder

import (
	"encoding/json"
	"slices"

	"github.com/kode4food/conductor/pkg/api"
)

// Node builds a single plan node
type Node struct {
	err          error
	id           api.PlanNodeID
	identifier   string
	name         string
	stepType     api.StepType
	params       json.RawMessage
	advisers     []*api.Obtainment
	facilitators []*api.Obtainment
	skip         *api.SkipCondition
	skipGraph    api.SkipGraphType
	next         api.PlanNodeID
	children     []api.PlanNodeID
	restraint    *api.ResourceRequirement
	timeouts     []*api.TimeoutSpec
}

// NewNode creates a node builder running the given step type. The node's
// identifier defaults to its id
func NewNode(id api.PlanNodeID, stepType api.StepType) *Node {
	return &Node{
		id:         id,
		identifier: string(id),
		stepType:   stepType,
	}
}

// NewSkipNode creates a node that takes no part in execution and passes
// traversal through to its successor
func NewSkipNode(id api.PlanNodeID) *Node {
	return &Node{
		id:         id,
		identifier: string(id),
		skipGraph:  api.SkipGraphSkipNode,
	}
}

func (n *Node) WithIdentifier(identifier string) *Node {
	res := *n
	res.identifier = identifier
	return &res
}

func (n *Node) WithName(name string) *Node {
	res := *n
	res.name = name
	return &res
}

// WithParams sets the step parameters to the JSON encoding of params. An
// encoding failure is reported by Build
func (n *Node) WithParams(params any) *Node {
	res := *n
	data, err := json.Marshal(params)
	if err != nil {
		res.err = err
		return &res
	}
	res.params = data
	return &res
}

func (n *Node) WithFacilitator(typ api.ObtainmentType, params any) *Node {
	ob, err := obtain(typ, params)
	res := *n
	if err != nil {
		res.err = err
		return &res
	}
	res.facilitators = append(slices.Clone(n.facilitators), ob)
	return &res
}

func (n *Node) WithAdviser(typ api.ObtainmentType, params any) *Node {
	ob, err := obtain(typ, params)
	res := *n
	if err != nil {
		res.err = err
		return &res
	}
	res.advisers = append(slices.Clone(n.advisers), ob)
	return &res
}

func (n *Node) WithSkipCondition(language, script string) *Node {
	res := *n
	res.skip = &api.SkipCondition{
		Language: language,
		Script:   script,
	}
	return &res
}

func (n *Node) WithLuaSkip(script string) *Node {
	return n.WithSkipCondition(api.ScriptLangLua, script)
}

func (n *Node) WithExprSkip(script string) *Node {
	return n.WithSkipCondition(api.ScriptLangExpr, script)
}

func (n *Node) WithNext(id api.PlanNodeID) *Node {
	res := *n
	res.next = id
	return &res
}

func (n *Node) WithChildren(ids ...api.PlanNodeID) *Node {
	res := *n
	res.children = append(slices.Clone(n.children), ids...)
	return &res
}

func (n *Node) WithRestraint(
	unit api.ResourceUnit, permits int, scope api.HoldingScope,
) *Node {
	res := *n
	res.restraint = &api.ResourceRequirement{
		Unit:    unit,
		Permits: permits,
		Mode:    api.AcquireEnsure,
		Scope:   scope,
	}
	return &res
}

// WithAccumulatingRestraint is WithRestraint where permits already held by
// the plan count toward the requirement
func (n *Node) WithAccumulatingRestraint(
	unit api.ResourceUnit, permits int, scope api.HoldingScope,
) *Node {
	res := n.WithRestraint(unit, permits, scope)
	res.restraint.Mode = api.AcquireAccumulate
	return res
}

func (n *Node) WithTimeout(dim api.TimeoutDimension, millis int64) *Node {
	res := *n
	res.timeouts = append(slices.Clone(n.timeouts), &api.TimeoutSpec{
		Dimension: dim,
		Millis:    millis,
	})
	return &res
}

// Build returns the plan node. Graph level checks happen when the node is
// built as part of a Plan
func (n *Node) Build() (*api.PlanNode, error) {
	if n.err != nil {
		return nil, n.err
	}
	return &api.PlanNode{
		ID:             n.id,
		Identifier:     n.identifier,
		Name:           n.name,
		StepType:       n.stepType,
		StepParameters: n.params,
		Advisers:       slices.Clone(n.advisers),
		Facilitators:   slices.Clone(n.facilitators),
		SkipCondition:  n.skip,
		SkipGraph:      n.skipGraph,
		Next:           n.next,
		Children:       slices.Clone(n.children),
		Restraint:      n.restraint,
		Timeouts:       slices.Clone(n.timeouts),
	}, nil
}

func obtain(typ api.ObtainmentType, params any) (*api.Obtainment, error) {
	res := &api.Obtainment{Type: typ}
	if params == nil {
		return res, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	res.Parameters = data
	return res, nil
}
