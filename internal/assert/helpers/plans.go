package helpers

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/kode4food/conductor/internal/step"
	"github.com/kode4food/conductor/pkg/api"
)

// NodeOption customizes a plan node built by NewNode
type NodeOption func(*api.PlanNode)

// NewPlan builds a plan starting at the first node given
func NewPlan(nodes ...*api.PlanNode) *api.Plan {
	res := &api.Plan{
		ID:    api.PlanID("test-plan-" + uuid.New().String()[:8]),
		Nodes: make(map[api.PlanNodeID]*api.PlanNode, len(nodes)),
	}
	for i, n := range nodes {
		if i == 0 {
			res.StartNodeID = n.ID
		}
		res.Nodes[n.ID] = n
	}
	return res
}

// NewChainPlan builds a plan of noop nodes where each node leads to the
// next one
func NewChainPlan(ids ...api.PlanNodeID) *api.Plan {
	nodes := make([]*api.PlanNode, len(ids))
	for i, id := range ids {
		nodes[i] = NewNode(id, step.NoopStep)
		if i > 0 {
			nodes[i-1].Next = id
		}
	}
	return NewPlan(nodes...)
}

// NewNode builds a plan node of the given step type
func NewNode(
	id api.PlanNodeID, typ api.StepType, opts ...NodeOption,
) *api.PlanNode {
	res := &api.PlanNode{
		ID:         id,
		Identifier: string(id),
		StepType:   typ,
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// Next sets the node's successor
func Next(id api.PlanNodeID) NodeOption {
	return func(n *api.PlanNode) {
		n.Next = id
	}
}

// Children declares the node's children
func Children(ids ...api.PlanNodeID) NodeOption {
	return func(n *api.PlanNode) {
		n.Children = append(n.Children, ids...)
	}
}

// Params sets the node's step parameters from any JSON encodable value
func Params(v any) NodeOption {
	return func(n *api.PlanNode) {
		n.StepParameters = MustJSON(v)
	}
}

// Facilitator appends a facilitator obtainment
func Facilitator(typ api.ObtainmentType, params any) NodeOption {
	return func(n *api.PlanNode) {
		n.Facilitators = append(n.Facilitators, Obtain(typ, params))
	}
}

// Adviser appends an adviser obtainment
func Adviser(typ api.ObtainmentType, params any) NodeOption {
	return func(n *api.PlanNode) {
		n.Advisers = append(n.Advisers, Obtain(typ, params))
	}
}

// Restraint makes the node require permits on a resource unit
func Restraint(
	unit api.ResourceUnit, permits int, scope api.HoldingScope,
) NodeOption {
	return func(n *api.PlanNode) {
		n.Restraint = &api.ResourceRequirement{
			Unit:    unit,
			Permits: permits,
			Scope:   scope,
		}
	}
}

// Timeout adds a timeout on one dimension
func Timeout(dim api.TimeoutDimension, millis int64) NodeOption {
	return func(n *api.PlanNode) {
		n.Timeouts = append(n.Timeouts, &api.TimeoutSpec{
			Dimension: dim,
			Millis:    millis,
		})
	}
}

// SkipWhen adds a skip condition script
func SkipWhen(language, script string) NodeOption {
	return func(n *api.PlanNode) {
		n.SkipCondition = &api.SkipCondition{
			Language: language,
			Script:   script,
		}
	}
}

// Obtain builds an obtainment whose parameters are the JSON encoding of
// params. A nil params leaves the parameters empty
func Obtain(typ api.ObtainmentType, params any) *api.Obtainment {
	res := &api.Obtainment{Type: typ}
	if params != nil {
		res.Parameters = MustJSON(params)
	}
	return res
}

// MustJSON encodes v or panics
func MustJSON(v any) json.RawMessage {
	res, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return res
}
