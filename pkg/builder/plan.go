package builder

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/kode4food/conductor/pkg/api"
)

// Plan builds a plan from node builders
type Plan struct {
	id    api.PlanID
	start api.PlanNodeID
	nodes []*Node
}

var (
	camelCaseRegex = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	delimiterRegex = regexp.MustCompile(`[\s_]+`)
)

// NewPlan creates a plan builder. The id is derived from the name
func NewPlan(name string) *Plan {
	return &Plan{
		id: api.PlanID(toSnakeCase(name)),
	}
}

func (p *Plan) WithID(id api.PlanID) *Plan {
	res := *p
	res.id = id
	return &res
}

// WithStart names the start node. Without it the first node added starts
// the plan
func (p *Plan) WithStart(id api.PlanNodeID) *Plan {
	res := *p
	res.start = id
	return &res
}

// WithNode adds a node, replacing any earlier node with the same id
func (p *Plan) WithNode(n *Node) *Plan {
	res := *p
	res.nodes = slices.DeleteFunc(slices.Clone(p.nodes), func(e *Node) bool {
		return e.id == n.id
	})
	res.nodes = append(res.nodes, n)
	return &res
}

// WithChain adds the nodes so that each one leads to the next
func (p *Plan) WithChain(nodes ...*Node) *Plan {
	res := p
	for i, n := range nodes {
		if i < len(nodes)-1 {
			n = n.WithNext(nodes[i+1].id)
		}
		res = res.WithNode(n)
	}
	return res
}

// Build assembles and validates the plan
func (p *Plan) Build() (*api.Plan, error) {
	res := &api.Plan{
		ID:          p.id,
		StartNodeID: p.start,
		Nodes:       make(map[api.PlanNodeID]*api.PlanNode, len(p.nodes)),
	}
	for _, nb := range p.nodes {
		n, err := nb.Build()
		if err != nil {
			return nil, fmt.Errorf("%w: node %s: %w",
				api.ErrInvalidPlan, nb.id, err)
		}
		res.Nodes[n.ID] = n
	}
	if res.StartNodeID == "" && len(p.nodes) > 0 {
		res.StartNodeID = p.nodes[0].id
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

func toSnakeCase(s string) string {
	s = camelCaseRegex.ReplaceAllString(s, "$1-$2")
	s = delimiterRegex.ReplaceAllString(s, "-")
	return strings.ToLower(s)
}
