package engine

import (
	"fmt"

	"github.com/kode4food/conductor/internal/adviser"
	"github.com/kode4food/conductor/internal/facilitator"
	"github.com/kode4food/conductor/pkg/api"
)

// producers holds the facilitator and adviser producers looked up for
// every node of one plan. Each invocation instantiates fresh strategies
// from them
type producers struct {
	facilitators map[api.PlanNodeID]facilitator.Bindings
	advisers     map[api.PlanNodeID]adviser.Bindings
}

// producersFor returns the plan's producer bindings, looking them up once
// per plan execution
func (e *Engine) producersFor(plan *api.PlanExecution) (*producers, error) {
	return e.producers.Get(string(plan.ID), func() (*producers, error) {
		return e.lookupProducers(plan.Plan)
	})
}

func (e *Engine) lookupProducers(p *api.Plan) (*producers, error) {
	res := &producers{
		facilitators: make(map[api.PlanNodeID]facilitator.Bindings, len(p.Nodes)),
		advisers:     make(map[api.PlanNodeID]adviser.Bindings, len(p.Nodes)),
	}
	for id, n := range p.Nodes {
		fb, err := facilitator.Lookup(e.facilitators, n.Facilitators)
		if err != nil {
			return nil, fmt.Errorf("%w: node %s: %w", api.ErrInvalidPlan, id, err)
		}
		ab, err := adviser.Lookup(e.advisers, n.Advisers)
		if err != nil {
			return nil, fmt.Errorf("%w: node %s: %w", api.ErrInvalidPlan, id, err)
		}
		res.facilitators[id] = fb
		res.advisers[id] = ab
	}
	return res, nil
}

// checkProducers verifies that every node's obtainments name registered
// producers that accept their parameters
func (e *Engine) checkProducers(p *api.Plan) error {
	prod, err := e.lookupProducers(p)
	if err != nil {
		return err
	}
	for _, id := range sortedKeys(p.Nodes) {
		if _, err := prod.facilitators[id].Chain(); err != nil {
			return fmt.Errorf("%w: node %s: %w", api.ErrInvalidPlan, id, err)
		}
		if _, err := prod.advisers[id].Chain(); err != nil {
			return fmt.Errorf("%w: node %s: %w", api.ErrInvalidPlan, id, err)
		}
	}
	return nil
}

// checkSteps verifies that every executable node names a registered step
func (e *Engine) checkSteps(p *api.Plan) error {
	for _, id := range sortedKeys(p.Nodes) {
		n := p.Nodes[id]
		if n.IsSkipNode() {
			continue
		}
		if _, err := e.steps.Obtain(n.StepType); err != nil {
			return fmt.Errorf("%w: node %s: %w", api.ErrInvalidPlan, id, err)
		}
	}
	return nil
}
