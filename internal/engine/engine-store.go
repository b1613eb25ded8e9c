package engine

import (
	"context"
	"fmt"

	"github.com/kode4food/timebox"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/events"
)

type (
	planTx struct {
		*Engine
		*PlanAggregator
		planID api.PlanExecutionID
	}

	nodeTx struct {
		*Engine
		*NodeAggregator
		ref api.NodeRef
	}
)

// GetEngineState retrieves the active plans, correlation index, and
// runtime capacities
func (e *Engine) GetEngineState(ctx context.Context) (*api.EngineState, error) {
	return e.engineExec.Exec(ctx, events.EngineKey,
		func(*api.EngineState, *EngineAggregator) error {
			return nil
		},
	)
}

// GetPlanExecution retrieves a plan execution by id
func (e *Engine) GetPlanExecution(
	ctx context.Context, id api.PlanExecutionID,
) (*api.PlanExecution, error) {
	st, err := e.planExec.Exec(ctx, events.PlanKey(id),
		func(*api.PlanExecution, *PlanAggregator) error {
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if st.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return st, nil
}

// GetNodeExecution retrieves a node execution by its address
func (e *Engine) GetNodeExecution(
	ctx context.Context, ref api.NodeRef,
) (*api.NodeExecution, error) {
	st, err := e.loadNode(ctx, ref)
	if err != nil {
		return nil, err
	}
	if st.ID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, ref.NodeExecutionID)
	}
	return st, nil
}

// ListNodeExecutions returns every node execution of a plan ordered by
// creation
func (e *Engine) ListNodeExecutions(
	ctx context.Context, id api.PlanExecutionID,
) ([]*api.NodeExecution, error) {
	plan, err := e.GetPlanExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.loadNodes(ctx, plan, plan.NodeIDs())
}

// ListChildren returns the node executions spawned under a parent node,
// or the top-level node executions when parent is empty
func (e *Engine) ListChildren(
	ctx context.Context, id api.PlanExecutionID, parent api.NodeExecutionID,
) ([]*api.NodeExecution, error) {
	plan, err := e.GetPlanExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.loadNodes(ctx, plan, plan.ChildrenOf(parent))
}

// ListActivePlans returns the ids of plan executions that have not
// finished
func (e *Engine) ListActivePlans(
	ctx context.Context,
) ([]api.PlanExecutionID, error) {
	st, err := e.GetEngineState(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(st.Active), nil
}

func (e *Engine) loadNodes(
	ctx context.Context, plan *api.PlanExecution, ids []api.NodeExecutionID,
) ([]*api.NodeExecution, error) {
	res := make([]*api.NodeExecution, 0, len(ids))
	for _, id := range ids {
		n, err := e.loadNode(ctx, api.NodeRef{
			PlanExecutionID: plan.ID,
			NodeExecutionID: id,
		})
		if err != nil {
			return nil, err
		}
		if n.ID != "" {
			res = append(res, n)
		}
	}
	return res, nil
}

func (e *Engine) loadNode(
	ctx context.Context, ref api.NodeRef,
) (*api.NodeExecution, error) {
	return e.nodeExec.Exec(ctx,
		events.NodeKey(ref.PlanExecutionID, ref.NodeExecutionID),
		func(*api.NodeExecution, *NodeAggregator) error {
			return nil
		},
	)
}

func (e *Engine) planTx(
	id api.PlanExecutionID, fn func(*planTx) error,
) (*api.PlanExecution, error) {
	return e.execPlan(events.PlanKey(id),
		func(_ *api.PlanExecution, ag *PlanAggregator) error {
			tx := &planTx{Engine: e, PlanAggregator: ag, planID: id}
			return fn(tx)
		},
	)
}

func (e *Engine) nodeTx(
	ref api.NodeRef, fn func(*nodeTx) error,
) (*api.NodeExecution, error) {
	return e.execNode(
		events.NodeKey(ref.PlanExecutionID, ref.NodeExecutionID),
		func(_ *api.NodeExecution, ag *NodeAggregator) error {
			tx := &nodeTx{Engine: e, NodeAggregator: ag, ref: ref}
			return fn(tx)
		},
	)
}

func (e *Engine) raiseEngineEvent(typ api.EventType, data any) error {
	_, err := e.execEngine(
		func(_ *api.EngineState, ag *EngineAggregator) error {
			return events.Raise(ag, typ, data)
		},
	)
	return err
}

func (e *Engine) execPlan(
	id timebox.AggregateID, cmd timebox.Command[*api.PlanExecution],
) (*api.PlanExecution, error) {
	return e.planExec.Exec(e.ctx, id, cmd)
}

func (e *Engine) execNode(
	id timebox.AggregateID, cmd timebox.Command[*api.NodeExecution],
) (*api.NodeExecution, error) {
	return e.nodeExec.Exec(e.ctx, id, cmd)
}

func (e *Engine) execEngine(
	cmd timebox.Command[*api.EngineState],
) (*api.EngineState, error) {
	return e.engineExec.Exec(e.ctx, events.EngineKey, cmd)
}

func (tx *planTx) raise(typ api.EventType, data any) error {
	return events.Raise(tx.PlanAggregator, typ, data)
}

func (tx *nodeTx) raise(typ api.EventType, data any) error {
	return events.Raise(tx.NodeAggregator, typ, data)
}
