package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kode4food/conductor/internal/engine/planopt"
	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

// spawnSpec addresses a node execution about to be created
type spawnSpec struct {
	planNodeID api.PlanNodeID
	nodeID     api.NodeExecutionID
	parentID   api.NodeExecutionID
	previousID api.NodeExecutionID
	chainID    api.ChainID
	retryIDs   []api.NodeExecutionID
}

// StartPlan validates the plan, persists a new plan execution, and
// creates the node execution for the plan's start node
func (e *Engine) StartPlan(
	ctx context.Context, plan *api.Plan, apps ...planopt.Applier,
) (*api.PlanExecution, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: no plan", api.ErrInvalidPlan)
	}
	if err := e.validatePlan(plan); err != nil {
		return nil, err
	}

	opts := planopt.DefaultOptions(apps...)
	st, err := e.planTx(opts.ExecutionID, func(tx *planTx) error {
		if tx.Value().ID != "" {
			return fmt.Errorf("%w: %s", ErrPlanExists, opts.ExecutionID)
		}
		return tx.raise(api.EventTypePlanStarted, api.PlanStartedEvent{
			PlanExecutionID:   opts.ExecutionID,
			Plan:              plan,
			SetupAbstractions: opts.Setup,
			ExpressionToken:   opts.ExpressionToken,
		})
	})
	if err != nil {
		return nil, err
	}

	err = e.raiseEngineEvent(api.EventTypePlanActivated, api.PlanActivatedEvent{
		PlanExecutionID: st.ID,
		PlanID:          plan.ID,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Plan started",
		log.PlanExecutionID(st.ID),
		slog.String("plan_id", string(plan.ID)))

	ended, err := e.spawn(st.ID, &spawnSpec{
		planNodeID: plan.StartNodeID,
		nodeID:     startNodeID(st.ID),
	})
	if err != nil {
		return nil, err
	}
	if ended != "" {
		if err := e.finishPlan(st.ID, planOutcome(ended), nil); err != nil {
			return nil, err
		}
	}
	return e.GetPlanExecution(ctx, st.ID)
}

func (e *Engine) validatePlan(plan *api.Plan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	if err := e.scripts.CompilePlan(plan); err != nil {
		return fmt.Errorf("%w: %w", api.ErrInvalidPlan, err)
	}
	if err := e.checkProducers(plan); err != nil {
		return err
	}
	return e.checkSteps(plan)
}

// spawn indexes and creates a node execution. It returns an empty status
// when the node exists, or else the status its chain ends with: ABORTED
// when the plan no longer accepts nodes, SKIPPED when only skip nodes
// remain on the path
func (e *Engine) spawn(
	planID api.PlanExecutionID, spec *spawnSpec,
) (api.Status, error) {
	var ended api.Status
	plan, err := e.planTx(planID, func(tx *planTx) error {
		ended = ""
		st := tx.Value()
		if st.ID == "" {
			return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
		}
		if _, ok := st.Nodes[spec.nodeID]; ok {
			return nil
		}
		if st.Status == api.StatusDiscontinuing || st.Status.IsTerminal() {
			ended = api.StatusAborted
			return nil
		}
		id, ok := resolveSkips(st.Plan, spec.planNodeID)
		if !ok {
			ended = api.StatusSkipped
			return nil
		}
		return tx.raise(api.EventTypeNodeIndexed, api.NodeIndexedEvent{
			NodeExecutionID: spec.nodeID,
			PlanNodeID:      id,
			ParentID:        spec.parentID,
			PreviousID:      spec.previousID,
			ChainID:         spec.chainID,
			RetryIDs:        spec.retryIDs,
		})
	})
	if err != nil || ended != "" {
		return ended, err
	}
	return "", e.materialize(plan, spec.nodeID)
}

// materialize creates the node aggregate for an indexed node and starts
// it. Both steps are no-ops for a node that already exists
func (e *Engine) materialize(
	plan *api.PlanExecution, id api.NodeExecutionID,
) error {
	idx, ok := plan.Nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	ref := api.NodeRef{PlanExecutionID: plan.ID, NodeExecutionID: id}
	_, err := e.nodeTx(ref, func(tx *nodeTx) error {
		if tx.Value().ID != "" {
			return nil
		}
		return tx.raise(api.EventTypeNodeCreated, api.NodeCreatedEvent{
			Node: &api.NodeExecution{
				ID:              id,
				PlanExecutionID: plan.ID,
				PlanNodeID:      idx.PlanNodeID,
				Ambiance:        ambianceOf(plan, id),
				ParentID:        idx.ParentID,
				PreviousID:      idx.PreviousID,
				ChainID:         idx.ChainID,
				RetryIDs:        idx.RetryIDs,
			},
		})
	})
	if err != nil {
		return err
	}
	e.send(ref, msgStart{})
	return nil
}

// ambianceOf builds a node's ambiance from the levels of its ancestors
func ambianceOf(
	plan *api.PlanExecution, id api.NodeExecutionID,
) *api.Ambiance {
	var path []api.NodeExecutionID
	for cur := id; cur != ""; {
		idx, ok := plan.Nodes[cur]
		if !ok {
			break
		}
		path = append(path, cur)
		cur = idx.ParentID
	}

	res := api.NewAmbiance(plan.ID, plan.SetupAbstractions, plan.ExpressionToken)
	for i := len(path) - 1; i >= 0; i-- {
		idx := plan.Nodes[path[i]]
		lvl := &api.Level{
			PlanNodeID:      idx.PlanNodeID,
			NodeExecutionID: path[i],
		}
		if pn, ok := plan.Plan.Node(idx.PlanNodeID); ok {
			lvl.Identifier = pn.Identifier
			lvl.StepType = pn.StepType
		}
		res = res.Child(lvl)
	}
	return res
}

// resolveSkips follows skip nodes to the first node that executes
func resolveSkips(p *api.Plan, id api.PlanNodeID) (api.PlanNodeID, bool) {
	seen := map[api.PlanNodeID]bool{}
	for id != "" && !seen[id] {
		seen[id] = true
		n, ok := p.Node(id)
		if !ok {
			return "", false
		}
		if !n.IsSkipNode() {
			return id, true
		}
		id = n.Next
	}
	return "", false
}
