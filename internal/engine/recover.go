package engine

import (
	"cmp"
	"errors"
	"log/slog"
	"slices"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

type recoveredPlan struct {
	plan    *api.PlanExecution
	nodes   []*api.NodeExecution
	missing []api.NodeExecutionID
}

// RecoverPlans rebuilds the in-memory state of every active plan from the
// event stores and resumes each node where it left off
func (e *Engine) RecoverPlans() error {
	st, err := e.GetEngineState(e.ctx)
	if err != nil {
		return err
	}
	for unit, capacity := range st.Capacities {
		if _, err := e.restraints.SetCapacity(unit, capacity); err != nil {
			return err
		}
	}
	for id, ref := range st.Correlations {
		e.correlations.Store(id, *ref)
	}

	var plans []*recoveredPlan
	for _, id := range sortedKeys(st.Active) {
		rp, err := e.loadRecoveredPlan(id)
		if err != nil {
			return err
		}
		if rp != nil {
			plans = append(plans, rp)
		}
	}

	e.restoreRestraints(plans)
	for _, rp := range plans {
		for _, n := range rp.nodes {
			e.send(n.Ref(), msgRecover{})
		}
		for _, id := range rp.missing {
			if err := e.materialize(rp.plan, id); err != nil {
				return err
			}
		}
		for _, id := range sortedKeys(rp.plan.Interrupts) {
			if rec := rp.plan.Interrupts[id]; !rec.IsProcessed() {
				e.applyInterrupt(rp.plan, rec.Interrupt)
			}
		}
	}
	e.restraints.Promote()

	if len(plans) != 0 {
		slog.Info("Plans recovered", slog.Int("count", len(plans)))
	}
	return nil
}

func (e *Engine) loadRecoveredPlan(
	id api.PlanExecutionID,
) (*recoveredPlan, error) {
	plan, err := e.GetPlanExecution(e.ctx, id)
	if errors.Is(err, ErrPlanNotFound) {
		return nil, e.raiseEngineEvent(api.EventTypePlanDeactivated,
			api.PlanDeactivatedEvent{PlanExecutionID: id},
		)
	}
	if err != nil {
		return nil, err
	}
	if plan.Status.IsTerminal() {
		e.planFinished(plan)
		return nil, nil
	}

	res := &recoveredPlan{plan: plan}
	for _, nid := range plan.NodeIDs() {
		n, err := e.loadNode(e.ctx, api.NodeRef{
			PlanExecutionID: id,
			NodeExecutionID: nid,
		})
		if err != nil {
			return nil, err
		}
		if n.ID == "" {
			res.missing = append(res.missing, nid)
			continue
		}
		res.nodes = append(res.nodes, n)
	}
	slog.Info("Recovering plan",
		log.PlanExecutionID(id),
		log.Status(plan.Status),
		slog.Int("nodes", len(res.nodes)))
	return res, nil
}

// restoreRestraints re-enqueues the live restraint instances in their
// original order. Plan-scoped instances are held until the plan ends, so
// they are restored even from terminal nodes
func (e *Engine) restoreRestraints(plans []*recoveredPlan) {
	byID := map[api.RestraintInstanceID]*api.RestraintInstance{}
	for _, rp := range plans {
		for _, n := range rp.nodes {
			r := n.Restraint
			if r == nil || r.State == api.RestraintFinished {
				continue
			}
			if n.Status.IsTerminal() && r.Scope != api.ScopePlan {
				continue
			}
			if prev, ok := byID[r.ID]; ok && prev.State == api.RestraintActive {
				continue
			}
			byID[r.ID] = r
			if r.State == api.RestraintBlocked && !n.Status.IsTerminal() {
				e.waiting.add(admissionKey{unit: r.Unit, holder: r.HolderID},
					n.Ref())
			}
		}
	}

	insts := make([]*api.RestraintInstance, 0, len(byID))
	for _, r := range byID {
		insts = append(insts, r)
	}
	slices.SortFunc(insts, func(l, r *api.RestraintInstance) int {
		return cmp.Compare(l.Sequence, r.Sequence)
	})
	for _, r := range insts {
		e.restraints.Restore(r)
	}
}

// recover resumes a node after a restart
func (a *nodeActor) recover() error {
	node, err := a.load()
	if err != nil || node.ID == "" {
		return err
	}
	if node.Status.IsTerminal() {
		return a.replay(node)
	}

	switch node.Status {
	case api.StatusDiscontinuing:
		return a.complete(&outcome{
			status:  api.StatusAborted,
			failure: api.NewFailure(api.FailureEngine, "interrupted by restart"),
		})
	case api.StatusPaused, api.StatusInterventionWaiting:
		a.group(node)
		return nil
	case api.StatusAsyncWaiting, api.StatusTaskWaiting:
		for _, id := range node.PendingCallbacks() {
			a.correlations.Store(id, a.ref)
		}
	case api.StatusChildWaiting:
		if err := a.respawnChildren(node); err != nil {
			return err
		}
	}
	a.scheduleTimeout(node)
	return a.proceed(node)
}

// replay repeats the advise of a completed node. Its effects are
// idempotent, so a node whose successors already exist changes nothing
func (a *nodeActor) replay(node *api.NodeExecution) error {
	if node.Advise == nil {
		return nil
	}
	_, pn, err := a.planNode(node)
	if err != nil {
		return err
	}
	return a.act(node, pn, node.Advise)
}

// respawnChildren makes sure every chain the node still waits on has its
// head node created and started
func (a *nodeActor) respawnChildren(node *api.NodeExecution) error {
	ids := childIDs(node.LastResponse())
	for i, id := range ids {
		chain := childChainID(node.ID, i)
		s, ok := node.Children[chain]
		if !ok || s.IsTerminal() {
			continue
		}
		if err := a.spawnChild(node, i, id); err != nil {
			return err
		}
	}
	return nil
}

func childIDs(r *api.ExecutableResponse) []api.PlanNodeID {
	switch {
	case r == nil:
		return nil
	case r.Child != nil:
		return []api.PlanNodeID{r.Child.ChildNodeID}
	case r.Children != nil:
		return r.Children.ChildNodeIDs
	case r.ChildChain != nil:
		return r.ChildChain.ChildNodeIDs
	default:
		return nil
	}
}
