package engine

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/kode4food/conductor/internal/restraint"
	"github.com/kode4food/conductor/internal/timeout"
	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

func (a *nodeActor) start() error {
	node, err := a.load()
	if err != nil || node.ID == "" || node.Status != api.StatusQueued {
		return err
	}

	if r := node.Restraint; r != nil {
		if r.State == api.RestraintActive {
			return a.begin(node)
		}
		return nil
	}

	plan, pn, err := a.planNode(node)
	if err != nil {
		return err
	}
	switch {
	case plan.Status == api.StatusPaused:
		return a.pause(node, nil)
	case plan.Status == api.StatusDiscontinuing, plan.Status.IsTerminal():
		return a.complete(&outcome{
			status:  api.StatusAborted,
			failure: api.NewFailure(api.FailureInterrupt, "plan discontinued"),
		})
	}

	skip, err := a.scripts.ShouldSkip(node.Ambiance, pn)
	if err != nil {
		return a.complete(&outcome{
			status: api.StatusErrored,
			failure: api.NewFailure(api.FailureEngine,
				fmt.Sprintf("skip condition: %s", err)),
		})
	}
	if skip {
		return a.complete(&outcome{
			status:  api.StatusSkipped,
			failure: api.NewFailure(api.FailureSkip, "skip condition matched"),
		})
	}

	rt := a.runtime()
	rt.timeouts = a.timeouts.NewGroup(a.timeoutSpecs(pn))

	var inst *api.RestraintInstance
	if pn.Restraint != nil {
		inst, err = a.acquire(node, pn.Restraint)
		if err != nil {
			return a.complete(&outcome{
				status:  api.StatusErrored,
				failure: api.NewFailure(api.FailureRestraint, err.Error()),
			})
		}
		if inst.State == api.RestraintBlocked {
			rt.timeouts.Pause()
		}
	}

	updated, err := a.tx(func(tx *nodeTx) error {
		if inst != nil {
			err := tx.raise(api.EventTypeRestraintChanged,
				api.RestraintChangedEvent{Instance: inst},
			)
			if err != nil {
				return err
			}
		}
		return tx.saveTimeouts(rt.timeouts)
	})
	if err != nil {
		return err
	}

	if inst != nil && inst.State == api.RestraintBlocked {
		slog.Info("Node blocked on restraint",
			log.PlanExecutionID(node.PlanExecutionID),
			log.NodeExecutionID(node.ID),
			log.Unit(inst.Unit))
		return nil
	}
	return a.begin(updated)
}

// begin moves an admitted node to RUNNING and facilitates its first
// invocation
func (a *nodeActor) begin(node *api.NodeExecution) error {
	g := a.group(node)
	g.Resume()
	updated, err := a.tx(func(tx *nodeTx) error {
		if err := tx.setStatus(api.StatusRunning, nil); err != nil {
			return err
		}
		return tx.saveTimeouts(g)
	})
	if err != nil {
		return err
	}
	a.scheduleTimeout(updated)
	return a.facilitate(updated)
}

func (a *nodeActor) acquire(
	node *api.NodeExecution, req *api.ResourceRequirement,
) (*api.RestraintInstance, error) {
	key := admissionKey{
		unit:   req.Unit,
		holder: holderOf(node, req.EffectiveScope()),
	}
	a.waiting.add(key, a.ref)
	inst, err := a.restraints.Acquire(restraint.Request{
		Unit:     req.Unit,
		HolderID: key.holder,
		Permits:  req.Permits,
		Mode:     req.EffectiveMode(),
		Scope:    req.EffectiveScope(),
	})
	if err != nil || inst.State == api.RestraintActive {
		a.waiting.remove(key, a.ref)
	}
	return inst, err
}

// admitted handles a promotion on the unit the node waits on. Promotions
// are announced per holder, so a node that shares its holder with others
// confirms that its own instance was the one admitted
func (a *nodeActor) admitted(inst *api.RestraintInstance) error {
	node, err := a.load()
	if err != nil || node.ID == "" || node.Status.IsTerminal() {
		return err
	}
	own := node.Restraint
	if own == nil || own.State != api.RestraintBlocked {
		return nil
	}
	if inst.ID != own.ID {
		inst = a.currentInstance(own)
		if inst == nil || inst.State != api.RestraintActive {
			return nil
		}
	}
	a.waiting.remove(admissionKey{unit: own.Unit, holder: own.HolderID}, a.ref)

	updated, err := a.tx(func(tx *nodeTx) error {
		return tx.raise(api.EventTypeRestraintChanged,
			api.RestraintChangedEvent{Instance: inst},
		)
	})
	if err != nil {
		return err
	}
	slog.Info("Node admitted",
		log.PlanExecutionID(node.PlanExecutionID),
		log.NodeExecutionID(node.ID),
		log.Unit(inst.Unit))

	if updated.Status != api.StatusQueued {
		return nil
	}
	return a.begin(updated)
}

func (a *nodeActor) currentInstance(
	own *api.RestraintInstance,
) *api.RestraintInstance {
	insts := a.restraints.Instances(own.Unit)
	idx := slices.IndexFunc(insts, func(i *api.RestraintInstance) bool {
		return i.ID == own.ID
	})
	if idx < 0 {
		return nil
	}
	return insts[idx]
}

func (a *nodeActor) timeoutSpecs(pn *api.PlanNode) []*api.TimeoutSpec {
	if len(pn.Timeouts) != 0 || a.config.NodeTimeout <= 0 {
		return pn.Timeouts
	}
	return []*api.TimeoutSpec{{
		Dimension: api.DimensionAbsolute,
		Millis:    a.config.NodeTimeout.Milliseconds(),
	}}
}

func holderOf(node *api.NodeExecution, scope api.HoldingScope) api.HolderID {
	if scope == api.ScopePlan {
		return api.HolderID(node.PlanExecutionID)
	}
	return api.HolderID(node.ID)
}

// setStatus raises a non-terminal status change, refusing transitions the
// node's current status does not allow
func (tx *nodeTx) setStatus(to api.Status, failure *api.FailureInfo) error {
	st := tx.Value()
	if st.Status == to {
		return nil
	}
	if !nodeTransitions.CanTransition(st.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st.Status, to)
	}
	ev := api.NodeStatusChangedEvent{
		PlanNodeID: st.PlanNodeID,
		Status:     to,
		FromStatus: st.Status,
		Failure:    failure,
	}
	if to == api.StatusPaused {
		ev.PausedFrom = st.Status
	}
	return tx.raise(api.EventTypeNodeStatusChanged, ev)
}

func (tx *nodeTx) saveTimeouts(g *timeout.Group) error {
	if g.IsEmpty() && len(tx.Value().Timeouts) == 0 {
		return nil
	}
	return tx.raise(api.EventTypeTimeoutsUpdated,
		api.TimeoutsUpdatedEvent{Timeouts: g.Snapshot()},
	)
}
