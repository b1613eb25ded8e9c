package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

// batch counts down messages fanned out to several node actors
type batch struct {
	done      chan struct{}
	remaining atomic.Int64
}

const archiveTimeout = 30 * time.Second

func newBatch(n int) *batch {
	b := &batch{done: make(chan struct{})}
	b.remaining.Store(int64(n))
	if n <= 0 {
		close(b.done)
	}
	return b
}

func (b *batch) complete() {
	if b == nil {
		return
	}
	if b.remaining.Add(-1) == 0 {
		close(b.done)
	}
}

func (b *batch) wait(ctx context.Context) bool {
	select {
	case <-b.done:
		return true
	case <-ctx.Done():
		return false
	}
}

// chainEnd reports the end of a chain: to the parent node for a child
// chain, or as the plan's outcome for the top-level chain
func (a *nodeActor) chainEnd(node *api.NodeExecution, status api.Status) error {
	if node.ParentID != "" {
		a.send(api.NodeRef{
			PlanExecutionID: node.PlanExecutionID,
			NodeExecutionID: node.ParentID,
		}, msgChildDone{chain: node.ChainID, status: status})
		return nil
	}
	return a.finishPlan(node.PlanExecutionID, planOutcome(status), node.Failure)
}

// endPlan finishes the plan early on an END_PLAN advise
func (a *nodeActor) endPlan(node *api.NodeExecution) error {
	_, err := a.planTx(node.PlanExecutionID, func(tx *planTx) error {
		st := tx.Value()
		if !planTransitions.CanTransition(st.Status, api.StatusDiscontinuing) {
			return nil
		}
		return tx.raise(api.EventTypePlanStatusChanged,
			api.PlanStatusChangedEvent{Status: api.StatusDiscontinuing},
		)
	})
	if err != nil {
		return err
	}
	return a.finishPlan(node.PlanExecutionID, planOutcome(node.Status),
		node.Failure)
}

// finishPlan records the plan's terminal status. Finishing a plan that has
// already finished is a no-op
func (e *Engine) finishPlan(
	id api.PlanExecutionID, status api.Status, failure *api.FailureInfo,
) error {
	_, err := e.planTx(id, func(tx *planTx) error {
		st := tx.Value()
		if st.ID == "" || st.Status.IsTerminal() {
			return nil
		}
		if !planTransitions.CanTransition(st.Status, status) {
			return fmt.Errorf("%w: %s -> %s",
				ErrInvalidTransition, st.Status, status)
		}
		if err := tx.raise(api.EventTypePlanCompleted, api.PlanCompletedEvent{
			Status:  status,
			Failure: failure,
		}); err != nil {
			return err
		}
		tx.OnSuccess(func(plan *api.PlanExecution) {
			e.planFinished(plan)
		})
		return nil
	})
	return err
}

// planFinished releases what the plan holds, aborts the nodes still live,
// and then deactivates and archives the plan
func (e *Engine) planFinished(plan *api.PlanExecution) {
	slog.Info("Plan completed",
		log.PlanExecutionID(plan.ID),
		log.Status(plan.Status))

	e.restraints.ReleaseHolder(api.HolderID(plan.ID))
	e.CancelPrefixedTasks(planPath(plan.ID))

	e.async(func() {
		b := e.abortRemaining(plan)
		if !b.wait(e.ctx) {
			return
		}
		e.dropCorrelations(plan.ID)
		err := e.raiseEngineEvent(api.EventTypePlanDeactivated,
			api.PlanDeactivatedEvent{PlanExecutionID: plan.ID},
		)
		if err != nil {
			slog.Error("Failed to deactivate plan",
				log.PlanExecutionID(plan.ID),
				log.Error(err))
			return
		}
		e.archive(plan.ID)
	})
}

func (e *Engine) abortRemaining(plan *api.PlanExecution) *batch {
	var live []api.NodeRef
	for _, id := range plan.NodeIDs() {
		ref := api.NodeRef{PlanExecutionID: plan.ID, NodeExecutionID: id}
		node, err := e.loadNode(e.ctx, ref)
		if err != nil || node.ID == "" || node.Status.IsTerminal() {
			continue
		}
		live = append(live, ref)
	}
	b := newBatch(len(live))
	for _, ref := range live {
		e.send(ref, msgForce{
			status:  api.StatusAborted,
			failure: api.NewFailure(api.FailureInterrupt, "plan finished"),
			batch:   b,
		})
	}
	return b
}

func (e *Engine) dropCorrelations(id api.PlanExecutionID) {
	e.correlations.Range(func(k, v any) bool {
		if v.(api.NodeRef).PlanExecutionID == id {
			e.correlations.Delete(k)
		}
		return true
	})
}

func (e *Engine) archive(id api.PlanExecutionID) {
	if e.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(e.ctx, archiveTimeout)
	defer cancel()

	plan, err := e.GetPlanExecution(ctx, id)
	if err != nil {
		slog.Error("Failed to load plan for archive",
			log.PlanExecutionID(id),
			log.Error(err))
		return
	}
	nodes, err := e.loadNodes(ctx, plan, plan.NodeIDs())
	if err == nil {
		err = e.archiver.Archive(ctx, plan, nodes)
	}
	if err != nil {
		slog.Error("Failed to archive plan",
			log.PlanExecutionID(id),
			log.Error(err))
		return
	}
	slog.Info("Plan archived", log.PlanExecutionID(id))
}

// planOutcome maps the status a top-level chain ended with to the plan's
// terminal status
func planOutcome(status api.Status) api.Status {
	switch {
	case status.IsPositive():
		return api.StatusSucceeded
	case status == api.StatusAborted, status == api.StatusExpired:
		return status
	default:
		return api.StatusFailed
	}
}
