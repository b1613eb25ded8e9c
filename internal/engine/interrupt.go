package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

// RegisterInterrupt records an interrupt against a plan execution and
// applies it to the nodes it targets. Registering an interrupt id that is
// already recorded returns the recorded interrupt without applying it
// again. The call returns once every targeted node has handled it
func (e *Engine) RegisterInterrupt(
	ctx context.Context, planID api.PlanExecutionID, req *api.InterruptRequest,
) (*api.Interrupt, error) {
	in := &api.Interrupt{
		ID:              req.ID,
		Type:            req.Type,
		PlanExecutionID: planID,
		NodeExecutionID: req.NodeExecutionID,
		IssuedAt:        e.Now(),
		IssuedBy:        req.IssuedBy,
		Parameters:      req.Parameters,
	}
	if in.ID == "" {
		in.ID = api.NewID[api.InterruptID]()
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	plan, err := e.GetPlanExecution(ctx, planID)
	if err != nil {
		return nil, err
	}
	if rec, ok := plan.Interrupts[in.ID]; ok {
		return rec.Interrupt, nil
	}
	if err := e.checkInterrupt(ctx, plan, in); err != nil {
		return nil, err
	}

	var existing *api.Interrupt
	plan, err = e.planTx(planID, func(tx *planTx) error {
		existing = nil
		st := tx.Value()
		if rec, ok := st.Interrupts[in.ID]; ok {
			existing = rec.Interrupt
			return nil
		}
		if st.Status.IsTerminal() {
			return fmt.Errorf("%w: plan is %s", ErrInterruptNotAllowed, st.Status)
		}
		err := tx.raise(api.EventTypeInterruptRegistered,
			api.InterruptRegisteredEvent{Interrupt: in},
		)
		if err != nil {
			return err
		}
		to, ok := planStatusFor(in.Type)
		if !ok || !planTransitions.CanTransition(st.Status, to) {
			return nil
		}
		return tx.raise(api.EventTypePlanStatusChanged,
			api.PlanStatusChangedEvent{Status: to},
		)
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	slog.Info("Interrupt registered",
		log.PlanExecutionID(planID),
		log.InterruptID(in.ID),
		slog.String("type", string(in.Type)))

	b := e.applyInterrupt(plan, in)
	if !b.wait(ctx) {
		return in, ctx.Err()
	}
	return in, nil
}

func (e *Engine) checkInterrupt(
	ctx context.Context, plan *api.PlanExecution, in *api.Interrupt,
) error {
	if plan.Status.IsTerminal() {
		return fmt.Errorf("%w: plan is %s", ErrInterruptNotAllowed, plan.Status)
	}
	if in.Type.IsPlanScoped() {
		if to, ok := planStatusFor(in.Type); ok &&
			!planTransitions.CanTransition(plan.Status, to) {
			return fmt.Errorf("%w: %s on plan %s",
				ErrInterruptNotAllowed, in.Type, plan.Status)
		}
		return nil
	}
	node, err := e.GetNodeExecution(ctx, api.NodeRef{
		PlanExecutionID: plan.ID,
		NodeExecutionID: in.NodeExecutionID,
	})
	if err != nil {
		return err
	}
	if !interruptAllowed(in.Type, node.Status) {
		return fmt.Errorf("%w: %s on node %s",
			ErrInterruptNotAllowed, in.Type, node.Status)
	}
	return nil
}

// applyInterrupt fans the interrupt out to its target nodes and marks it
// processed once each has handled it
func (e *Engine) applyInterrupt(
	plan *api.PlanExecution, in *api.Interrupt,
) *batch {
	targets := interruptTargets(plan, in)
	b := newBatch(len(targets))
	e.async(func() {
		if b.wait(e.ctx) {
			e.interruptProcessed(plan.ID, in)
		}
	})
	for _, id := range targets {
		e.send(api.NodeRef{
			PlanExecutionID: plan.ID,
			NodeExecutionID: id,
		}, msgInterrupt{interrupt: in, batch: b})
	}
	return b
}

func (e *Engine) interruptProcessed(id api.PlanExecutionID, in *api.Interrupt) {
	_, err := e.planTx(id, func(tx *planTx) error {
		rec, ok := tx.Value().Interrupts[in.ID]
		if !ok || rec.IsProcessed() {
			return nil
		}
		return tx.raise(api.EventTypeInterruptProcessed,
			api.InterruptProcessedEvent{InterruptID: in.ID},
		)
	})
	if err != nil {
		slog.Error("Failed to mark interrupt processed",
			log.PlanExecutionID(id),
			log.InterruptID(in.ID),
			log.Error(err))
		return
	}
	if in.Type != api.InterruptAbortAll {
		return
	}
	err = e.finishPlan(id, api.StatusAborted,
		api.NewFailure(api.FailureInterrupt, "plan aborted"),
	)
	if err != nil {
		slog.Error("Failed to finish aborted plan",
			log.PlanExecutionID(id),
			log.Error(err))
	}
}

// interrupt applies one interrupt to this node. Nodes that already
// recorded the interrupt, or whose status does not accept it, are left
// alone
func (a *nodeActor) interrupt(in *api.Interrupt, b *batch) error {
	defer b.complete()

	node, err := a.load()
	if err != nil || node.ID == "" || node.Status.IsTerminal() {
		return err
	}
	if node.HasInterrupt(in.ID) || !interruptAllowed(in.Type, node.Status) {
		return nil
	}

	h := &api.InterruptHistory{
		InterruptID: in.ID,
		Type:        in.Type,
		FromStatus:  node.Status,
		AppliedAt:   a.Now(),
	}
	slog.Info("Applying interrupt",
		log.NodeExecutionID(node.ID),
		log.InterruptID(in.ID),
		log.Status(node.Status))

	switch in.Type.NodeType() {
	case api.InterruptAbort:
		return a.force(node, &outcome{
			status:  api.StatusAborted,
			failure: interruptFailure(in, "aborted"),
			history: h,
		})
	case api.InterruptPause:
		return a.pause(node, h)
	case api.InterruptResume:
		return a.resume(node, h)
	case api.InterruptRetry:
		status := node.PausedFrom
		if status == "" {
			status = api.StatusFailed
		}
		return a.complete(&outcome{
			status:  status,
			failure: node.Failure,
			advise:  &api.Advise{Type: api.AdviseRetry, Reason: "retry interrupt"},
			history: h,
		})
	case api.InterruptMarkSuccess:
		return a.force(node, &outcome{
			status:  api.StatusSucceeded,
			advise:  &api.Advise{Type: api.AdviseMarkSuccess},
			history: h,
		})
	case api.InterruptMarkFailed:
		return a.force(node, &outcome{
			status:  api.StatusFailed,
			failure: interruptFailure(in, "marked failed"),
			advise:  &api.Advise{Type: api.AdviseMarkFailed},
			history: h,
		})
	case api.InterruptMarkExpired:
		return a.force(node, &outcome{
			status:  api.StatusExpired,
			failure: interruptFailure(in, "marked expired"),
			advise:  &api.Advise{Type: api.AdvisePropagate},
			history: h,
		})
	default:
		h.ToStatus = node.Status
		_, err := a.tx(func(tx *nodeTx) error {
			return tx.raise(api.EventTypeInterruptApplied,
				api.InterruptAppliedEvent{History: h},
			)
		})
		return err
	}
}

// pause parks the node and freezes its timeouts. A result that arrives
// while paused is kept until the node resumes
func (a *nodeActor) pause(node *api.NodeExecution, h *api.InterruptHistory) error {
	g := a.group(node)
	g.Pause()
	a.CancelTask(nodeTaskPath(a.ref, pathTimeout))
	_, err := a.tx(func(tx *nodeTx) error {
		if h != nil {
			rec := *h
			rec.ToStatus = api.StatusPaused
			err := tx.raise(api.EventTypeInterruptApplied,
				api.InterruptAppliedEvent{History: &rec},
			)
			if err != nil {
				return err
			}
		}
		if err := tx.setStatus(api.StatusPaused, nil); err != nil {
			return err
		}
		return tx.saveTimeouts(g)
	})
	if err != nil {
		return err
	}
	slog.Info("Node paused",
		log.PlanExecutionID(node.PlanExecutionID),
		log.NodeExecutionID(node.ID))
	return nil
}

// resume returns a paused node to the status it was paused from and
// continues whatever it was doing
func (a *nodeActor) resume(node *api.NodeExecution, h *api.InterruptHistory) error {
	to := node.PausedFrom
	if to == "" {
		to = api.StatusQueued
	}
	g := a.group(node)
	if r := node.Restraint; r == nil || r.State != api.RestraintBlocked {
		g.Resume()
	}
	updated, err := a.tx(func(tx *nodeTx) error {
		rec := *h
		rec.ToStatus = to
		err := tx.raise(api.EventTypeInterruptApplied,
			api.InterruptAppliedEvent{History: &rec},
		)
		if err != nil {
			return err
		}
		if err := tx.setStatus(to, nil); err != nil {
			return err
		}
		return tx.saveTimeouts(g)
	})
	if err != nil {
		return err
	}
	slog.Info("Node resumed",
		log.PlanExecutionID(node.PlanExecutionID),
		log.NodeExecutionID(node.ID),
		log.Status(to))
	a.scheduleTimeout(updated)
	return a.proceed(updated)
}

// proceed continues a node from its persisted status
func (a *nodeActor) proceed(node *api.NodeExecution) error {
	rt := a.runtime()
	switch node.Status {
	case api.StatusQueued:
		return a.start()
	case api.StatusRunning:
		if d := rt.deferred; d != nil {
			rt.deferred = nil
			return a.applyResult(node, d.result)
		}
		if rt.cancel != nil {
			return nil
		}
		return a.rerun(node)
	case api.StatusAsyncWaiting, api.StatusTaskWaiting:
		return a.checkCallbacks(node)
	case api.StatusChildWaiting:
		return a.advanceChildren(node)
	default:
		return nil
	}
}

// rerun restarts a RUNNING node that has nothing in flight, picking up
// from the last response it recorded
func (a *nodeActor) rerun(node *api.NodeExecution) error {
	last := node.LastResponse()
	switch {
	case last == nil:
		return a.facilitate(node)
	case last.Type == api.ModeAsync, last.Type == api.ModeTask:
		if node.Mode == last.Type && node.CallbacksComplete() {
			return a.runHandler(node)
		}
	case last.Type.IsChildMode():
		if node.Mode == last.Type &&
			(len(node.Children) == 0 || node.ChildrenComplete()) {
			return a.runHandler(node)
		}
	}
	return a.facilitate(node)
}

func interruptTargets(
	plan *api.PlanExecution, in *api.Interrupt,
) []api.NodeExecutionID {
	if in.Type.IsPlanScoped() {
		return plan.NodeIDs()
	}
	switch in.Type {
	case api.InterruptAbort, api.InterruptPause, api.InterruptResume:
		return append(
			[]api.NodeExecutionID{in.NodeExecutionID},
			plan.Descendants(in.NodeExecutionID)...,
		)
	default:
		return []api.NodeExecutionID{in.NodeExecutionID}
	}
}

func planStatusFor(typ api.InterruptType) (api.Status, bool) {
	switch typ {
	case api.InterruptAbortAll:
		return api.StatusDiscontinuing, true
	case api.InterruptPauseAll:
		return api.StatusPaused, true
	case api.InterruptResumeAll:
		return api.StatusRunning, true
	default:
		return "", false
	}
}

func interruptFailure(in *api.Interrupt, what string) *api.FailureInfo {
	return api.NewFailure(api.FailureInterrupt,
		fmt.Sprintf("%s by interrupt %s", what, in.ID))
}
