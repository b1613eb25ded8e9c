package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

// outcome is how a node execution ended. A preset advise bypasses the
// plan node's advisers, and an immediate outcome skips DISCONTINUING
type outcome struct {
	status    api.Status
	failure   *api.FailureInfo
	outputs   json.RawMessage
	response  *api.ExecutableResponse
	advise    *api.Advise
	history   *api.InterruptHistory
	immediate bool
}

const transportTimeout = 10 * time.Second

// complete finishes the node: it releases everything the node holds, asks
// the advisers what follows, persists the terminal status with the advise,
// and then acts on the advise
func (a *nodeActor) complete(o *outcome) error {
	node, err := a.load()
	if err != nil || node.ID == "" || node.Status.IsTerminal() {
		return err
	}
	plan, pn, err := a.planNode(node)
	if err != nil {
		return err
	}
	a.stopRuntime(node)

	adv := o.advise
	if adv == nil {
		if o.status == api.StatusAborted {
			adv = &api.Advise{Type: api.AdvisePropagate}
		} else if adv, err = a.advise(plan, node, pn, o); err != nil {
			o = adviserFailed(node, o, err)
			adv = &api.Advise{Type: api.AdvisePropagate}
		}
	}
	if adv.Type == api.AdviseIntervene {
		if nodeTransitions.CanTransition(
			node.Status, api.StatusInterventionWaiting,
		) {
			return a.intervene(node, o, adv)
		}
		adv = &api.Advise{Type: api.AdvisePropagate, Reason: adv.Reason}
	}

	status := advisedStatus(o.status, adv)
	if !nodeTransitions.CanTransition(node.Status, status) {
		status = o.status
	}
	updated, err := a.tx(func(tx *nodeTx) error {
		if err := tx.record(o, status); err != nil {
			return err
		}
		err := tx.raise(api.EventTypeNodeAdvised,
			api.NodeAdvisedEvent{Advise: adv},
		)
		if err != nil {
			return err
		}
		st := tx.Value()
		if !nodeTransitions.CanTransition(st.Status, status) {
			return fmt.Errorf("%w: %s -> %s",
				ErrInvalidTransition, st.Status, status)
		}
		return tx.raise(api.EventTypeNodeCompleted, api.NodeCompletedEvent{
			PlanNodeID: st.PlanNodeID,
			Status:     status,
			FromStatus: st.Status,
			Failure:    o.failure,
			Outputs:    o.outputs,
		})
	})
	if err != nil {
		return err
	}

	slog.Info("Node completed",
		log.PlanExecutionID(updated.PlanExecutionID),
		log.NodeExecutionID(updated.ID),
		log.PlanNodeID(updated.PlanNodeID),
		log.Status(updated.Status),
		slog.String("advise", string(adv.Type)))

	a.abortChildren(plan, node)
	a.dropRuntime()
	return a.act(updated, pn, adv)
}

// stopRuntime cancels everything in flight for the node
func (a *nodeActor) stopRuntime(node *api.NodeExecution) {
	rt := a.runtime()
	if rt.cancel != nil {
		rt.cancel()
		rt.cancel = nil
	}
	rt.runSeq++
	rt.deferred = nil
	rt.timeouts.Stop()
	a.CancelPrefixedTasks(nodePath(a.ref))
	a.removeCorrelations(node)

	if r := node.Restraint; r != nil {
		a.waiting.remove(admissionKey{unit: r.Unit, holder: r.HolderID}, a.ref)
		if r.Scope != api.ScopePlan {
			a.restraints.Release(r.Unit, r.HolderID)
		}
	}
}

// advise consults the plan node's advisers. Any adviser error, panic or
// missing advise is reported as an error
func (a *nodeActor) advise(
	plan *api.PlanExecution, node *api.NodeExecution, pn *api.PlanNode,
	o *outcome,
) (res *api.Advise, err error) {
	prod, err := a.producersFor(plan)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("%w: %v", ErrAdviserPanicked, r)
		}
	}()

	chain, err := prod.advisers[pn.ID].Chain()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdviserFailed, err)
	}
	res, err = chain.Advise(&api.AdvisingEvent{
		Ambiance:        node.Ambiance,
		PlanNodeID:      node.PlanNodeID,
		NodeExecutionID: node.ID,
		Status:          o.status,
		FromStatus:      node.Status,
		Failure:         o.failure,
		RetryIDs:        node.RetryIDs,
		Parameters:      pn.StepParameters,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdviserFailed, err)
	}
	if res == nil {
		return nil, ErrNoAdvise
	}
	return res, nil
}

// adviserFailed turns the outcome into an engine error. A node that can
// no longer become ERRORED keeps its status but still carries the failure
func adviserFailed(
	node *api.NodeExecution, o *outcome, err error,
) *outcome {
	slog.Error("Adviser failed",
		log.PlanExecutionID(node.PlanExecutionID),
		log.NodeExecutionID(node.ID),
		log.Error(err))
	res := *o
	res.failure = api.NewFailure(api.FailureEngine, err.Error())
	if nodeTransitions.CanTransition(node.Status, api.StatusErrored) {
		res.status = api.StatusErrored
	}
	return &res
}

// intervene parks the node in INTERVENTION_WAITING, remembering the
// outcome a later RETRY interrupt resumes from
func (a *nodeActor) intervene(
	node *api.NodeExecution, o *outcome, adv *api.Advise,
) error {
	_, err := a.tx(func(tx *nodeTx) error {
		if err := tx.record(o, api.StatusInterventionWaiting); err != nil {
			return err
		}
		err := tx.raise(api.EventTypeNodeAdvised,
			api.NodeAdvisedEvent{Advise: adv},
		)
		if err != nil {
			return err
		}
		return tx.raise(api.EventTypeNodeStatusChanged,
			api.NodeStatusChangedEvent{
				PlanNodeID: node.PlanNodeID,
				Status:     api.StatusInterventionWaiting,
				FromStatus: tx.Value().Status,
				PausedFrom: o.status,
				Failure:    o.failure,
			},
		)
	})
	if err != nil {
		return err
	}
	slog.Warn("Node awaiting intervention",
		log.PlanExecutionID(node.PlanExecutionID),
		log.NodeExecutionID(node.ID),
		log.Status(o.status))
	return nil
}

// act follows the advise of a completed node. Every step it takes is
// idempotent, so recovery replays it for nodes that completed just before
// a crash
func (a *nodeActor) act(
	node *api.NodeExecution, pn *api.PlanNode, adv *api.Advise,
) error {
	switch adv.Type {
	case api.AdviseRetry:
		return a.scheduleRetry(node, adv)
	case api.AdviseEndPlan:
		return a.endPlan(node)
	case api.AdvisePropagate, api.AdviseMarkFailed:
		return a.chainEnd(node, node.Status)
	}
	next := adv.NextNodeID
	if next == "" {
		next = pn.Next
	}
	if next == "" {
		return a.chainEnd(node, node.Status)
	}
	ended, err := a.spawn(node.PlanExecutionID, &spawnSpec{
		planNodeID: next,
		nodeID:     nextNodeID(node.ID, next),
		parentID:   node.ParentID,
		previousID: node.ID,
		chainID:    node.ChainID,
	})
	switch {
	case err != nil:
		return err
	case ended == api.StatusAborted:
		return a.chainEnd(node, ended)
	case ended != "":
		return a.chainEnd(node, node.Status)
	}
	return nil
}

func (a *nodeActor) scheduleRetry(node *api.NodeExecution, adv *api.Advise) error {
	wait := adv.RetryWait()
	if wait <= 0 {
		return a.spawnRetry(node)
	}
	ref := a.ref
	at := node.EndTS.Add(wait)
	slog.Info("Retry scheduled",
		log.NodeExecutionID(node.ID),
		slog.Time("at", at))
	a.ScheduleTask(nodeTaskPath(ref, pathRetry), at, func() error {
		a.send(ref, msgRetry{})
		return nil
	})
	return nil
}

func (a *nodeActor) retry() error {
	node, err := a.load()
	if err != nil || node.ID == "" || !node.Status.IsTerminal() {
		return err
	}
	if node.Advise == nil || node.Advise.Type != api.AdviseRetry {
		return nil
	}
	return a.spawnRetry(node)
}

func (a *nodeActor) spawnRetry(node *api.NodeExecution) error {
	ended, err := a.spawn(node.PlanExecutionID, &spawnSpec{
		planNodeID: node.PlanNodeID,
		nodeID:     retryNodeID(node.ID),
		parentID:   node.ParentID,
		previousID: node.PreviousID,
		chainID:    node.ChainID,
		retryIDs:   append(slices.Clone(node.RetryIDs), node.ID),
	})
	if err != nil || ended == "" {
		return err
	}
	return a.chainEnd(node, ended)
}

// force ends a node from outside its normal flow. A node cancelled with
// work in flight passes through DISCONTINUING while that work is withdrawn
func (a *nodeActor) force(node *api.NodeExecution, o *outcome) error {
	if o.history != nil {
		o.history.ToStatus = o.status
	}
	if o.status.IsForced() && !o.immediate && a.inFlight(node) {
		_, err := a.tx(func(tx *nodeTx) error {
			if o.history != nil {
				err := tx.raise(api.EventTypeInterruptApplied,
					api.InterruptAppliedEvent{History: o.history},
				)
				if err != nil {
					return err
				}
			}
			return tx.setStatus(api.StatusDiscontinuing, o.failure)
		})
		if err != nil {
			return err
		}
		o.history = nil
	}
	if node.TaskID != "" && waitingOn(node, api.StatusTaskWaiting) {
		a.releaseTask(node.TaskID, o.status == api.StatusExpired)
	}
	return a.complete(o)
}

func (a *nodeActor) forced(m msgForce) error {
	defer m.batch.complete()
	node, err := a.load()
	if err != nil || node.ID == "" || node.Status.IsTerminal() {
		return err
	}
	return a.force(node, &outcome{status: m.status, failure: m.failure})
}

func (a *nodeActor) inFlight(node *api.NodeExecution) bool {
	switch node.Status {
	case api.StatusTaskWaiting, api.StatusChildWaiting:
		return true
	case api.StatusRunning:
		return a.runtime().cancel != nil
	default:
		return false
	}
}

// releaseTask withdraws a submitted task from the transport
func (e *Engine) releaseTask(id api.TaskID, expired bool) {
	if e.transport == nil {
		return
	}
	e.async(func() {
		ctx, cancel := context.WithTimeout(e.ctx, transportTimeout)
		defer cancel()
		var err error
		if expired {
			err = e.transport.Expire(ctx, id)
		} else {
			_, err = e.transport.Abort(ctx, id)
		}
		if err != nil {
			slog.Warn("Failed to withdraw task",
				slog.String("task_id", string(id)),
				log.Error(err))
		}
	})
}

// abortChildren forces every live node below a node that has ended
func (a *nodeActor) abortChildren(
	plan *api.PlanExecution, node *api.NodeExecution,
) {
	if !waitingOn(node, api.StatusChildWaiting) &&
		node.Status != api.StatusDiscontinuing {
		return
	}
	for _, id := range plan.ChildrenOf(node.ID) {
		a.send(api.NodeRef{
			PlanExecutionID: plan.ID,
			NodeExecutionID: id,
		}, msgForce{
			status:  api.StatusAborted,
			failure: api.NewFailure(api.FailureInterrupt, "parent ended"),
		})
	}
}

func (tx *nodeTx) record(o *outcome, to api.Status) error {
	if o.response != nil {
		err := tx.raise(api.EventTypeResponseRecorded,
			api.ResponseRecordedEvent{Response: o.response},
		)
		if err != nil {
			return err
		}
	}
	if o.history == nil {
		return nil
	}
	h := *o.history
	h.ToStatus = to
	return tx.raise(api.EventTypeInterruptApplied,
		api.InterruptAppliedEvent{History: &h},
	)
}

func advisedStatus(status api.Status, adv *api.Advise) api.Status {
	switch adv.Type {
	case api.AdviseIgnore:
		if !status.IsPositive() {
			return api.StatusIgnoreFailed
		}
	case api.AdviseMarkSuccess:
		return api.StatusSucceeded
	case api.AdviseMarkFailed:
		return api.StatusFailed
	}
	return status
}

// waitingOn reports whether the node is in, or paused from, the status
func waitingOn(node *api.NodeExecution, status api.Status) bool {
	return node.Status == status ||
		node.Status == api.StatusPaused && node.PausedFrom == status
}
