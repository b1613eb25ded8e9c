package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/kode4food/conductor/internal/step"
	"github.com/kode4food/conductor/internal/timeout"
	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

// runResult is what one off-actor executor call produced. handled marks
// the result of a Handle* call, which always yields a final response
type runResult struct {
	mode     api.ExecutionMode
	sync     *api.StepResponse
	async    *api.AsyncResponse
	task     *api.TaskResponse
	children []api.PlanNodeID
	err      error
	fault    error
	panicked string
	handled  bool
}

var (
	ErrNoTransport      = errors.New("no task transport configured")
	ErrNilResponse      = errors.New("executor returned no response")
	ErrNoCorrelations   = errors.New("async response has no correlation ids")
	ErrUndeclaredChild  = errors.New("child not declared by plan node")
	ErrNonTerminalState = errors.New("step returned non-terminal status")
	ErrAdviserFailed    = errors.New("adviser failed")
	ErrAdviserPanicked  = errors.New("adviser panicked")
	ErrNoAdvise         = errors.New("adviser returned no advise")
)

// facilitate selects the node's execution mode and dispatches the
// executor, either immediately or after the facilitator's wait
func (a *nodeActor) facilitate(node *api.NodeExecution) error {
	plan, pn, err := a.planNode(node)
	if err != nil {
		return err
	}
	prod, err := a.producersFor(plan)
	if err != nil {
		return a.engineError(err)
	}

	resp, err := safeFacilitate(func() (*api.FacilitatorResponse, error) {
		chain, err := prod.facilitators[pn.ID].Chain()
		if err != nil {
			return nil, err
		}
		return chain.Facilitate(
			node.Ambiance, pn.StepParameters, node.ExecutableResponses,
		)
	})
	if err != nil {
		return a.engineError(fmt.Errorf("facilitation failed: %w", err))
	}

	exec, err := a.steps.Obtain(pn.StepType)
	if err != nil {
		return a.engineError(err)
	}
	if err := step.CheckMode(pn.StepType, exec, resp.Mode); err != nil {
		return a.engineError(err)
	}

	updated, err := a.tx(func(tx *nodeTx) error {
		return tx.raise(api.EventTypeNodeModeSelected,
			api.NodeModeSelectedEvent{Mode: resp.Mode},
		)
	})
	if err != nil {
		return err
	}

	rt := a.runtime()
	rt.runSeq++
	if resp.WaitDuration > 0 {
		seq := rt.runSeq
		ref := a.ref
		a.ScheduleTask(nodeTaskPath(ref, pathDispatch),
			a.Now().Add(resp.WaitDuration),
			func() error {
				a.send(ref, msgDispatch{seq: seq})
				return nil
			},
		)
		return nil
	}
	return a.execute(updated, pn, exec, false)
}

func (a *nodeActor) dispatchAfterWait(seq int64) error {
	if seq != a.runtime().runSeq {
		return nil
	}
	node, err := a.load()
	if err != nil || node.Status != api.StatusRunning {
		return err
	}
	_, pn, err := a.planNode(node)
	if err != nil {
		return err
	}
	exec, err := a.steps.Obtain(pn.StepType)
	if err != nil {
		return a.engineError(err)
	}
	return a.execute(node, pn, exec, false)
}

// execute invokes the executor on a tracked goroutine. The result comes
// back to the actor as a message tagged with the run's sequence, so a
// result from a superseded run is recognized and dropped
func (a *nodeActor) execute(
	node *api.NodeExecution, pn *api.PlanNode, exec step.Executor, handle bool,
) error {
	rt := a.runtime()
	rt.runSeq++
	seq := rt.runSeq
	ctx, cancel := context.WithCancel(a.ctx)
	rt.cancel = cancel

	req := &step.Request{
		Ambiance: node.Ambiance,
		Node:     pn,
		Mode:     node.Mode,
		Prior:    node.ExecutableResponses,
	}
	ref := a.ref
	ok := a.async(func() {
		defer cancel()
		var res *runResult
		if handle {
			res = a.invokeHandler(ctx, exec, req, node)
		} else {
			res = a.invoke(ctx, exec, req)
		}
		a.send(ref, msgResult{seq: seq, result: res})
	})
	if !ok {
		cancel()
		rt.cancel = nil
	}
	return nil
}

// runHandler asks the executor to fold the collected callbacks, task
// result, or child statuses into a final response
func (a *nodeActor) runHandler(node *api.NodeExecution) error {
	_, pn, err := a.planNode(node)
	if err != nil {
		return err
	}
	exec, err := a.steps.Obtain(pn.StepType)
	if err != nil {
		return a.engineError(err)
	}
	return a.execute(node, pn, exec, true)
}

func (e *Engine) invoke(
	ctx context.Context, exec step.Executor, req *step.Request,
) (res *runResult) {
	res = &runResult{mode: req.Mode}
	defer func() {
		if r := recover(); r != nil {
			res = &runResult{mode: req.Mode, panicked: fmt.Sprint(r)}
		}
	}()

	switch req.Mode {
	case api.ModeSync:
		res.sync, res.err = exec.(step.SyncExecutable).ExecuteSync(ctx, req)
	case api.ModeAsync:
		res.async, res.err = exec.(step.AsyncExecutable).ExecuteAsync(ctx, req)
	case api.ModeTask:
		tr, err := exec.(step.TaskExecutable).ExecuteTask(ctx, req)
		if err != nil {
			res.err = err
			return res
		}
		if tr == nil {
			res.fault = ErrNilResponse
			return res
		}
		if e.transport == nil {
			res.fault = ErrNoTransport
			return res
		}
		id, err := e.transport.Submit(ctx, req.Ambiance, tr)
		if err != nil {
			res.fault = fmt.Errorf("task submit failed: %w", err)
			return res
		}
		res.task = &api.TaskResponse{TaskID: id, Request: tr}
	default:
		res.children, res.err = exec.(step.ChildExecutable).
			ObtainChildren(ctx, req)
	}
	return res
}

func (e *Engine) invokeHandler(
	ctx context.Context, exec step.Executor, req *step.Request,
	node *api.NodeExecution,
) (res *runResult) {
	res = &runResult{mode: req.Mode, handled: true}
	defer func() {
		if r := recover(); r != nil {
			res = &runResult{
				mode:     req.Mode,
				handled:  true,
				panicked: fmt.Sprint(r),
			}
		}
	}()

	switch req.Mode {
	case api.ModeAsync:
		res.sync, res.err = exec.(step.AsyncExecutable).
			HandleAsyncResponse(ctx, req, node.CallbackData())
	case api.ModeTask:
		var data []byte
		if cb, ok := node.Callbacks[api.CorrelationID(node.TaskID)]; ok {
			data = cb.Data
		}
		res.sync, res.err = exec.(step.TaskExecutable).
			HandleTaskResult(ctx, req, data)
	default:
		res.sync, res.err = exec.(step.ChildExecutable).
			HandleChildResponse(ctx, req, node.Children)
	}
	return res
}

// result applies an executor result, holding it aside while the node is
// paused
func (a *nodeActor) result(m msgResult) error {
	rt := a.runtime()
	if m.seq != rt.runSeq {
		a.discard(m.result)
		return nil
	}
	rt.cancel = nil

	node, err := a.load()
	if err != nil || node.ID == "" {
		return err
	}
	switch node.Status {
	case api.StatusPaused:
		rt.deferred = &m
		return nil
	case api.StatusRunning:
		return a.applyResult(node, m.result)
	default:
		a.discard(m.result)
		return nil
	}
}

// discard withdraws a task that was submitted by a run the node no longer
// waits on
func (a *nodeActor) discard(r *runResult) {
	if r.task != nil {
		a.releaseTask(r.task.TaskID, false)
	}
}

func (a *nodeActor) applyResult(node *api.NodeExecution, r *runResult) error {
	switch {
	case r.panicked != "":
		return a.complete(&outcome{
			status: api.StatusErrored,
			failure: api.NewFailure(api.FailureEngine,
				fmt.Sprintf("step panicked: %s", r.panicked)),
		})
	case r.fault != nil:
		return a.engineError(r.fault)
	case r.err != nil:
		return a.complete(&outcome{
			status:  api.StatusFailed,
			failure: api.NewFailure(api.FailureStep, r.err.Error()),
		})
	case r.handled || r.mode == api.ModeSync:
		return a.finishStep(r.sync, !r.handled)
	case r.mode == api.ModeAsync:
		return a.awaitCallbacks(node, r.async)
	case r.mode == api.ModeTask:
		return a.awaitTask(node, r.task)
	default:
		return a.spawnChildren(node, r.children)
	}
}

func (a *nodeActor) finishStep(resp *api.StepResponse, record bool) error {
	if resp == nil {
		return a.engineError(ErrNilResponse)
	}
	if !resp.Status.IsTerminal() {
		return a.engineError(
			fmt.Errorf("%w: %s", ErrNonTerminalState, resp.Status),
		)
	}
	o := &outcome{
		status:  resp.Status,
		failure: resp.Failure,
		outputs: resp.Outputs,
	}
	if record {
		o.response = api.SyncExecutable(resp, a.Now())
	}
	if !o.status.IsPositive() && o.failure == nil {
		o.failure = api.NewFailure(api.FailureStep,
			fmt.Sprintf("step ended %s", o.status))
	}
	return a.complete(o)
}

func (a *nodeActor) awaitCallbacks(
	node *api.NodeExecution, r *api.AsyncResponse,
) error {
	if r == nil {
		return a.engineError(ErrNilResponse)
	}
	if len(r.CorrelationIDs) == 0 {
		return a.engineError(ErrNoCorrelations)
	}
	g := a.group(node)
	if r.TimeoutMillis > 0 {
		g.Add(&api.TimeoutSpec{
			Dimension: api.DimensionCallback,
			Millis:    r.TimeoutMillis,
		})
	}
	updated, err := a.tx(func(tx *nodeTx) error {
		return tx.await(api.AsyncExecutable(r, a.Now()),
			api.CallbacksAwaitedEvent{CorrelationIDs: r.CorrelationIDs},
			api.StatusAsyncWaiting, g,
		)
	})
	if err != nil {
		return err
	}
	a.scheduleTimeout(updated)
	a.registerCorrelations(updated, r.CorrelationIDs)
	return nil
}

func (a *nodeActor) awaitTask(
	node *api.NodeExecution, r *api.TaskResponse,
) error {
	if r == nil || r.TaskID == "" {
		return a.engineError(ErrNilResponse)
	}
	g := a.group(node)
	if ms := r.Request.TimeoutMillis; ms > 0 {
		g.Add(&api.TimeoutSpec{Dimension: api.DimensionTask, Millis: ms})
	}
	ids := []api.CorrelationID{api.CorrelationID(r.TaskID)}
	updated, err := a.tx(func(tx *nodeTx) error {
		return tx.await(api.TaskExecutable(r, a.Now()),
			api.CallbacksAwaitedEvent{CorrelationIDs: ids, TaskID: r.TaskID},
			api.StatusTaskWaiting, g,
		)
	})
	if err != nil {
		return err
	}
	slog.Info("Task submitted",
		log.PlanExecutionID(node.PlanExecutionID),
		log.NodeExecutionID(node.ID),
		slog.String("task_id", string(r.TaskID)))
	a.scheduleTimeout(updated)
	a.registerCorrelations(updated, ids)
	return nil
}

func (a *nodeActor) spawnChildren(
	node *api.NodeExecution, ids []api.PlanNodeID,
) error {
	_, pn, err := a.planNode(node)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if !slices.Contains(pn.Children, id) {
			return a.engineError(fmt.Errorf("%w: %s", ErrUndeclaredChild, id))
		}
	}

	var resp *api.ExecutableResponse
	var spawn, queue []api.PlanNodeID
	now := a.Now()
	switch node.Mode {
	case api.ModeChild:
		if len(ids) == 0 {
			return a.engineError(ErrNilResponse)
		}
		resp = api.ChildExecutable(ids[0], now)
		spawn = ids[:1]
	case api.ModeChildren:
		resp = api.ChildrenExecutable(ids, now)
		spawn = ids
	default:
		resp = api.ChildChainExecutable(ids, now)
		if len(ids) != 0 {
			spawn = ids[:1]
			queue = ids[1:]
		}
	}

	updated, err := a.tx(func(tx *nodeTx) error {
		err := tx.raise(api.EventTypeResponseRecorded,
			api.ResponseRecordedEvent{Response: resp},
		)
		if err != nil || len(spawn) == 0 {
			return err
		}
		for i, id := range spawn {
			chain := childChainID(node.ID, i)
			err := tx.raise(api.EventTypeChildSpawned, api.ChildSpawnedEvent{
				ChainID:         chain,
				PlanNodeID:      id,
				NodeExecutionID: chainHeadID(chain),
				Queue:           queue,
			})
			if err != nil {
				return err
			}
		}
		return tx.setStatus(api.StatusChildWaiting, nil)
	})
	if err != nil {
		return err
	}

	if len(spawn) == 0 {
		return a.runHandler(updated)
	}
	for i, id := range spawn {
		if err := a.spawnChild(updated, i, id); err != nil {
			return err
		}
	}
	return nil
}

// spawnChild starts the chain at the given index of a parent node. A
// chain that cannot start reports straight back to the parent
func (a *nodeActor) spawnChild(
	parent *api.NodeExecution, idx int, id api.PlanNodeID,
) error {
	chain := childChainID(parent.ID, idx)
	ended, err := a.spawn(parent.PlanExecutionID, &spawnSpec{
		planNodeID: id,
		nodeID:     chainHeadID(chain),
		parentID:   parent.ID,
		chainID:    chain,
	})
	if err != nil {
		return err
	}
	if ended != "" {
		a.send(a.ref, msgChildDone{chain: chain, status: ended})
	}
	return nil
}

func (a *nodeActor) engineError(err error) error {
	slog.Error("Node errored",
		log.PlanExecutionID(a.ref.PlanExecutionID),
		log.NodeExecutionID(a.ref.NodeExecutionID),
		log.Error(err))
	return a.complete(&outcome{
		status:  api.StatusErrored,
		failure: api.NewFailure(api.FailureEngine, err.Error()),
	})
}

// await records a waiting response and moves the node into the waiting
// status
func (tx *nodeTx) await(
	resp *api.ExecutableResponse, awaited api.CallbacksAwaitedEvent,
	status api.Status, g *timeout.Group,
) error {
	err := tx.raise(api.EventTypeResponseRecorded,
		api.ResponseRecordedEvent{Response: resp},
	)
	if err != nil {
		return err
	}
	if err := tx.raise(api.EventTypeCallbacksAwaited, awaited); err != nil {
		return err
	}
	if err := tx.setStatus(status, nil); err != nil {
		return err
	}
	return tx.saveTimeouts(g)
}

func safeFacilitate(
	fn func() (*api.FacilitatorResponse, error),
) (res *api.FacilitatorResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("facilitator panicked: %v", r)
		}
	}()
	res, err = fn()
	if err == nil && res == nil {
		err = ErrNilResponse
	}
	return res, err
}
