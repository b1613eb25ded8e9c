package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kode4food/conductor/internal/engine/event"
	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

// orphanTTL bounds how long a callback that arrived before its node began
// waiting is held for that node
const orphanTTL = 5 * time.Minute

// HandleCallback queues a callback payload for the node waiting on the
// correlation id. Delivery is asynchronous and duplicate callbacks are
// ignored
func (e *Engine) HandleCallback(
	_ context.Context, id api.CorrelationID, data json.RawMessage,
) error {
	if e.ctx.Err() != nil {
		return ErrEngineStopped
	}
	e.eventQueue.Enqueue(event.KindCallback, id, data)
	return nil
}

// HandleTaskResult queues the raw result of a remote task for the node
// that submitted it
func (e *Engine) HandleTaskResult(
	_ context.Context, id api.TaskID, result json.RawMessage,
) error {
	if e.ctx.Err() != nil {
		return ErrEngineStopped
	}
	e.eventQueue.Enqueue(event.KindTaskResult, api.CorrelationID(id), result)
	return nil
}

func (e *Engine) handleCallbacks(batch []event.Event) error {
	for _, ev := range batch {
		e.routeCallback(ev.CorrelationID, ev.Data)
	}
	return nil
}

func (e *Engine) routeCallback(id api.CorrelationID, data json.RawMessage) {
	if v, ok := e.correlations.Load(id); ok {
		e.send(v.(api.NodeRef), msgCallback{id: id, data: data})
		return
	}
	slog.Debug("Callback parked for unknown correlation",
		log.CorrelationID(id))
	e.orphans.Store(id, data)
	if v, ok := e.correlations.Load(id); ok {
		if _, ok := e.orphans.LoadAndDelete(id); ok {
			e.send(v.(api.NodeRef), msgCallback{id: id, data: data})
		}
		return
	}
	e.ScheduleTask(orphanPath(id), e.Now().Add(orphanTTL), func() error {
		e.orphans.Delete(id)
		return nil
	})
}

// registerCorrelations routes the ids to the node and delivers any
// callback that arrived early
func (a *nodeActor) registerCorrelations(
	node *api.NodeExecution, ids []api.CorrelationID,
) {
	for _, id := range ids {
		a.correlations.Store(id, a.ref)
	}
	err := a.raiseEngineEvent(api.EventTypeCorrelationsRegistered,
		api.CorrelationsRegisteredEvent{CorrelationIDs: ids, Node: &a.ref},
	)
	if err != nil {
		slog.Error("Failed to register correlations",
			log.NodeExecutionID(node.ID),
			log.Error(err))
	}
	for _, id := range ids {
		if data, ok := a.orphans.LoadAndDelete(id); ok {
			a.CancelTask(orphanPath(id))
			a.send(a.ref, msgCallback{id: id, data: data.(json.RawMessage)})
		}
	}
}

func (a *nodeActor) removeCorrelations(node *api.NodeExecution) {
	var ids []api.CorrelationID
	for _, id := range sortedKeys(node.Callbacks) {
		if _, ok := a.correlations.LoadAndDelete(id); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	err := a.raiseEngineEvent(api.EventTypeCorrelationsRemoved,
		api.CorrelationsRemovedEvent{CorrelationIDs: ids},
	)
	if err != nil {
		slog.Error("Failed to remove correlations",
			log.NodeExecutionID(node.ID),
			log.Error(err))
	}
}

func (a *nodeActor) callback(id api.CorrelationID, data json.RawMessage) error {
	node, err := a.load()
	if err != nil || node.ID == "" || node.Status.IsTerminal() {
		return err
	}
	cb, ok := node.Callbacks[id]
	if !ok || cb.Received {
		slog.Debug("Duplicate callback ignored",
			log.NodeExecutionID(node.ID),
			log.CorrelationID(id))
		return nil
	}
	updated, err := a.tx(func(tx *nodeTx) error {
		return tx.raise(api.EventTypeCallbackReceived,
			api.CallbackReceivedEvent{CorrelationID: id, Data: data},
		)
	})
	if err != nil {
		return err
	}
	return a.checkCallbacks(updated)
}

// checkCallbacks resumes a waiting node once every awaited callback has
// arrived
func (a *nodeActor) checkCallbacks(node *api.NodeExecution) error {
	switch node.Status {
	case api.StatusAsyncWaiting, api.StatusTaskWaiting:
	default:
		return nil
	}
	if !node.CallbacksComplete() {
		return nil
	}
	a.removeCorrelations(node)
	return a.finishWaiting(node)
}

// finishWaiting returns a waiting node to RUNNING and runs its handler
func (a *nodeActor) finishWaiting(node *api.NodeExecution) error {
	g := a.group(node)
	g.Drop(api.DimensionCallback)
	g.Drop(api.DimensionTask)
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
	return a.runHandler(updated)
}

func (a *nodeActor) childDone(chain api.ChainID, status api.Status) error {
	node, err := a.load()
	if err != nil || node.ID == "" || node.Status.IsTerminal() {
		return err
	}
	cur, ok := node.Children[chain]
	if !ok || cur.IsTerminal() {
		return nil
	}
	queue := node.ChildQueue
	if !status.IsPositive() {
		queue = nil
	}
	updated, err := a.tx(func(tx *nodeTx) error {
		return tx.raise(api.EventTypeChildCompleted, api.ChildCompletedEvent{
			ChainID: chain,
			Status:  status,
			Queue:   queue,
		})
	})
	if err != nil {
		return err
	}
	if updated.Status != api.StatusChildWaiting {
		return nil
	}
	return a.advanceChildren(updated)
}

// advanceChildren starts the next queued chain once the running ones
// finish, and hands the statuses to the executor when none remain
func (a *nodeActor) advanceChildren(node *api.NodeExecution) error {
	for _, s := range node.Children {
		if !s.IsTerminal() {
			return nil
		}
	}
	if len(node.ChildQueue) != 0 {
		idx := len(node.Children)
		chain := childChainID(node.ID, idx)
		id := node.ChildQueue[0]
		updated, err := a.tx(func(tx *nodeTx) error {
			return tx.raise(api.EventTypeChildSpawned, api.ChildSpawnedEvent{
				ChainID:         chain,
				PlanNodeID:      id,
				NodeExecutionID: chainHeadID(chain),
				Queue:           node.ChildQueue[1:],
			})
		})
		if err != nil {
			return err
		}
		return a.spawnChild(updated, idx, id)
	}
	if !node.ChildrenComplete() {
		return nil
	}
	return a.finishWaiting(node)
}
