package helpers

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/kode4food/conductor/internal/assert/wait"
	"github.com/kode4food/conductor/internal/engine"
	"github.com/kode4food/conductor/pkg/api"
)

// EventWaiter waits for events matching a filter until the state it reads
// satisfies a condition. Create before triggering the action
type EventWaiter[T any] struct {
	consumer engine.EventConsumer
	filter   wait.EventFilter
	getState func(context.Context) (T, error)
	done     func(T) bool
	desc     string // for error messages
}

const DefaultWaitTimeout = 5 * time.Second

// Wait blocks until the state satisfies the waiter's condition and
// returns it. The state is checked once up front, so a condition that was
// already met does not depend on seeing the event
func (w *EventWaiter[T]) Wait(t *testing.T, timeout time.Duration) T {
	t.Helper()
	defer w.consumer.Close()

	ctx := t.Context()
	if st, ok := w.check(ctx); ok {
		return st
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				t.Fatalf("event consumer closed waiting for %s", w.desc)
			}
			if !w.filter(ev) {
				continue
			}
			if st, ok := w.check(ctx); ok {
				return st
			}
		case <-deadline.C:
			t.Fatalf("timeout waiting for %s", w.desc)
		}
	}
}

func (w *EventWaiter[T]) check(ctx context.Context) (T, bool) {
	st, err := w.getState(ctx)
	if err != nil {
		var zero T
		return zero, false
	}
	return st, w.done(st)
}

// SubscribeToPlanCompletion creates a waiter for a plan execution reaching
// a terminal status
func (env *TestEngineEnv) SubscribeToPlanCompletion(
	id api.PlanExecutionID,
) *EventWaiter[*api.PlanExecution] {
	return env.SubscribeToPlanStatus(id,
		api.StatusSucceeded, api.StatusFailed, api.StatusErrored,
		api.StatusAborted, api.StatusExpired, api.StatusSkipped,
		api.StatusIgnoreFailed,
	)
}

// SubscribeToPlanStatus creates a waiter for a plan execution reaching
// one of the given statuses
func (env *TestEngineEnv) SubscribeToPlanStatus(
	id api.PlanExecutionID, statuses ...api.Status,
) *EventWaiter[*api.PlanExecution] {
	return &EventWaiter[*api.PlanExecution]{
		consumer: env.EventHub.NewConsumer(),
		filter:   wait.PlanEvent(id),
		getState: func(ctx context.Context) (*api.PlanExecution, error) {
			return env.Engine.GetPlanExecution(ctx, id)
		},
		done: func(p *api.PlanExecution) bool {
			return slices.Contains(statuses, p.Status)
		},
		desc: "plan " + string(id),
	}
}

// SubscribeToNodeStatus creates a waiter for the latest execution of a
// plan node reaching one of the given statuses
func (env *TestEngineEnv) SubscribeToNodeStatus(
	id api.PlanExecutionID, node api.PlanNodeID, statuses ...api.Status,
) *EventWaiter[*api.NodeExecution] {
	return env.SubscribeToNode(id, node, func(n *api.NodeExecution) bool {
		return slices.Contains(statuses, n.Status)
	})
}

// SubscribeToNode creates a waiter for the latest execution of a plan node
// satisfying a condition
func (env *TestEngineEnv) SubscribeToNode(
	id api.PlanExecutionID, node api.PlanNodeID,
	done func(*api.NodeExecution) bool,
) *EventWaiter[*api.NodeExecution] {
	return &EventWaiter[*api.NodeExecution]{
		consumer: env.EventHub.NewConsumer(),
		filter:   wait.NodeEvent(id, ""),
		getState: func(ctx context.Context) (*api.NodeExecution, error) {
			return env.LatestNode(ctx, id, node)
		},
		done: done,
		desc: "node " + string(node),
	}
}

// WaitForPlanCompletion waits for a plan execution to finish
func (env *TestEngineEnv) WaitForPlanCompletion(
	t *testing.T, id api.PlanExecutionID,
) *api.PlanExecution {
	t.Helper()
	return env.SubscribeToPlanCompletion(id).Wait(t, DefaultWaitTimeout)
}

// WaitForNode waits for the latest execution of a plan node to satisfy a
// condition
func (env *TestEngineEnv) WaitForNode(
	t *testing.T, id api.PlanExecutionID, node api.PlanNodeID,
	done func(*api.NodeExecution) bool,
) *api.NodeExecution {
	t.Helper()
	return env.SubscribeToNode(id, node, done).Wait(t, DefaultWaitTimeout)
}

// WaitForNodeStatus waits for the latest execution of a plan node to reach
// one of the given statuses
func (env *TestEngineEnv) WaitForNodeStatus(
	t *testing.T, id api.PlanExecutionID, node api.PlanNodeID,
	statuses ...api.Status,
) *api.NodeExecution {
	t.Helper()
	return env.SubscribeToNodeStatus(id, node, statuses...).
		Wait(t, DefaultWaitTimeout)
}

var errNoExecution = errors.New("plan node has no execution")

// LatestNode returns the most recently created execution of a plan node
func (env *TestEngineEnv) LatestNode(
	ctx context.Context, id api.PlanExecutionID, node api.PlanNodeID,
) (*api.NodeExecution, error) {
	nodes, err := env.NodesOf(ctx, id, node)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, errNoExecution
	}
	return nodes[len(nodes)-1], nil
}

// NodesOf returns every execution of a plan node in creation order
func (env *TestEngineEnv) NodesOf(
	ctx context.Context, id api.PlanExecutionID, node api.PlanNodeID,
) ([]*api.NodeExecution, error) {
	all, err := env.Engine.ListNodeExecutions(ctx, id)
	if err != nil {
		return nil, err
	}
	var res []*api.NodeExecution
	for _, n := range all {
		if n.PlanNodeID == node {
			res = append(res, n)
		}
	}
	return res, nil
}
