package events

import (
	"github.com/kode4food/timebox"

	"github.com/kode4food/conductor/pkg/api"
)

const NodePrefix = "node"

// NodeAppliers contains the event applier functions for node events
var NodeAppliers = makeNodeAppliers()

// NewNodeState creates an empty node execution. A node aggregate with no
// events has an empty ID
func NewNodeState() *api.NodeExecution {
	return &api.NodeExecution{}
}

// NodeKey returns the aggregate ID for a node execution. Nodes are keyed
// under their plan execution so a plan's nodes share a key space
func NodeKey(
	planID api.PlanExecutionID, nodeID api.NodeExecutionID,
) timebox.AggregateID {
	return timebox.NewAggregateID(
		NodePrefix, timebox.ID(planID), timebox.ID(nodeID),
	)
}

// IsNodeEvent returns true if the event is for a node aggregate
func IsNodeEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 3 && ev.AggregateID[0] == NodePrefix
}

// NodeRefFromEvent extracts the node address from a node event
func NodeRefFromEvent(ev *timebox.Event) api.NodeRef {
	return api.NodeRef{
		PlanExecutionID: api.PlanExecutionID(ev.AggregateID[1]),
		NodeExecutionID: api.NodeExecutionID(ev.AggregateID[2]),
	}
}

func makeNodeAppliers() timebox.Appliers[*api.NodeExecution] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.NodeExecution]{
		api.EventTypeNodeCreated:       timebox.MakeApplier(nodeCreated),
		api.EventTypeNodeStatusChanged: timebox.MakeApplier(nodeStatusChanged),
		api.EventTypeNodeModeSelected:  timebox.MakeApplier(nodeModeSelected),
		api.EventTypeResponseRecorded:  timebox.MakeApplier(responseRecorded),
		api.EventTypeCallbacksAwaited:  timebox.MakeApplier(callbacksAwaited),
		api.EventTypeCallbackReceived:  timebox.MakeApplier(callbackReceived),
		api.EventTypeChildSpawned:      timebox.MakeApplier(childSpawned),
		api.EventTypeChildCompleted:    timebox.MakeApplier(childCompleted),
		api.EventTypeRestraintChanged:  timebox.MakeApplier(restraintChanged),
		api.EventTypeTimeoutsUpdated:   timebox.MakeApplier(timeoutsUpdated),
		api.EventTypeInterruptApplied:  timebox.MakeApplier(interruptApplied),
		api.EventTypeNodeAdvised:       timebox.MakeApplier(nodeAdvised),
		api.EventTypeNodeCompleted:     timebox.MakeApplier(nodeCompleted),
	})
}

func nodeCreated(
	_ *api.NodeExecution, ev *timebox.Event, data api.NodeCreatedEvent,
) *api.NodeExecution {
	res := *data.Node
	res.Status = api.StatusQueued
	res.CreatedAt = ev.Timestamp
	res.UpdatedAt = ev.Timestamp
	return &res
}

func nodeStatusChanged(
	st *api.NodeExecution, ev *timebox.Event, data api.NodeStatusChangedEvent,
) *api.NodeExecution {
	res := st.SetStatus(data.Status, ev.Timestamp)
	switch {
	case data.Status == api.StatusPaused,
		data.Status == api.StatusInterventionWaiting:
		res = res.SetPausedFrom(data.PausedFrom)
	case st.PausedFrom != "":
		res = res.SetPausedFrom("")
	}
	if data.Failure != nil {
		res = res.SetFailure(data.Failure)
	}
	return res
}

func nodeModeSelected(
	st *api.NodeExecution, _ *timebox.Event, data api.NodeModeSelectedEvent,
) *api.NodeExecution {
	return st.SetMode(data.Mode)
}

func responseRecorded(
	st *api.NodeExecution, _ *timebox.Event, data api.ResponseRecordedEvent,
) *api.NodeExecution {
	return st.AddResponse(data.Response)
}

func callbacksAwaited(
	st *api.NodeExecution, _ *timebox.Event, data api.CallbacksAwaitedEvent,
) *api.NodeExecution {
	res := st
	for _, id := range data.CorrelationIDs {
		if _, ok := res.Callbacks[id]; ok {
			continue
		}
		res = res.SetCallback(id, &api.Callback{})
	}
	if data.TaskID != "" {
		res = res.SetTaskID(data.TaskID)
	}
	return res
}

func callbackReceived(
	st *api.NodeExecution, ev *timebox.Event, data api.CallbackReceivedEvent,
) *api.NodeExecution {
	return st.SetCallback(data.CorrelationID, &api.Callback{
		Received:   true,
		Data:       data.Data,
		ReceivedAt: ev.Timestamp,
	})
}

func childSpawned(
	st *api.NodeExecution, _ *timebox.Event, data api.ChildSpawnedEvent,
) *api.NodeExecution {
	return st.
		SetChild(data.ChainID, api.StatusQueued).
		SetChildQueue(data.Queue)
}

func childCompleted(
	st *api.NodeExecution, _ *timebox.Event, data api.ChildCompletedEvent,
) *api.NodeExecution {
	if _, ok := st.Children[data.ChainID]; !ok {
		return st
	}
	return st.
		SetChild(data.ChainID, data.Status).
		SetChildQueue(data.Queue)
}

func restraintChanged(
	st *api.NodeExecution, _ *timebox.Event, data api.RestraintChangedEvent,
) *api.NodeExecution {
	return st.SetRestraint(data.Instance)
}

func timeoutsUpdated(
	st *api.NodeExecution, _ *timebox.Event, data api.TimeoutsUpdatedEvent,
) *api.NodeExecution {
	return st.SetTimeouts(data.Timeouts)
}

func interruptApplied(
	st *api.NodeExecution, _ *timebox.Event, data api.InterruptAppliedEvent,
) *api.NodeExecution {
	return st.AddInterruptHistory(data.History)
}

func nodeAdvised(
	st *api.NodeExecution, _ *timebox.Event, data api.NodeAdvisedEvent,
) *api.NodeExecution {
	return st.SetAdvise(data.Advise)
}

func nodeCompleted(
	st *api.NodeExecution, ev *timebox.Event, data api.NodeCompletedEvent,
) *api.NodeExecution {
	res := st.
		SetStatus(data.Status, ev.Timestamp).
		SetPausedFrom("")
	if data.Failure != nil {
		res = res.SetFailure(data.Failure)
	}
	if data.Outputs != nil {
		res = res.SetOutputs(data.Outputs)
	}
	return res
}
