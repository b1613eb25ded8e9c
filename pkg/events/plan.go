package events

import (
	"github.com/kode4food/timebox"

	"github.com/kode4food/conductor/pkg/api"
)

const PlanPrefix = "plan"

// PlanAppliers contains the event applier functions for plan events
var PlanAppliers = makePlanAppliers()

// NewPlanState creates an empty plan execution with initialized maps for
// node indexes and interrupts
func NewPlanState() *api.PlanExecution {
	return &api.PlanExecution{
		Nodes:      map[api.NodeExecutionID]*api.NodeIndex{},
		Interrupts: map[api.InterruptID]*api.InterruptRecord{},
	}
}

// PlanKey returns the aggregate ID for a plan execution
func PlanKey[T ~string](id T) timebox.AggregateID {
	return timebox.NewAggregateID(PlanPrefix, timebox.ID(id))
}

// IsPlanEvent returns true if the event is for a plan aggregate
func IsPlanEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 2 && ev.AggregateID[0] == PlanPrefix
}

func makePlanAppliers() timebox.Appliers[*api.PlanExecution] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.PlanExecution]{
		api.EventTypePlanStarted:         timebox.MakeApplier(planStarted),
		api.EventTypeNodeIndexed:         timebox.MakeApplier(nodeIndexed),
		api.EventTypePlanStatusChanged:   timebox.MakeApplier(planStatusChanged),
		api.EventTypePlanCompleted:       timebox.MakeApplier(planCompleted),
		api.EventTypeInterruptRegistered: timebox.MakeApplier(interruptRegistered),
		api.EventTypeInterruptProcessed:  timebox.MakeApplier(interruptProcessed),
	})
}

func planStarted(
	st *api.PlanExecution, ev *timebox.Event, data api.PlanStartedEvent,
) *api.PlanExecution {
	res := *st
	res.ID = data.PlanExecutionID
	res.Plan = data.Plan
	res.SetupAbstractions = data.SetupAbstractions
	res.ExpressionToken = data.ExpressionToken
	res.Status = api.StatusRunning
	res.CreatedAt = ev.Timestamp
	return res.SetLastUpdated(ev.Timestamp)
}

func nodeIndexed(
	st *api.PlanExecution, ev *timebox.Event, data api.NodeIndexedEvent,
) *api.PlanExecution {
	return st.
		AddNode(data.NodeExecutionID, &api.NodeIndex{
			PlanNodeID: data.PlanNodeID,
			ParentID:   data.ParentID,
			PreviousID: data.PreviousID,
			ChainID:    data.ChainID,
			RetryIDs:   data.RetryIDs,
			CreatedAt:  ev.Timestamp,
		}).
		SetLastUpdated(ev.Timestamp)
}

func planStatusChanged(
	st *api.PlanExecution, ev *timebox.Event, data api.PlanStatusChangedEvent,
) *api.PlanExecution {
	return st.
		SetStatus(data.Status, ev.Timestamp).
		SetLastUpdated(ev.Timestamp)
}

func planCompleted(
	st *api.PlanExecution, ev *timebox.Event, data api.PlanCompletedEvent,
) *api.PlanExecution {
	return st.
		SetStatus(data.Status, ev.Timestamp).
		SetFailure(data.Failure).
		SetLastUpdated(ev.Timestamp)
}

func interruptRegistered(
	st *api.PlanExecution, ev *timebox.Event,
	data api.InterruptRegisteredEvent,
) *api.PlanExecution {
	return st.
		SetInterrupt(&api.InterruptRecord{
			Interrupt:    data.Interrupt,
			State:        api.InterruptRegistered,
			RegisteredAt: ev.Timestamp,
		}).
		SetLastUpdated(ev.Timestamp)
}

func interruptProcessed(
	st *api.PlanExecution, ev *timebox.Event,
	data api.InterruptProcessedEvent,
) *api.PlanExecution {
	rec, ok := st.Interrupts[data.InterruptID]
	if !ok {
		return st
	}
	updated := *rec
	updated.State = api.InterruptProcessed
	updated.ProcessedAt = ev.Timestamp
	return st.
		SetInterrupt(&updated).
		SetLastUpdated(ev.Timestamp)
}
