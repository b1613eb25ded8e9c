package events

import (
	"github.com/kode4food/timebox"

	"github.com/kode4food/conductor/pkg/api"
)

const EnginePrefix = "engine"

var (
	EngineKey = timebox.NewAggregateID(EnginePrefix)

	EngineAppliers = makeEngineAppliers()
)

// NewEngineState creates an empty engine state with initialized maps for
// active plans, correlations, and runtime capacities
func NewEngineState() *api.EngineState {
	return &api.EngineState{
		Active:       map[api.PlanExecutionID]*api.ActivePlan{},
		Correlations: map[api.CorrelationID]*api.NodeRef{},
		Capacities:   map[api.ResourceUnit]int{},
	}
}

// IsEngineEvent returns true if the event is for the engine aggregate
func IsEngineEvent(ev *timebox.Event) bool {
	return len(ev.AggregateID) >= 1 && ev.AggregateID[0] == EnginePrefix
}

func makeEngineAppliers() timebox.Appliers[*api.EngineState] {
	return MakeAppliers(map[api.EventType]timebox.Applier[*api.EngineState]{
		api.EventTypePlanActivated:   timebox.MakeApplier(planActivated),
		api.EventTypePlanDeactivated: timebox.MakeApplier(planDeactivated),
		api.EventTypeCorrelationsRegistered: timebox.MakeApplier(
			correlationsRegistered,
		),
		api.EventTypeCorrelationsRemoved: timebox.MakeApplier(
			correlationsRemoved,
		),
		api.EventTypeCapacitySet: timebox.MakeApplier(capacitySet),
	})
}

func planActivated(
	st *api.EngineState, ev *timebox.Event, data api.PlanActivatedEvent,
) *api.EngineState {
	return st.
		SetActivePlan(data.PlanExecutionID, &api.ActivePlan{
			PlanID:    data.PlanID,
			StartedAt: ev.Timestamp,
		}).
		SetLastUpdated(ev.Timestamp)
}

func planDeactivated(
	st *api.EngineState, ev *timebox.Event, data api.PlanDeactivatedEvent,
) *api.EngineState {
	var drop []api.CorrelationID
	for id, ref := range st.Correlations {
		if ref.PlanExecutionID == data.PlanExecutionID {
			drop = append(drop, id)
		}
	}
	return st.
		DeleteActivePlan(data.PlanExecutionID).
		DeleteCorrelations(drop).
		SetLastUpdated(ev.Timestamp)
}

func correlationsRegistered(
	st *api.EngineState, ev *timebox.Event,
	data api.CorrelationsRegisteredEvent,
) *api.EngineState {
	return st.
		SetCorrelations(data.CorrelationIDs, data.Node).
		SetLastUpdated(ev.Timestamp)
}

func correlationsRemoved(
	st *api.EngineState, ev *timebox.Event,
	data api.CorrelationsRemovedEvent,
) *api.EngineState {
	return st.
		DeleteCorrelations(data.CorrelationIDs).
		SetLastUpdated(ev.Timestamp)
}

func capacitySet(
	st *api.EngineState, ev *timebox.Event, data api.CapacitySetEvent,
) *api.EngineState {
	return st.
		SetCapacity(data.Unit, data.Capacity).
		SetLastUpdated(ev.Timestamp)
}
