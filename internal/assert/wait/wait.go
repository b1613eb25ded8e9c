package wait

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/events"
	"github.com/kode4food/conductor/pkg/util"
)

type (
	// Wait blocks a test until events matching a filter arrive on a hub
	// consumer, failing the test if the timeout passes first
	Wait struct {
		t        *testing.T
		consumer topic.Consumer[*timebox.Event]
		timeout  time.Duration
	}

	// EventFilter selects the events a Wait counts
	EventFilter func(*timebox.Event) bool

	nodeData struct {
		PlanNodeID api.PlanNodeID `json:"plan_node_id"`
		Status     api.Status     `json:"status"`
	}
)

const DefaultTimeout = 5 * time.Second

func On(t *testing.T, consumer topic.Consumer[*timebox.Event]) *Wait {
	return &Wait{t: t, consumer: consumer, timeout: DefaultTimeout}
}

func (w *Wait) WithTimeout(timeout time.Duration) *Wait {
	res := *w
	res.timeout = timeout
	return &res
}

// ForEvent waits for a single matching event
func (w *Wait) ForEvent(filter EventFilter) {
	w.t.Helper()
	w.ForEvents(1, filter)
}

// ForEvents waits until count matching events have been received
func (w *Wait) ForEvents(count int, filter EventFilter) {
	w.t.Helper()
	expired := time.After(w.timeout)
	remaining := count
	for remaining > 0 {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				w.t.Fatalf("consumer closed with %d of %d events pending",
					remaining, count)
				return
			}
			if filter(ev) {
				remaining--
			}
		case <-expired:
			w.t.Fatalf("timed out after %s with %d of %d events pending",
				w.timeout, remaining, count)
			return
		}
	}
}

// Close releases the underlying consumer
func (w *Wait) Close() {
	w.consumer.Close()
}

// And matches when every filter matches
func And(filters ...EventFilter) EventFilter {
	return func(ev *timebox.Event) bool {
		return all(filters, ev, false)
	}
}

// Or matches when any filter matches
func Or(filters ...EventFilter) EventFilter {
	return func(ev *timebox.Event) bool {
		return !all(filters, ev, true)
	}
}

// Type creates a filter for a single event type
func Type(eventType api.EventType) EventFilter {
	return Types(eventType)
}

// Types matches any of the given event types. With no types it matches
// nothing
func Types(eventTypes ...api.EventType) EventFilter {
	want := util.Set[timebox.EventType]{}
	for _, et := range eventTypes {
		want.Add(timebox.EventType(et))
	}
	return func(ev *timebox.Event) bool {
		return want.Contains(ev.Type)
	}
}

// EngineEvent matches engine aggregate events for the given types
func EngineEvent(eventTypes ...api.EventType) EventFilter {
	return And(events.IsEngineEvent, Types(eventTypes...))
}

// PlanEvent matches events raised on one plan execution's aggregate
func PlanEvent(
	id api.PlanExecutionID, eventTypes ...api.EventType,
) EventFilter {
	filters := []EventFilter{func(ev *timebox.Event) bool {
		return events.IsPlanEvent(ev) &&
			api.PlanExecutionID(ev.AggregateID[1]) == id
	}}
	if len(eventTypes) > 0 {
		filters = append(filters, Types(eventTypes...))
	}
	return And(filters...)
}

// PlanCompleted matches the completion of a plan execution
func PlanCompleted(id api.PlanExecutionID) EventFilter {
	return PlanEvent(id, api.EventTypePlanCompleted)
}

// PlanStatus matches a plan status change into the given status
func PlanStatus(id api.PlanExecutionID, status api.Status) EventFilter {
	return And(
		PlanEvent(id, api.EventTypePlanStatusChanged),
		withData(func(d api.PlanStatusChangedEvent) bool {
			return d.Status == status
		}),
	)
}

// InterruptProcessed matches the processing of an interrupt
func InterruptProcessed(
	id api.PlanExecutionID, interrupt api.InterruptID,
) EventFilter {
	return And(
		PlanEvent(id, api.EventTypeInterruptProcessed),
		withData(func(d api.InterruptProcessedEvent) bool {
			return d.InterruptID == interrupt
		}),
	)
}

// NodeEvent matches events raised on the node executions of a plan. An
// empty node id matches every plan node
func NodeEvent(
	id api.PlanExecutionID, node api.PlanNodeID, eventTypes ...api.EventType,
) EventFilter {
	filters := []EventFilter{func(ev *timebox.Event) bool {
		return events.IsNodeEvent(ev) &&
			events.NodeRefFromEvent(ev).PlanExecutionID == id
	}}
	if len(eventTypes) > 0 {
		filters = append(filters, Types(eventTypes...))
	}
	if node != "" {
		filters = append(filters, withData(func(d nodeData) bool {
			return d.PlanNodeID == node
		}))
	}
	return And(filters...)
}

// NodeStatus matches a plan node's executions entering the given status,
// terminal or not
func NodeStatus(
	id api.PlanExecutionID, node api.PlanNodeID, status api.Status,
) EventFilter {
	return And(
		NodeEvent(id, node,
			api.EventTypeNodeStatusChanged, api.EventTypeNodeCompleted,
		),
		withData(func(d nodeData) bool {
			return d.Status == status
		}),
	)
}

// NodeCompleted matches any terminal completion of a plan node's
// executions
func NodeCompleted(id api.PlanExecutionID, node api.PlanNodeID) EventFilter {
	return NodeEvent(id, node, api.EventTypeNodeCompleted)
}

// CorrelationsRegistered matches the engine recording correlation ids
func CorrelationsRegistered() EventFilter {
	return EngineEvent(api.EventTypeCorrelationsRegistered)
}

// all reports whether every filter returns !negate for the event
func all(filters []EventFilter, ev *timebox.Event, negate bool) bool {
	for _, f := range filters {
		if f(ev) == negate {
			return false
		}
	}
	return true
}

// withData decodes the event payload and applies pred to it. Events whose
// payload does not decode never match
func withData[T any](pred func(T) bool) EventFilter {
	return func(ev *timebox.Event) bool {
		var data T
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return false
		}
		return pred(data)
	}
}
