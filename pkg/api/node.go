package api

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

type (
	// NodeExecution is the runtime record of one attempt at a plan node.
	// It is mutated only through events and never deleted
	NodeExecution struct {
		ID                  NodeExecutionID             `json:"id"`
		PlanExecutionID     PlanExecutionID             `json:"plan_execution_id"`
		PlanNodeID          PlanNodeID                  `json:"plan_node_id"`
		Ambiance            *Ambiance                   `json:"ambiance"`
		Status              Status                      `json:"status"`
		Mode                ExecutionMode               `json:"mode,omitempty"`
		ExecutableResponses []*ExecutableResponse       `json:"executable_responses"`
		ParentID            NodeExecutionID             `json:"parent_id,omitempty"`
		PreviousID          NodeExecutionID             `json:"previous_id,omitempty"`
		ChainID             ChainID                     `json:"chain_id"`
		RetryIDs            []NodeExecutionID           `json:"retry_ids,omitempty"`
		InterruptHistories  []*InterruptHistory         `json:"interrupt_histories"`
		Failure             *FailureInfo                `json:"failure,omitempty"`
		PausedFrom          Status                      `json:"paused_from,omitempty"`
		Callbacks           map[CorrelationID]*Callback `json:"callbacks,omitempty"`
		TaskID              TaskID                      `json:"task_id,omitempty"`
		Children            map[ChainID]Status          `json:"children,omitempty"`
		ChildQueue          []PlanNodeID                `json:"child_queue,omitempty"`
		Restraint           *RestraintInstance          `json:"restraint,omitempty"`
		Timeouts            []*TimeoutState             `json:"timeouts,omitempty"`
		Advise              *Advise                     `json:"advise,omitempty"`
		Outputs             json.RawMessage             `json:"outputs,omitempty"`
		StartTS             time.Time                   `json:"start_ts,omitempty"`
		EndTS               time.Time                   `json:"end_ts,omitempty"`
		CreatedAt           time.Time                   `json:"created_at"`
		UpdatedAt           time.Time                   `json:"updated_at"`
	}

	// Callback holds the payload delivered for one correlation id
	Callback struct {
		Received   bool            `json:"received"`
		Data       json.RawMessage `json:"data,omitempty"`
		ReceivedAt time.Time       `json:"received_at,omitempty"`
	}
)

// Ref returns the node's address within its plan execution
func (n *NodeExecution) Ref() NodeRef {
	return NodeRef{PlanExecutionID: n.PlanExecutionID, NodeExecutionID: n.ID}
}

// SetStatus returns a copy of the node in the given status
func (n *NodeExecution) SetStatus(s Status, at time.Time) *NodeExecution {
	res := *n
	res.Status = s
	res.UpdatedAt = at
	if s == StatusRunning && res.StartTS.IsZero() {
		res.StartTS = at
	}
	if s.IsTerminal() {
		res.EndTS = at
	}
	return &res
}

// SetPausedFrom returns a copy of the node remembering the status it held
// before a pause
func (n *NodeExecution) SetPausedFrom(s Status) *NodeExecution {
	res := *n
	res.PausedFrom = s
	return &res
}

// SetFailure returns a copy of the node with the failure reason set
func (n *NodeExecution) SetFailure(f *FailureInfo) *NodeExecution {
	res := *n
	res.Failure = f
	return &res
}

// SetMode returns a copy of the node with its execution mode set
func (n *NodeExecution) SetMode(m ExecutionMode) *NodeExecution {
	res := *n
	res.Mode = m
	return &res
}

// AddResponse returns a copy of the node with the response appended
func (n *NodeExecution) AddResponse(r *ExecutableResponse) *NodeExecution {
	res := *n
	res.ExecutableResponses = append(
		slices.Clone(n.ExecutableResponses), r,
	)
	return &res
}

// AddInterruptHistory returns a copy of the node with the history appended
func (n *NodeExecution) AddInterruptHistory(
	h *InterruptHistory,
) *NodeExecution {
	res := *n
	res.InterruptHistories = append(slices.Clone(n.InterruptHistories), h)
	return &res
}

// SetCallback returns a copy of the node with the callback recorded
func (n *NodeExecution) SetCallback(
	id CorrelationID, cb *Callback,
) *NodeExecution {
	res := *n
	res.Callbacks = maps.Clone(n.Callbacks)
	if res.Callbacks == nil {
		res.Callbacks = map[CorrelationID]*Callback{}
	}
	res.Callbacks[id] = cb
	return &res
}

// SetTaskID returns a copy of the node with the submitted task id
func (n *NodeExecution) SetTaskID(id TaskID) *NodeExecution {
	res := *n
	res.TaskID = id
	return &res
}

// SetChild returns a copy of the node with a child chain's status set
func (n *NodeExecution) SetChild(id ChainID, s Status) *NodeExecution {
	res := *n
	res.Children = maps.Clone(n.Children)
	if res.Children == nil {
		res.Children = map[ChainID]Status{}
	}
	res.Children[id] = s
	return &res
}

// SetChildQueue returns a copy of the node with the remaining chained
// children
func (n *NodeExecution) SetChildQueue(q []PlanNodeID) *NodeExecution {
	res := *n
	res.ChildQueue = slices.Clone(q)
	return &res
}

// SetRestraint returns a copy of the node with its permit request
func (n *NodeExecution) SetRestraint(r *RestraintInstance) *NodeExecution {
	res := *n
	res.Restraint = r
	return &res
}

// SetTimeouts returns a copy of the node with its tracked timeouts
func (n *NodeExecution) SetTimeouts(t []*TimeoutState) *NodeExecution {
	res := *n
	res.Timeouts = slices.Clone(t)
	return &res
}

// SetAdvise returns a copy of the node with the applied advise
func (n *NodeExecution) SetAdvise(a *Advise) *NodeExecution {
	res := *n
	res.Advise = a
	return &res
}

// SetOutputs returns a copy of the node with step outputs
func (n *NodeExecution) SetOutputs(o json.RawMessage) *NodeExecution {
	res := *n
	res.Outputs = o
	return &res
}

// HasInterrupt reports whether the interrupt was already applied
func (n *NodeExecution) HasInterrupt(id InterruptID) bool {
	return slices.ContainsFunc(n.InterruptHistories,
		func(h *InterruptHistory) bool {
			return h.InterruptID == id
		},
	)
}

// PendingCallbacks returns correlation ids that have not been answered
func (n *NodeExecution) PendingCallbacks() []CorrelationID {
	var res []CorrelationID
	for id, cb := range n.Callbacks {
		if !cb.Received {
			res = append(res, id)
		}
	}
	slices.Sort(res)
	return res
}

// CallbacksComplete reports whether every awaited callback has arrived
func (n *NodeExecution) CallbacksComplete() bool {
	return len(n.Callbacks) > 0 && len(n.PendingCallbacks()) == 0
}

// CallbackData returns the received payloads by correlation id
func (n *NodeExecution) CallbackData() map[CorrelationID]json.RawMessage {
	res := make(map[CorrelationID]json.RawMessage, len(n.Callbacks))
	for id, cb := range n.Callbacks {
		if cb.Received {
			res[id] = cb.Data
		}
	}
	return res
}

// ChildrenComplete reports whether every spawned child chain is terminal
// and no chained child remains to be started
func (n *NodeExecution) ChildrenComplete() bool {
	if len(n.Children) == 0 || len(n.ChildQueue) > 0 {
		return false
	}
	for _, s := range n.Children {
		if !s.IsTerminal() {
			return false
		}
	}
	return true
}

// ChildStatus aggregates the statuses of the node's child chains
func (n *NodeExecution) ChildStatus() Status {
	statuses := make([]Status, 0, len(n.Children))
	for _, s := range n.Children {
		statuses = append(statuses, s)
	}
	return WorstOf(statuses...)
}

// LastResponse returns the most recent executable response
func (n *NodeExecution) LastResponse() *ExecutableResponse {
	if len(n.ExecutableResponses) == 0 {
		return nil
	}
	return n.ExecutableResponses[len(n.ExecutableResponses)-1]
}

// Attempt returns the 1-based attempt number of the node execution
func (n *NodeExecution) Attempt() int {
	return len(n.RetryIDs) + 1
}
