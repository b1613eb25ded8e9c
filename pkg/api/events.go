package api

import "encoding/json"

type (
	// PlanStartedEvent is emitted when a plan execution is created
	PlanStartedEvent struct {
		PlanExecutionID   PlanExecutionID   `json:"plan_execution_id"`
		Plan              *Plan             `json:"plan"`
		SetupAbstractions map[string]string `json:"setup_abstractions,omitempty"`
		ExpressionToken   int64             `json:"expression_token,omitempty"`
	}

	// NodeIndexedEvent is emitted on the plan when a node execution is
	// about to be created
	NodeIndexedEvent struct {
		NodeExecutionID NodeExecutionID   `json:"node_execution_id"`
		PlanNodeID      PlanNodeID        `json:"plan_node_id"`
		ParentID        NodeExecutionID   `json:"parent_id,omitempty"`
		PreviousID      NodeExecutionID   `json:"previous_id,omitempty"`
		ChainID         ChainID           `json:"chain_id"`
		RetryIDs        []NodeExecutionID `json:"retry_ids,omitempty"`
	}

	// PlanStatusChangedEvent is emitted when a plan pauses, resumes, or
	// begins discontinuing
	PlanStatusChangedEvent struct {
		Status Status `json:"status"`
	}

	// PlanCompletedEvent is emitted when a plan execution reaches a
	// terminal status
	PlanCompletedEvent struct {
		Status  Status       `json:"status"`
		Failure *FailureInfo `json:"failure,omitempty"`
	}

	// InterruptRegisteredEvent is emitted when an interrupt is accepted
	InterruptRegisteredEvent struct {
		Interrupt *Interrupt `json:"interrupt"`
	}

	// InterruptProcessedEvent is emitted when an interrupt has been applied
	// to every node it targets
	InterruptProcessedEvent struct {
		InterruptID InterruptID `json:"interrupt_id"`
	}

	// NodeCreatedEvent is emitted when a node execution is created
	NodeCreatedEvent struct {
		Node *NodeExecution `json:"node"`
	}

	// NodeStatusChangedEvent is emitted on every non-terminal transition
	NodeStatusChangedEvent struct {
		PlanNodeID PlanNodeID   `json:"plan_node_id"`
		Status     Status       `json:"status"`
		FromStatus Status       `json:"from_status"`
		PausedFrom Status       `json:"paused_from,omitempty"`
		Failure    *FailureInfo `json:"failure,omitempty"`
	}

	// NodeModeSelectedEvent is emitted when facilitation picks a mode
	NodeModeSelectedEvent struct {
		Mode ExecutionMode `json:"mode"`
	}

	// ResponseRecordedEvent is emitted when an executor returns a response
	ResponseRecordedEvent struct {
		Response *ExecutableResponse `json:"response"`
	}

	// CallbacksAwaitedEvent is emitted when a node begins waiting on
	// correlation ids
	CallbacksAwaitedEvent struct {
		CorrelationIDs []CorrelationID `json:"correlation_ids"`
		TaskID         TaskID          `json:"task_id,omitempty"`
	}

	// CallbackReceivedEvent is emitted when a callback payload arrives
	CallbackReceivedEvent struct {
		CorrelationID CorrelationID   `json:"correlation_id"`
		Data          json.RawMessage `json:"data,omitempty"`
	}

	// ChildSpawnedEvent is emitted when a child chain is started
	ChildSpawnedEvent struct {
		ChainID         ChainID         `json:"chain_id"`
		PlanNodeID      PlanNodeID      `json:"plan_node_id"`
		NodeExecutionID NodeExecutionID `json:"node_execution_id"`
		Queue           []PlanNodeID    `json:"queue,omitempty"`
	}

	// ChildCompletedEvent is emitted when a child chain finishes
	ChildCompletedEvent struct {
		ChainID ChainID      `json:"chain_id"`
		Status  Status       `json:"status"`
		Queue   []PlanNodeID `json:"queue,omitempty"`
	}

	// RestraintChangedEvent is emitted when the node's permit request is
	// queued, admitted, or finished
	RestraintChangedEvent struct {
		Instance *RestraintInstance `json:"instance"`
	}

	// TimeoutsUpdatedEvent is emitted when tracked timeouts change state
	TimeoutsUpdatedEvent struct {
		Timeouts []*TimeoutState `json:"timeouts"`
	}

	// InterruptAppliedEvent is emitted when an interrupt mutates a node
	InterruptAppliedEvent struct {
		History *InterruptHistory `json:"history"`
	}

	// NodeAdvisedEvent is emitted when an adviser decides the next step
	NodeAdvisedEvent struct {
		Advise *Advise `json:"advise"`
	}

	// NodeCompletedEvent is emitted when a node reaches a terminal status
	NodeCompletedEvent struct {
		PlanNodeID PlanNodeID      `json:"plan_node_id"`
		Status     Status          `json:"status"`
		FromStatus Status          `json:"from_status"`
		Failure    *FailureInfo    `json:"failure,omitempty"`
		Outputs    json.RawMessage `json:"outputs,omitempty"`
	}

	// PlanActivatedEvent is emitted on the engine when a plan starts
	PlanActivatedEvent struct {
		PlanExecutionID PlanExecutionID `json:"plan_execution_id"`
		PlanID          PlanID          `json:"plan_id"`
	}

	// PlanDeactivatedEvent is emitted on the engine when a plan finishes
	PlanDeactivatedEvent struct {
		PlanExecutionID PlanExecutionID `json:"plan_execution_id"`
	}

	// CorrelationsRegisteredEvent is emitted when callbacks are routed to
	// a node execution
	CorrelationsRegisteredEvent struct {
		CorrelationIDs []CorrelationID `json:"correlation_ids"`
		Node           *NodeRef        `json:"node"`
	}

	// CorrelationsRemovedEvent is emitted when callback routes are dropped
	CorrelationsRemovedEvent struct {
		CorrelationIDs []CorrelationID `json:"correlation_ids"`
	}

	// CapacitySetEvent is emitted when a resource unit capacity changes
	CapacitySetEvent struct {
		Unit     ResourceUnit `json:"unit"`
		Capacity int          `json:"capacity"`
	}

	// EventType identifies a persisted event
	EventType string
)

const (
	EventTypePlanStarted         EventType = "plan_started"
	EventTypeNodeIndexed         EventType = "node_indexed"
	EventTypePlanStatusChanged   EventType = "plan_status_changed"
	EventTypePlanCompleted       EventType = "plan_completed"
	EventTypeInterruptRegistered EventType = "interrupt_registered"
	EventTypeInterruptProcessed  EventType = "interrupt_processed"
)

const (
	EventTypeNodeCreated       EventType = "node_created"
	EventTypeNodeStatusChanged EventType = "node_status_changed"
	EventTypeNodeModeSelected  EventType = "node_mode_selected"
	EventTypeResponseRecorded  EventType = "response_recorded"
	EventTypeCallbacksAwaited  EventType = "callbacks_awaited"
	EventTypeCallbackReceived  EventType = "callback_received"
	EventTypeChildSpawned      EventType = "child_spawned"
	EventTypeChildCompleted    EventType = "child_completed"
	EventTypeRestraintChanged  EventType = "restraint_changed"
	EventTypeTimeoutsUpdated   EventType = "timeouts_updated"
	EventTypeInterruptApplied  EventType = "interrupt_applied"
	EventTypeNodeAdvised       EventType = "node_advised"
	EventTypeNodeCompleted     EventType = "node_completed"
)

const (
	EventTypePlanActivated          EventType = "plan_activated"
	EventTypePlanDeactivated        EventType = "plan_deactivated"
	EventTypeCorrelationsRegistered EventType = "correlations_registered"
	EventTypeCorrelationsRemoved    EventType = "correlations_removed"
	EventTypeCapacitySet            EventType = "capacity_set"
)
