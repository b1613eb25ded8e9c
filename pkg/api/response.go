package api

import (
	"encoding/json"
	"time"
)

type (
	// ExecutionMode selects the protocol a step executor is invoked under
	ExecutionMode string

	// ExecutableResponse records how a step executor asked the engine to
	// wait. Exactly one variant field is set, matching Type
	ExecutableResponse struct {
		Type       ExecutionMode     `json:"type"`
		Sync       *StepResponse     `json:"sync,omitempty"`
		Async      *AsyncResponse    `json:"async,omitempty"`
		Task       *TaskResponse     `json:"task,omitempty"`
		Child      *ChildResponse    `json:"child,omitempty"`
		Children   *ChildrenResponse `json:"children,omitempty"`
		ChildChain *ChildrenResponse `json:"child_chain,omitempty"`
		RecordedAt time.Time         `json:"recorded_at"`
	}

	// StepResponse is the final outcome reported by a step executor
	StepResponse struct {
		Status  Status          `json:"status"`
		Failure *FailureInfo    `json:"failure,omitempty"`
		Outputs json.RawMessage `json:"outputs,omitempty"`
	}

	// AsyncResponse lists the correlation ids the node waits on
	AsyncResponse struct {
		CorrelationIDs []CorrelationID `json:"correlation_ids"`
		TimeoutMillis  int64           `json:"timeout_ms,omitempty"`
	}

	// TaskRequest is the opaque descriptor handed to the task transport
	TaskRequest struct {
		Type          string          `json:"type"`
		Payload       json.RawMessage `json:"payload,omitempty"`
		TimeoutMillis int64           `json:"timeout_ms,omitempty"`
	}

	// TaskResponse records a submitted task
	TaskResponse struct {
		TaskID  TaskID       `json:"task_id"`
		Request *TaskRequest `json:"request"`
	}

	// ChildResponse names the single child node to spawn
	ChildResponse struct {
		ChildNodeID PlanNodeID `json:"child_node_id"`
	}

	// ChildrenResponse names the child nodes to spawn
	ChildrenResponse struct {
		ChildNodeIDs []PlanNodeID `json:"child_node_ids"`
	}

	// FacilitatorResponse selects an execution mode and an optional delay
	// before dispatch
	FacilitatorResponse struct {
		Mode         ExecutionMode `json:"mode"`
		WaitDuration time.Duration `json:"wait_duration,omitempty"`
	}

	// FailureKind classifies a failure reason
	FailureKind string

	// FailureInfo is the structured reason a node failed, was skipped, or
	// was forced to terminate
	FailureInfo struct {
		Kind    FailureKind `json:"kind"`
		Message string      `json:"message"`
	}
)

const (
	ModeSync       ExecutionMode = "SYNC"
	ModeAsync      ExecutionMode = "ASYNC"
	ModeTask       ExecutionMode = "TASK"
	ModeChild      ExecutionMode = "CHILD"
	ModeChildren   ExecutionMode = "CHILDREN"
	ModeChildChain ExecutionMode = "CHILD_CHAIN"
)

const (
	FailureStep      FailureKind = "STEP"
	FailureEngine    FailureKind = "ENGINE"
	FailureTimeout   FailureKind = "TIMEOUT"
	FailureInterrupt FailureKind = "INTERRUPT"
	FailureSkip      FailureKind = "SKIP"
	FailureRestraint FailureKind = "RESTRAINT"
	FailureChild     FailureKind = "CHILD"
)

// IsValid reports whether the mode is one of the known modes
func (m ExecutionMode) IsValid() bool {
	switch m {
	case ModeSync, ModeAsync, ModeTask, ModeChild, ModeChildren,
		ModeChildChain:
		return true
	default:
		return false
	}
}

// IsChildMode reports whether the mode spawns child node executions
func (m ExecutionMode) IsChildMode() bool {
	return m == ModeChild || m == ModeChildren || m == ModeChildChain
}

// NewFailure builds failure info of the given kind
func NewFailure(kind FailureKind, msg string) *FailureInfo {
	return &FailureInfo{Kind: kind, Message: msg}
}

// SyncExecutable records a completed synchronous step
func SyncExecutable(r *StepResponse, at time.Time) *ExecutableResponse {
	return &ExecutableResponse{Type: ModeSync, Sync: r, RecordedAt: at}
}

// AsyncExecutable records an async wait on correlation ids
func AsyncExecutable(r *AsyncResponse, at time.Time) *ExecutableResponse {
	return &ExecutableResponse{Type: ModeAsync, Async: r, RecordedAt: at}
}

// TaskExecutable records a submitted remote task
func TaskExecutable(r *TaskResponse, at time.Time) *ExecutableResponse {
	return &ExecutableResponse{Type: ModeTask, Task: r, RecordedAt: at}
}

// ChildExecutable records a spawned child
func ChildExecutable(id PlanNodeID, at time.Time) *ExecutableResponse {
	return &ExecutableResponse{
		Type:       ModeChild,
		Child:      &ChildResponse{ChildNodeID: id},
		RecordedAt: at,
	}
}

// ChildrenExecutable records spawned parallel children
func ChildrenExecutable(ids []PlanNodeID, at time.Time) *ExecutableResponse {
	return &ExecutableResponse{
		Type:       ModeChildren,
		Children:   &ChildrenResponse{ChildNodeIDs: ids},
		RecordedAt: at,
	}
}

// ChildChainExecutable records children spawned one after another
func ChildChainExecutable(
	ids []PlanNodeID, at time.Time,
) *ExecutableResponse {
	return &ExecutableResponse{
		Type:       ModeChildChain,
		ChildChain: &ChildrenResponse{ChildNodeIDs: ids},
		RecordedAt: at,
	}
}
