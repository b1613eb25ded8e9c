package api

import (
	"encoding/json"
	"time"
)

type (
	// AdviseType is the graph transition an adviser selects
	AdviseType string

	// Advise is the decision returned by an adviser
	Advise struct {
		Type        AdviseType `json:"type"`
		NextNodeID  PlanNodeID `json:"next_node_id,omitempty"`
		RetryMillis int64      `json:"retry_wait_ms,omitempty"`
		Reason      string     `json:"reason,omitempty"`
	}

	// AdvisingEvent describes the outcome an adviser decides upon
	AdvisingEvent struct {
		Ambiance        *Ambiance         `json:"ambiance"`
		PlanNodeID      PlanNodeID        `json:"plan_node_id"`
		NodeExecutionID NodeExecutionID   `json:"node_execution_id"`
		Status          Status            `json:"status"`
		FromStatus      Status            `json:"from_status"`
		Failure         *FailureInfo      `json:"failure,omitempty"`
		RetryIDs        []NodeExecutionID `json:"retry_ids,omitempty"`
		Parameters      json.RawMessage   `json:"parameters,omitempty"`
	}
)

const (
	AdviseNextStep    AdviseType = "NEXT_STEP"
	AdviseRetry       AdviseType = "RETRY"
	AdviseIgnore      AdviseType = "IGNORE"
	AdviseMarkSuccess AdviseType = "MARK_SUCCESS"
	AdviseMarkFailed  AdviseType = "MARK_FAILED"
	AdviseIntervene   AdviseType = "INTERVENE"
	AdviseEndPlan     AdviseType = "END_PLAN"
	AdvisePropagate   AdviseType = "PROPAGATE"
)

// RetryWait returns the delay before a retry attempt starts
func (a *Advise) RetryWait() time.Duration {
	return time.Duration(a.RetryMillis) * time.Millisecond
}

// Attempt returns the 1-based attempt number of the advised node
func (e *AdvisingEvent) Attempt() int {
	return len(e.RetryIDs) + 1
}
