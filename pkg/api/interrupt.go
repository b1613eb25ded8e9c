package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type (
	// InterruptType is the kind of out-of-band control signal
	InterruptType string

	// InterruptState tracks whether an interrupt has been fully applied
	InterruptState string

	// Interrupt is an out-of-band control message targeting one node
	// execution, or a whole plan execution for the _ALL variants
	Interrupt struct {
		ID              InterruptID     `json:"id"`
		Type            InterruptType   `json:"type"`
		PlanExecutionID PlanExecutionID `json:"plan_execution_id"`
		NodeExecutionID NodeExecutionID `json:"node_execution_id,omitempty"`
		IssuedAt        time.Time       `json:"issued_at"`
		IssuedBy        string          `json:"issued_by,omitempty"`
		Parameters      json.RawMessage `json:"parameters,omitempty"`
	}

	// InterruptRecord is the durable record of a registered interrupt
	InterruptRecord struct {
		Interrupt    *Interrupt     `json:"interrupt"`
		State        InterruptState `json:"state"`
		RegisteredAt time.Time      `json:"registered_at"`
		ProcessedAt  time.Time      `json:"processed_at,omitempty"`
	}

	// InterruptHistory records an interrupt applied to a node execution
	InterruptHistory struct {
		InterruptID InterruptID   `json:"interrupt_id"`
		Type        InterruptType `json:"type"`
		FromStatus  Status        `json:"from_status"`
		ToStatus    Status        `json:"to_status"`
		AppliedAt   time.Time     `json:"applied_at"`
	}
)

const (
	InterruptAbort       InterruptType = "ABORT"
	InterruptAbortAll    InterruptType = "ABORT_ALL"
	InterruptPause       InterruptType = "PAUSE"
	InterruptPauseAll    InterruptType = "PAUSE_ALL"
	InterruptResume      InterruptType = "RESUME"
	InterruptResumeAll   InterruptType = "RESUME_ALL"
	InterruptRetry       InterruptType = "RETRY"
	InterruptMarkSuccess InterruptType = "MARK_SUCCESS"
	InterruptMarkExpired InterruptType = "MARK_EXPIRED"
	InterruptMarkFailed  InterruptType = "MARK_FAILED"
	InterruptCustom      InterruptType = "CUSTOM"
)

const (
	InterruptRegistered InterruptState = "REGISTERED"
	InterruptProcessed  InterruptState = "PROCESSED"
)

var (
	ErrInvalidInterrupt = errors.New("invalid interrupt")
)

// IsPlanScoped reports whether the interrupt cascades over a whole plan
func (t InterruptType) IsPlanScoped() bool {
	switch t {
	case InterruptAbortAll, InterruptPauseAll, InterruptResumeAll:
		return true
	default:
		return false
	}
}

// NodeType returns the node-scoped interrupt applied to each node by a
// plan-scoped interrupt
func (t InterruptType) NodeType() InterruptType {
	switch t {
	case InterruptAbortAll:
		return InterruptAbort
	case InterruptPauseAll:
		return InterruptPause
	case InterruptResumeAll:
		return InterruptResume
	default:
		return t
	}
}

// IsValid reports whether the type is known
func (t InterruptType) IsValid() bool {
	switch t {
	case InterruptAbort, InterruptAbortAll, InterruptPause,
		InterruptPauseAll, InterruptResume, InterruptResumeAll,
		InterruptRetry, InterruptMarkSuccess, InterruptMarkExpired,
		InterruptMarkFailed, InterruptCustom:
		return true
	default:
		return false
	}
}

// Validate checks the interrupt's type and targeting
func (i *Interrupt) Validate() error {
	switch {
	case i.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidInterrupt)
	case !i.Type.IsValid():
		return fmt.Errorf("%w: unknown type %s", ErrInvalidInterrupt, i.Type)
	case i.PlanExecutionID == "":
		return fmt.Errorf("%w: missing plan execution", ErrInvalidInterrupt)
	case i.Type.IsPlanScoped() && i.NodeExecutionID != "":
		return fmt.Errorf("%w: %s targets a plan, not a node",
			ErrInvalidInterrupt, i.Type)
	case !i.Type.IsPlanScoped() && i.NodeExecutionID == "":
		return fmt.Errorf("%w: %s requires a node execution",
			ErrInvalidInterrupt, i.Type)
	}
	return nil
}

// IsProcessed reports whether the interrupt has been fully applied
func (r *InterruptRecord) IsProcessed() bool {
	return r != nil && r.State == InterruptProcessed
}
