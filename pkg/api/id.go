package api

import "github.com/google/uuid"

type (
	// PlanID identifies a static plan definition
	PlanID string

	// PlanExecutionID identifies one execution of a plan
	PlanExecutionID string

	// PlanNodeID identifies a node within a plan
	PlanNodeID string

	// NodeExecutionID identifies one runtime attempt at a plan node
	NodeExecutionID string

	// ChainID identifies a sequential chain of node executions that shares
	// a parent wait
	ChainID string

	// InterruptID identifies an interrupt message
	InterruptID string

	// CorrelationID keys an async or task callback to its node execution
	CorrelationID string

	// TaskID identifies a task handed to the remote task transport
	TaskID string

	// StepType resolves a plan node to a step executor
	StepType string

	// ObtainmentType resolves an obtainment to a facilitator or adviser
	ObtainmentType string

	// NodeRef addresses a node execution within its plan execution
	NodeRef struct {
		PlanExecutionID PlanExecutionID `json:"plan_execution_id"`
		NodeExecutionID NodeExecutionID `json:"node_execution_id"`
	}
)

// NewID generates a random identifier of the requested type
func NewID[T ~string]() T {
	return T(uuid.NewString())
}
