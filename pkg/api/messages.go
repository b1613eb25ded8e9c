package api

import (
	"encoding/json"
	"time"
)

type (
	// StartPlanRequest contains parameters for starting a plan execution
	StartPlanRequest struct {
		ID                PlanExecutionID   `json:"id,omitempty"`
		Plan              *Plan             `json:"plan"`
		SetupAbstractions map[string]string `json:"setup_abstractions,omitempty"`
	}

	// PlanStartedResponse is returned when a plan start succeeds
	PlanStartedResponse struct {
		Message         string          `json:"message"`
		PlanExecutionID PlanExecutionID `json:"plan_execution_id"`
	}

	// NodesListResponse contains the node executions of a plan
	NodesListResponse struct {
		Nodes []*NodeExecution `json:"nodes"`
		Count int              `json:"count"`
	}

	// PlansListResponse contains the active plan executions
	PlansListResponse struct {
		Active map[PlanExecutionID]*ActivePlan `json:"active"`
		Count  int                             `json:"count"`
	}

	// CallbackRequest delivers an async callback payload
	CallbackRequest struct {
		Data json.RawMessage `json:"data,omitempty"`
	}

	// TaskResultRequest delivers the raw result of a remote task
	TaskResultRequest struct {
		Result json.RawMessage `json:"result,omitempty"`
	}

	// InterruptRequest contains parameters for registering an interrupt
	InterruptRequest struct {
		ID              InterruptID     `json:"id,omitempty"`
		Type            InterruptType   `json:"type"`
		NodeExecutionID NodeExecutionID `json:"node_execution_id,omitempty"`
		IssuedBy        string          `json:"issued_by,omitempty"`
		Parameters      json.RawMessage `json:"parameters,omitempty"`
	}

	// InterruptResponse is returned when an interrupt is registered
	InterruptResponse struct {
		InterruptID InterruptID `json:"interrupt_id"`
		Message     string      `json:"message"`
	}

	// CapacityRequest sets the capacity of a resource unit
	CapacityRequest struct {
		Capacity int `json:"capacity"`
	}

	// UnitsListResponse contains every known resource unit
	UnitsListResponse struct {
		Units []*RestraintUnit `json:"units"`
		Count int              `json:"count"`
	}

	// ArchivedListResponse contains the ids of archived plan executions
	ArchivedListResponse struct {
		Plans []PlanExecutionID `json:"plans"`
		Count int               `json:"count"`
	}

	// HealthResponse provides service health information
	HealthResponse struct {
		Service string `json:"service"`
		Status  string `json:"status"`
		Version string `json:"version,omitempty"`
	}

	// MessageResponse contains a simple message string
	MessageResponse struct {
		Message string `json:"message"`
	}

	// ErrorResponse contains error details for failed requests
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status,omitempty"`
	}

	// StatusNotification reports a node execution status change
	StatusNotification struct {
		PlanExecutionID PlanExecutionID `json:"plan_execution_id"`
		NodeExecutionID NodeExecutionID `json:"node_execution_id"`
		PlanNodeID      PlanNodeID      `json:"plan_node_id"`
		Status          Status          `json:"status"`
		FromStatus      Status          `json:"from_status"`
		Timestamp       time.Time       `json:"timestamp"`
	}

	// SubscribeRequest is sent by clients to filter status notifications
	SubscribeRequest struct {
		Type            string          `json:"type"`
		PlanExecutionID PlanExecutionID `json:"plan_execution_id,omitempty"`
	}
)
