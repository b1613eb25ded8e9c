package api

import "time"

type (
	// TimeoutDimension names an independent timeout tracked for a node
	TimeoutDimension string

	// TrackerState is the state of one timeout dimension
	TrackerState string

	// TimeoutState is the persisted form of one tracked timeout
	TimeoutState struct {
		Dimension TimeoutDimension `json:"dimension"`
		Timeout   time.Duration    `json:"timeout"`
		Elapsed   time.Duration    `json:"elapsed"`
		StartedAt time.Time        `json:"started_at,omitempty"`
		State     TrackerState     `json:"state"`
	}
)

const (
	DimensionAbsolute TimeoutDimension = "ABSOLUTE"
	DimensionStep     TimeoutDimension = "STEP"
	DimensionInterval TimeoutDimension = "INTERVAL"
	DimensionCallback TimeoutDimension = "CALLBACK"
	DimensionTask     TimeoutDimension = "TASK"
)

const (
	TrackerTicking TrackerState = "TICKING"
	TrackerPaused  TrackerState = "PAUSED"
	TrackerExpired TrackerState = "EXPIRED"
)
