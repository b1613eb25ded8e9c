package api

import "time"

type (
	// ResourceUnit names a capacity-limited resource, such as an
	// environment that allows one deployment at a time
	ResourceUnit string

	// HolderID identifies who holds permits on a resource unit
	HolderID string

	// RestraintInstanceID identifies one queued permit request
	RestraintInstanceID string

	// AcquireMode selects how a holder's permits are allocated
	AcquireMode string

	// HoldingScope selects when held permits are released
	HoldingScope string

	// RestraintState is the admission state of a permit request
	RestraintState string

	// RestraintInstance is a queued request for permits on a resource unit
	RestraintInstance struct {
		ID         RestraintInstanceID `json:"id"`
		Unit       ResourceUnit        `json:"unit"`
		HolderID   HolderID            `json:"holder_id"`
		Permits    int                 `json:"permits"`
		Mode       AcquireMode         `json:"mode"`
		Scope      HoldingScope        `json:"scope"`
		State      RestraintState      `json:"state"`
		Sequence   int64               `json:"sequence"`
		EnqueuedAt time.Time           `json:"enqueued_at"`
		AdmittedAt time.Time           `json:"admitted_at,omitempty"`
	}

	// RestraintUnit summarizes one resource unit and its queue
	RestraintUnit struct {
		Unit      ResourceUnit         `json:"unit"`
		Capacity  int                  `json:"capacity"`
		Active    int                  `json:"active_permits"`
		Instances []*RestraintInstance `json:"instances"`
	}
)

const (
	AcquireEnsure     AcquireMode = "ENSURE"
	AcquireAccumulate AcquireMode = "ACCUMULATE"
)

const (
	ScopePlan  HoldingScope = "PLAN"
	ScopeStage HoldingScope = "STAGE"
)

const (
	RestraintBlocked  RestraintState = "BLOCKED"
	RestraintActive   RestraintState = "ACTIVE"
	RestraintFinished RestraintState = "FINISHED"
)

// IsValid reports whether the mode is known
func (m AcquireMode) IsValid() bool {
	return m == AcquireEnsure || m == AcquireAccumulate
}

// IsValid reports whether the scope is known
func (s HoldingScope) IsValid() bool {
	return s == ScopePlan || s == ScopeStage
}

// SetState returns a copy of the instance in the given state
func (r *RestraintInstance) SetState(
	s RestraintState, at time.Time,
) *RestraintInstance {
	res := *r
	res.State = s
	if s == RestraintActive {
		res.AdmittedAt = at
	}
	return &res
}
