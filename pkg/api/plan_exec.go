package api

import (
	"maps"
	"slices"
	"time"
)

type (
	// PlanExecution is the runtime record of one execution of a plan. It
	// indexes every node execution created for the plan and every interrupt
	// registered against it
	PlanExecution struct {
		ID                PlanExecutionID                  `json:"id"`
		Plan              *Plan                            `json:"plan"`
		Status            Status                           `json:"status"`
		SetupAbstractions map[string]string                `json:"setup_abstractions,omitempty"`
		ExpressionToken   int64                            `json:"expression_token,omitempty"`
		Nodes             map[NodeExecutionID]*NodeIndex   `json:"nodes"`
		Interrupts        map[InterruptID]*InterruptRecord `json:"interrupts"`
		Failure           *FailureInfo                     `json:"failure,omitempty"`
		CreatedAt         time.Time                        `json:"created_at"`
		EndedAt           time.Time                        `json:"ended_at,omitempty"`
		LastUpdated       time.Time                        `json:"last_updated"`
	}

	// NodeIndex locates a node execution within the plan's hierarchy
	NodeIndex struct {
		PlanNodeID PlanNodeID        `json:"plan_node_id"`
		ParentID   NodeExecutionID   `json:"parent_id,omitempty"`
		PreviousID NodeExecutionID   `json:"previous_id,omitempty"`
		ChainID    ChainID           `json:"chain_id"`
		RetryIDs   []NodeExecutionID `json:"retry_ids,omitempty"`
		CreatedAt  time.Time         `json:"created_at"`
	}

	// EngineState tracks the active plan executions, the correlation index
	// used to route callbacks, and capacities set at runtime
	EngineState struct {
		Active       map[PlanExecutionID]*ActivePlan `json:"active"`
		Correlations map[CorrelationID]*NodeRef      `json:"correlations"`
		Capacities   map[ResourceUnit]int            `json:"capacities"`
		LastUpdated  time.Time                       `json:"last_updated"`
	}

	// ActivePlan records a plan execution that has not yet finished
	ActivePlan struct {
		PlanID    PlanID    `json:"plan_id"`
		StartedAt time.Time `json:"started_at"`
	}
)

// ChildrenOf returns the node executions whose parent is the given node,
// ordered by creation. An empty parent id selects top-level nodes
func (p *PlanExecution) ChildrenOf(parent NodeExecutionID) []NodeExecutionID {
	var res []NodeExecutionID
	for id, idx := range p.Nodes {
		if idx.ParentID == parent {
			res = append(res, id)
		}
	}
	p.sortByCreation(res)
	return res
}

// Descendants returns every node execution below the given node, parents
// before their children
func (p *PlanExecution) Descendants(id NodeExecutionID) []NodeExecutionID {
	var res []NodeExecutionID
	queue := p.ChildrenOf(id)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		res = append(res, next)
		queue = append(queue, p.ChildrenOf(next)...)
	}
	return res
}

// NodeIDs returns every node execution of the plan ordered by creation
func (p *PlanExecution) NodeIDs() []NodeExecutionID {
	res := slices.Collect(maps.Keys(p.Nodes))
	p.sortByCreation(res)
	return res
}

// Depth returns how many ancestors a node execution has
func (p *PlanExecution) Depth(id NodeExecutionID) int {
	depth := 0
	for {
		idx, ok := p.Nodes[id]
		if !ok || idx.ParentID == "" {
			return depth
		}
		depth++
		id = idx.ParentID
	}
}

func (p *PlanExecution) sortByCreation(ids []NodeExecutionID) {
	slices.SortFunc(ids, func(a, b NodeExecutionID) int {
		if c := p.Nodes[a].CreatedAt.Compare(p.Nodes[b].CreatedAt); c != 0 {
			return c
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	})
}

// SetStatus returns a copy of the plan execution in the given status
func (p *PlanExecution) SetStatus(s Status, at time.Time) *PlanExecution {
	res := *p
	res.Status = s
	if s.IsTerminal() {
		res.EndedAt = at
	}
	return &res
}

// SetFailure returns a copy of the plan execution with the failure set
func (p *PlanExecution) SetFailure(f *FailureInfo) *PlanExecution {
	res := *p
	res.Failure = f
	return &res
}

// AddNode returns a copy of the plan execution with the node indexed
func (p *PlanExecution) AddNode(
	id NodeExecutionID, idx *NodeIndex,
) *PlanExecution {
	res := *p
	res.Nodes = maps.Clone(p.Nodes)
	if res.Nodes == nil {
		res.Nodes = map[NodeExecutionID]*NodeIndex{}
	}
	res.Nodes[id] = idx
	return &res
}

// SetInterrupt returns a copy of the plan execution with the interrupt
// record stored
func (p *PlanExecution) SetInterrupt(r *InterruptRecord) *PlanExecution {
	res := *p
	res.Interrupts = maps.Clone(p.Interrupts)
	if res.Interrupts == nil {
		res.Interrupts = map[InterruptID]*InterruptRecord{}
	}
	res.Interrupts[r.Interrupt.ID] = r
	return &res
}

// SetLastUpdated returns a copy of the plan execution with the timestamp
func (p *PlanExecution) SetLastUpdated(t time.Time) *PlanExecution {
	res := *p
	res.LastUpdated = t
	return &res
}

// SetActivePlan returns a copy of the engine state with the plan active
func (e *EngineState) SetActivePlan(
	id PlanExecutionID, a *ActivePlan,
) *EngineState {
	res := *e
	res.Active = maps.Clone(e.Active)
	if res.Active == nil {
		res.Active = map[PlanExecutionID]*ActivePlan{}
	}
	res.Active[id] = a
	return &res
}

// DeleteActivePlan returns a copy of the engine state without the plan
func (e *EngineState) DeleteActivePlan(id PlanExecutionID) *EngineState {
	res := *e
	res.Active = maps.Clone(e.Active)
	delete(res.Active, id)
	return &res
}

// SetCorrelations returns a copy of the engine state routing the ids to
// the referenced node execution
func (e *EngineState) SetCorrelations(
	ids []CorrelationID, ref *NodeRef,
) *EngineState {
	res := *e
	res.Correlations = maps.Clone(e.Correlations)
	if res.Correlations == nil {
		res.Correlations = map[CorrelationID]*NodeRef{}
	}
	for _, id := range ids {
		res.Correlations[id] = ref
	}
	return &res
}

// DeleteCorrelations returns a copy of the engine state without the ids
func (e *EngineState) DeleteCorrelations(ids []CorrelationID) *EngineState {
	res := *e
	res.Correlations = maps.Clone(e.Correlations)
	for _, id := range ids {
		delete(res.Correlations, id)
	}
	return &res
}

// SetCapacity returns a copy of the engine state with the unit capacity
func (e *EngineState) SetCapacity(u ResourceUnit, n int) *EngineState {
	res := *e
	res.Capacities = maps.Clone(e.Capacities)
	if res.Capacities == nil {
		res.Capacities = map[ResourceUnit]int{}
	}
	res.Capacities[u] = n
	return &res
}

// SetLastUpdated returns a copy of the engine state with the timestamp
func (e *EngineState) SetLastUpdated(t time.Time) *EngineState {
	res := *e
	res.LastUpdated = t
	return &res
}
