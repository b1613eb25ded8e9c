package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

type (
	// Plan is the immutable graph of plan nodes built once per pipeline
	// execution. Execution starts at StartNodeID
	Plan struct {
		ID          PlanID                   `json:"id"`
		StartNodeID PlanNodeID               `json:"start_node_id"`
		Nodes       map[PlanNodeID]*PlanNode `json:"nodes"`
	}

	// PlanNode describes one step of a plan, the strategies that decide how
	// it runs and what follows it, and the constraints it runs under
	PlanNode struct {
		ID             PlanNodeID           `json:"id"`
		Identifier     string               `json:"identifier"`
		Name           string               `json:"name,omitempty"`
		StepType       StepType             `json:"step_type"`
		StepParameters json.RawMessage      `json:"step_parameters,omitempty"`
		Advisers       []*Obtainment        `json:"advisers,omitempty"`
		Facilitators   []*Obtainment        `json:"facilitators,omitempty"`
		SkipCondition  *SkipCondition       `json:"skip_condition,omitempty"`
		SkipGraph      SkipGraphType        `json:"skip_graph,omitempty"`
		Next           PlanNodeID           `json:"next,omitempty"`
		Children       []PlanNodeID         `json:"children,omitempty"`
		Restraint      *ResourceRequirement `json:"restraint,omitempty"`
		Timeouts       []*TimeoutSpec       `json:"timeouts,omitempty"`
	}

	// Obtainment binds a facilitator or adviser type to its parameters
	Obtainment struct {
		Type       ObtainmentType  `json:"type"`
		Parameters json.RawMessage `json:"parameters,omitempty"`
	}

	// SkipCondition is a predicate script that, when true, skips the node
	SkipCondition struct {
		Language string `json:"language"`
		Script   string `json:"script"`
	}

	// SkipGraphType controls how a node participates in graph traversal
	SkipGraphType string

	// ResourceRequirement declares the permits a node must hold to run
	ResourceRequirement struct {
		Unit    ResourceUnit `json:"unit"`
		Permits int          `json:"permits"`
		Mode    AcquireMode  `json:"mode,omitempty"`
		Scope   HoldingScope `json:"scope,omitempty"`
	}

	// TimeoutSpec declares a timeout for one tracking dimension
	TimeoutSpec struct {
		Dimension TimeoutDimension `json:"dimension"`
		Millis    int64            `json:"timeout_ms"`
	}

	// PlanFormat identifies a plan document encoding
	PlanFormat string
)

const (
	SkipGraphNoop     SkipGraphType = "NOOP"
	SkipGraphSkipNode SkipGraphType = "SKIP_NODE"
)

const (
	ScriptLangLua  = "lua"
	ScriptLangExpr = "expr"
)

const (
	PlanFormatJSON PlanFormat = "json"
	PlanFormatYAML PlanFormat = "yaml"
)

// NextNodeParam is the obtainment parameter naming an explicit successor
const NextNodeParam = "nextNodeId"

var (
	ErrInvalidPlan          = errors.New("invalid plan")
	ErrMissingStartNode     = errors.New("start node not found")
	ErrMissingNodeReference = errors.New("missing node reference")
	ErrNodeIDMismatch       = errors.New("node id does not match its key")
	ErrPlanCycle            = errors.New("plan graph contains a cycle")
	ErrMultipleParents      = errors.New("node has more than one parent")
	ErrUnreachableNode      = errors.New("node unreachable from start node")
	ErrMissingStepType      = errors.New("node has no step type")
	ErrInvalidRequirement   = errors.New("invalid resource requirement")
	ErrInvalidTimeout       = errors.New("invalid timeout")
	ErrUnknownPlanFormat    = errors.New("unknown plan format")
)

// ParsePlan decodes a plan document in the requested format
func ParsePlan(data []byte, format PlanFormat) (*Plan, error) {
	switch format {
	case PlanFormatJSON, "":
		var res Plan
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, err
		}
		return &res, nil
	case PlanFormatYAML:
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		js, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		return ParsePlan(js, PlanFormatJSON)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlanFormat, format)
	}
}

// Node returns the plan node with the given id
func (p *Plan) Node(id PlanNodeID) (*PlanNode, bool) {
	n, ok := p.Nodes[id]
	return n, ok && n != nil
}

// Edges returns every node id the given node can lead to: its declared
// successor, its declared children, and any successor named by an adviser
func (p *Plan) Edges(id PlanNodeID) []PlanNodeID {
	n, ok := p.Node(id)
	if !ok {
		return nil
	}
	var res []PlanNodeID
	if n.Next != "" {
		res = append(res, n.Next)
	}
	res = append(res, n.Children...)
	for _, o := range n.Advisers {
		if next := o.NextNodeID(); next != "" && !slices.Contains(res, next) {
			res = append(res, next)
		}
	}
	return res
}

// Validate checks the plan graph: every reference resolves, every node has
// at most one parent and is reachable from the start node, and no cycle
// exists. Any violation rejects
// the whole plan
func (p *Plan) Validate() error {
	if _, ok := p.Node(p.StartNodeID); !ok {
		return fmt.Errorf("%w: %w: %s",
			ErrInvalidPlan, ErrMissingStartNode, p.StartNodeID)
	}
	for _, key := range p.sortedIDs() {
		if err := p.Nodes[key].validate(key); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidPlan, err)
		}
		for _, to := range p.Edges(key) {
			if _, ok := p.Node(to); !ok {
				return fmt.Errorf("%w: %w: %s -> %s",
					ErrInvalidPlan, ErrMissingNodeReference, key, to)
			}
		}
	}
	if err := p.checkParents(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	if err := p.checkCycles(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	if err := p.checkReachable(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	return nil
}

// checkParents rejects a node that is the Next or child target of more
// than one node, or listed twice by the same one. Adviser jumps are not
// structural and may share targets
func (p *Plan) checkParents() error {
	parents := make(map[PlanNodeID]PlanNodeID, len(p.Nodes))
	for _, id := range p.sortedIDs() {
		n := p.Nodes[id]
		targets := n.Children
		if n.Next != "" {
			targets = append([]PlanNodeID{n.Next}, targets...)
		}
		for _, to := range targets {
			if prev, ok := parents[to]; ok {
				return fmt.Errorf("%w: %s (from %s and %s)",
					ErrMultipleParents, to, prev, id)
			}
			parents[to] = id
		}
	}
	return nil
}

func (p *Plan) checkCycles() error {
	const (
		visiting = iota + 1
		visited
	)
	state := make(map[PlanNodeID]int, len(p.Nodes))

	var visit func(id PlanNodeID, path []PlanNodeID) error
	visit = func(id PlanNodeID, path []PlanNodeID) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w: %s",
				ErrPlanCycle, joinIDs(append(path, id)))
		case visited:
			return nil
		}
		state[id] = visiting
		path = append(path[:len(path):len(path)], id)
		for _, to := range p.Edges(id) {
			if err := visit(to, path); err != nil {
				return err
			}
		}
		state[id] = visited
		return nil
	}

	for _, id := range p.sortedIDs() {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *Plan) checkReachable() error {
	seen := map[PlanNodeID]bool{p.StartNodeID: true}
	queue := []PlanNodeID{p.StartNodeID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, to := range p.Edges(id) {
			if !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
	}
	for _, id := range p.sortedIDs() {
		if !seen[id] {
			return fmt.Errorf("%w: %s", ErrUnreachableNode, id)
		}
	}
	return nil
}

func (p *Plan) sortedIDs() []PlanNodeID {
	res := make([]PlanNodeID, 0, len(p.Nodes))
	for id := range p.Nodes {
		res = append(res, id)
	}
	slices.Sort(res)
	return res
}

func (n *PlanNode) validate(key PlanNodeID) error {
	if n == nil || n.ID != key {
		return fmt.Errorf("%w: %s", ErrNodeIDMismatch, key)
	}
	if n.StepType == "" && n.SkipGraph != SkipGraphSkipNode {
		return fmt.Errorf("%w: %s", ErrMissingStepType, key)
	}
	if r := n.Restraint; r != nil {
		if r.Unit == "" || r.Permits <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidRequirement, key)
		}
		if !r.EffectiveMode().IsValid() || !r.EffectiveScope().IsValid() {
			return fmt.Errorf("%w: %s", ErrInvalidRequirement, key)
		}
	}
	for _, t := range n.Timeouts {
		if t == nil || t.Millis <= 0 || t.Dimension == "" {
			return fmt.Errorf("%w: %s", ErrInvalidTimeout, key)
		}
	}
	return nil
}

// IsSkipNode reports whether the node is bypassed during traversal
func (n *PlanNode) IsSkipNode() bool {
	return n.SkipGraph == SkipGraphSkipNode
}

// DisplayName returns the node's name, falling back to its identifier
func (n *PlanNode) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}
	if n.Identifier != "" {
		return n.Identifier
	}
	return string(n.ID)
}

// NextNodeID returns the successor named in the obtainment parameters
func (o *Obtainment) NextNodeID() PlanNodeID {
	if o == nil || len(o.Parameters) == 0 {
		return ""
	}
	return PlanNodeID(gjson.GetBytes(o.Parameters, NextNodeParam).String())
}

// EffectiveMode returns the declared acquire mode, defaulting to ENSURE
func (r *ResourceRequirement) EffectiveMode() AcquireMode {
	if r.Mode == "" {
		return AcquireEnsure
	}
	return r.Mode
}

// EffectiveScope returns the declared holding scope, defaulting to STAGE
func (r *ResourceRequirement) EffectiveScope() HoldingScope {
	if r.Scope == "" {
		return ScopeStage
	}
	return r.Scope
}

// Duration returns the timeout as a time.Duration
func (t *TimeoutSpec) Duration() time.Duration {
	return time.Duration(t.Millis) * time.Millisecond
}

func joinIDs(ids []PlanNodeID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, " -> ")
}
