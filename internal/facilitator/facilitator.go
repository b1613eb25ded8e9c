package facilitator

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kode4food/conductor/internal/registry"
	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/util"
)

type (
	// Facilitator selects the execution mode for a node invocation. A nil
	// response declines, leaving the decision to the next facilitator
	Facilitator interface {
		Facilitate(
			amb *api.Ambiance, stepParams json.RawMessage,
			prior []*api.ExecutableResponse,
		) (*api.FacilitatorResponse, error)
	}

	// Producer builds a facilitator from obtainment parameters
	Producer func(params json.RawMessage) (Facilitator, error)

	// Registry resolves obtainment types to facilitator producers
	Registry = registry.Registry[api.ObtainmentType, Producer]

	// Chain is the ordered set of facilitators resolved for one plan node
	Chain []Facilitator

	// Binding pairs an obtainment with the producer registered for its type
	Binding struct {
		Type       api.ObtainmentType
		Producer   Producer
		Parameters json.RawMessage
	}

	// Bindings are the producers looked up for one plan node, in order
	Bindings []Binding

	modeFacilitator struct {
		mode      api.ExecutionMode
		wait      time.Duration
		stepTypes []api.StepType
		firstOnly bool
	}
)

const (
	Sync        api.ObtainmentType = "SYNC"
	Async       api.ObtainmentType = "ASYNC"
	Task        api.ObtainmentType = "TASK"
	Child       api.ObtainmentType = "CHILD"
	Children    api.ObtainmentType = "CHILDREN"
	ChildChain  api.ObtainmentType = "CHILD_CHAIN"
	BarrierWait api.ObtainmentType = "BARRIER_WAIT"
)

const (
	waitDurationParam = "waitDuration"
	stepTypesParam    = "stepTypes"
)

var ErrInvalidParameters = errors.New("invalid facilitator parameters")

// NewRegistry creates a registry holding the built-in facilitators
func NewRegistry() *Registry {
	r := registry.New[api.ObtainmentType, Producer]()
	r.MustRegister(Sync, modeProducer(api.ModeSync))
	r.MustRegister(Async, modeProducer(api.ModeAsync))
	r.MustRegister(Task, modeProducer(api.ModeTask))
	r.MustRegister(Child, modeProducer(api.ModeChild))
	r.MustRegister(Children, modeProducer(api.ModeChildren))
	r.MustRegister(ChildChain, modeProducer(api.ModeChildChain))
	r.MustRegister(BarrierWait, barrierProducer)
	return r
}

// Resolve produces the facilitators for a node's obtainments, in order
func Resolve(r *Registry, obtainments []*api.Obtainment) (Chain, error) {
	b, err := Lookup(r, obtainments)
	if err != nil {
		return nil, err
	}
	return b.Chain()
}

// Lookup binds each of a node's obtainments to its registered producer
func Lookup(r *Registry, obtainments []*api.Obtainment) (Bindings, error) {
	res := make(Bindings, 0, len(obtainments))
	for _, o := range obtainments {
		prod, err := r.Obtain(o.Type)
		if err != nil {
			return nil, err
		}
		res = append(res, Binding{
			Type:       o.Type,
			Producer:   prod,
			Parameters: o.Parameters,
		})
	}
	return res, nil
}

// Chain instantiates a fresh facilitator from every binding, in order
func (b Bindings) Chain() (Chain, error) {
	res := make(Chain, 0, len(b))
	for _, o := range b {
		f, err := o.Producer(o.Parameters)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", o.Type, err)
		}
		res = append(res, f)
	}
	return res, nil
}

// Facilitate asks each facilitator in turn and returns the first answer.
// An empty or fully declining chain selects synchronous execution
func (c Chain) Facilitate(
	amb *api.Ambiance, stepParams json.RawMessage,
	prior []*api.ExecutableResponse,
) (*api.FacilitatorResponse, error) {
	for _, f := range c {
		res, err := f.Facilitate(amb, stepParams, prior)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}
	return &api.FacilitatorResponse{Mode: api.ModeSync}, nil
}

func modeProducer(mode api.ExecutionMode) Producer {
	return func(params json.RawMessage) (Facilitator, error) {
		wait, err := waitDuration(params)
		if err != nil {
			return nil, err
		}
		return &modeFacilitator{
			mode:      mode,
			wait:      wait,
			stepTypes: stepTypes(params),
		}, nil
	}
}

func barrierProducer(params json.RawMessage) (Facilitator, error) {
	wait, err := waitDuration(params)
	if err != nil {
		return nil, err
	}
	if wait <= 0 {
		return nil, fmt.Errorf("%w: %s is required",
			ErrInvalidParameters, waitDurationParam)
	}
	return &modeFacilitator{
		mode:      api.ModeSync,
		wait:      wait,
		stepTypes: stepTypes(params),
		firstOnly: true,
	}, nil
}

func (f *modeFacilitator) Facilitate(
	amb *api.Ambiance, _ json.RawMessage, prior []*api.ExecutableResponse,
) (*api.FacilitatorResponse, error) {
	if len(f.stepTypes) > 0 {
		cur := amb.Current()
		if cur == nil || !slices.Contains(f.stepTypes, cur.StepType) {
			return nil, nil
		}
	}
	res := &api.FacilitatorResponse{Mode: f.mode, WaitDuration: f.wait}
	if f.firstOnly && len(prior) > 0 {
		res.WaitDuration = 0
	}
	return res, nil
}

func waitDuration(params json.RawMessage) (time.Duration, error) {
	if len(params) == 0 {
		return 0, nil
	}
	res, err := util.Duration(gjson.GetBytes(params, waitDurationParam))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w",
			ErrInvalidParameters, waitDurationParam, err)
	}
	return res, nil
}

func stepTypes(params json.RawMessage) []api.StepType {
	if len(params) == 0 {
		return nil
	}
	var res []api.StepType
	for _, v := range gjson.GetBytes(params, stepTypesParam).Array() {
		res = append(res, api.StepType(v.String()))
	}
	return res
}
