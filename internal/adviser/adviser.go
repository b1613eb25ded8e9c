package adviser

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kode4food/conductor/internal/registry"
	"github.com/kode4food/conductor/pkg/api"
)

type (
	// Adviser decides the graph transition that follows a node outcome
	Adviser interface {
		CanAdvise(status api.Status) bool
		OnAdviseEvent(ev *api.AdvisingEvent) (*api.Advise, error)
	}

	// Producer builds an adviser from obtainment parameters
	Producer func(params json.RawMessage) (Adviser, error)

	// Registry resolves obtainment types to adviser producers
	Registry = registry.Registry[api.ObtainmentType, Producer]

	// Chain is the ordered set of advisers resolved for one plan node
	Chain []Adviser

	// Binding pairs an obtainment with the producer registered for its type
	Binding struct {
		Type       api.ObtainmentType
		Producer   Producer
		Parameters json.RawMessage
	}

	// Bindings are the producers looked up for one plan node, in order
	Bindings []Binding
)

const (
	OnSuccess          api.ObtainmentType = "ON_SUCCESS"
	OnFail             api.ObtainmentType = "ON_FAIL"
	Retry              api.ObtainmentType = "RETRY"
	Ignore             api.ObtainmentType = "IGNORE"
	ManualIntervention api.ObtainmentType = "MANUAL_INTERVENTION"
	EndPlan            api.ObtainmentType = "END_PLAN"
	Mark               api.ObtainmentType = "MARK"
)

var ErrInvalidParameters = errors.New("invalid adviser parameters")

// NewRegistry creates a registry holding the built-in advisers
func NewRegistry() *Registry {
	r := registry.New[api.ObtainmentType, Producer]()
	r.MustRegister(OnSuccess, onSuccessProducer)
	r.MustRegister(OnFail, onFailProducer)
	r.MustRegister(Retry, retryProducer)
	r.MustRegister(Ignore, ignoreProducer)
	r.MustRegister(ManualIntervention, interventionProducer)
	r.MustRegister(EndPlan, endPlanProducer)
	r.MustRegister(Mark, markProducer)
	return r
}

// Resolve produces the advisers for a node's obtainments, in order
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

// Chain instantiates a fresh adviser from every binding, in order
func (b Bindings) Chain() (Chain, error) {
	res := make(Chain, 0, len(b))
	for _, o := range b {
		a, err := o.Producer(o.Parameters)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", o.Type, err)
		}
		res = append(res, a)
	}
	return res, nil
}

// Advise consults each adviser that accepts the event's status, in order,
// and returns the first advice given. When none answers, the default
// policy applies
func (c Chain) Advise(ev *api.AdvisingEvent) (*api.Advise, error) {
	for _, a := range c {
		if !a.CanAdvise(ev.Status) {
			continue
		}
		res, err := a.OnAdviseEvent(ev)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, nil
		}
	}
	return Default(ev.Status), nil
}

// Default continues to the declared successor after a positive outcome
// and ends the branch with the node's status otherwise
func Default(status api.Status) *api.Advise {
	if status.IsPositive() {
		return &api.Advise{Type: api.AdviseNextStep}
	}
	return &api.Advise{Type: api.AdvisePropagate}
}
