package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/kode4food/conductor/pkg/api"
)

type (
	// admissionWaiters maps a unit and holder to the nodes waiting for that
	// holder's permits to be admitted
	admissionWaiters struct {
		refs map[admissionKey][]api.NodeRef
		mu   sync.Mutex
	}

	admissionKey struct {
		unit   api.ResourceUnit
		holder api.HolderID
	}
)

func newAdmissionWaiters() *admissionWaiters {
	return &admissionWaiters{
		refs: map[admissionKey][]api.NodeRef{},
	}
}

func (w *admissionWaiters) add(key admissionKey, ref api.NodeRef) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !slices.Contains(w.refs[key], ref) {
		w.refs[key] = append(w.refs[key], ref)
	}
}

func (w *admissionWaiters) remove(key admissionKey, ref api.NodeRef) {
	w.mu.Lock()
	defer w.mu.Unlock()
	refs := slices.DeleteFunc(w.refs[key], func(r api.NodeRef) bool {
		return r == ref
	})
	if len(refs) == 0 {
		delete(w.refs, key)
		return
	}
	w.refs[key] = refs
}

func (w *admissionWaiters) get(key admissionKey) []api.NodeRef {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.refs[key])
}

// onAdmit tells the nodes waiting on a holder that one of its instances
// was admitted
func (e *Engine) onAdmit(inst *api.RestraintInstance) {
	key := admissionKey{unit: inst.Unit, holder: inst.HolderID}
	for _, ref := range e.waiting.get(key) {
		e.send(ref, msgAdmitted{instance: inst})
	}
}

// SetRestraintCapacity changes a resource unit's capacity at runtime and
// persists it so the capacity survives a restart
func (e *Engine) SetRestraintCapacity(
	_ context.Context, unit api.ResourceUnit, capacity int,
) error {
	if _, err := e.restraints.SetCapacity(unit, capacity); err != nil {
		return err
	}
	return e.raiseEngineEvent(api.EventTypeCapacitySet, api.CapacitySetEvent{
		Unit:     unit,
		Capacity: capacity,
	})
}

// RestraintUnits summarizes every known resource unit and its queue
func (e *Engine) RestraintUnits() []*api.RestraintUnit {
	return e.restraints.Units()
}

// RestraintInstances returns the queued and active instances of a unit
func (e *Engine) RestraintInstances(
	unit api.ResourceUnit,
) []*api.RestraintInstance {
	return e.restraints.Instances(unit)
}
