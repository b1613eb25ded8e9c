package restraint

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/util"
)

type (
	// Manager admits permit requests against per-unit capacities. Each
	// unit keeps a FIFO queue guarded by its own mutex, so work on one
	// unit never contends with another
	Manager struct {
		now        util.Clock
		units      map[api.ResourceUnit]*unit
		onAdmit    AdmitFunc
		defaultCap int
		seq        atomic.Int64
		mu         sync.RWMutex
	}

	// Request asks for permits on a resource unit
	Request struct {
		Unit     api.ResourceUnit
		HolderID api.HolderID
		Permits  int
		Mode     api.AcquireMode
		Scope    api.HoldingScope
	}

	// AdmitFunc is notified when a blocked instance becomes active. It is
	// called without any unit lock held
	AdmitFunc func(*api.RestraintInstance)

	unit struct {
		name     api.ResourceUnit
		queue    []*api.RestraintInstance
		capacity int
		mu       sync.Mutex
	}
)

var (
	ErrExceedsCapacity = errors.New("permits exceed unit capacity")
	ErrInvalidRequest  = errors.New("invalid restraint request")
	ErrInvalidCapacity = errors.New("invalid capacity")
)

// NewManager creates a manager whose units start at the default capacity
func NewManager(defaultCapacity int, now util.Clock) *Manager {
	return &Manager{
		now:        now,
		units:      map[api.ResourceUnit]*unit{},
		defaultCap: defaultCapacity,
	}
}

// OnAdmit registers the callback notified of promotions
func (m *Manager) OnAdmit(fn AdmitFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAdmit = fn
}

// Acquire enqueues a permit request. The returned instance is ACTIVE when
// the permits were granted immediately, or BLOCKED while it waits behind
// earlier requests. An ENSURE request from a holder that already has a
// live instance on the unit returns that instance. A request that could
// never be granted alongside the holder's own instances is rejected
func (m *Manager) Acquire(req Request) (*api.RestraintInstance, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = api.AcquireEnsure
	}
	scope := req.Scope
	if scope == "" {
		scope = api.ScopeStage
	}

	u := m.unit(req.Unit)
	u.mu.Lock()
	if mode == api.AcquireEnsure {
		if existing := u.holderInstance(req.HolderID); existing != nil {
			res := *existing
			u.mu.Unlock()
			return &res, nil
		}
	}
	if held := u.held(req.HolderID); held+req.Permits > u.capacity {
		u.mu.Unlock()
		return nil, fmt.Errorf("%w: %s requested %d with %d held of %d",
			ErrExceedsCapacity, req.Unit, req.Permits, held, u.capacity)
	}

	now := m.now()
	inst := &api.RestraintInstance{
		ID:         api.NewID[api.RestraintInstanceID](),
		Unit:       req.Unit,
		HolderID:   req.HolderID,
		Permits:    req.Permits,
		Mode:       mode,
		Scope:      scope,
		State:      api.RestraintBlocked,
		Sequence:   m.seq.Add(1),
		EnqueuedAt: now,
	}
	u.queue = append(u.queue, inst)
	promoted := u.promote(now)
	res := *inst
	u.mu.Unlock()

	m.notify(slices.DeleteFunc(promoted, func(p *api.RestraintInstance) bool {
		return p.ID == inst.ID
	}))
	return &res, nil
}

// Restore re-enqueues a persisted instance, keeping its state. Restored
// instances must be supplied in their original enqueue order, and Promote
// should be called once restoration completes
func (m *Manager) Restore(inst *api.RestraintInstance) {
	if inst == nil || inst.State == api.RestraintFinished {
		return
	}
	u := m.unit(inst.Unit)
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, q := range u.queue {
		if q.ID == inst.ID {
			return
		}
	}
	cp := *inst
	u.queue = append(u.queue, &cp)
	for {
		cur := m.seq.Load()
		if cur >= inst.Sequence || m.seq.CompareAndSwap(cur, inst.Sequence) {
			break
		}
	}
}

// Promote admits whatever fits at the head of every unit's queue
func (m *Manager) Promote() []*api.RestraintInstance {
	var res []*api.RestraintInstance
	for _, u := range m.allUnits() {
		u.mu.Lock()
		res = append(res, u.promote(m.now())...)
		u.mu.Unlock()
	}
	m.notify(res)
	return res
}

// Release finishes every instance the holder has on the unit and admits
// whatever now fits. Releasing a holder with no instances is a no-op
func (m *Manager) Release(
	name api.ResourceUnit, holder api.HolderID,
) []*api.RestraintInstance {
	u := m.existingUnit(name)
	if u == nil {
		return nil
	}
	u.mu.Lock()
	removed := u.remove(holder)
	var promoted []*api.RestraintInstance
	if removed {
		promoted = u.promote(m.now())
	}
	u.mu.Unlock()

	m.notify(promoted)
	return promoted
}

// ReleaseHolder releases the holder's instances on every unit
func (m *Manager) ReleaseHolder(holder api.HolderID) []*api.RestraintInstance {
	var res []*api.RestraintInstance
	for _, u := range m.allUnits() {
		res = append(res, m.Release(u.name, holder)...)
	}
	return res
}

// Capacity returns the unit's capacity
func (m *Manager) Capacity(name api.ResourceUnit) int {
	u := m.unit(name)
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.capacity
}

// SetCapacity changes the unit's capacity, admitting whatever fits if it
// grew. Active instances are never revoked when it shrinks
func (m *Manager) SetCapacity(
	name api.ResourceUnit, capacity int,
) ([]*api.RestraintInstance, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	u := m.unit(name)
	u.mu.Lock()
	u.capacity = capacity
	promoted := u.promote(m.now())
	u.mu.Unlock()

	m.notify(promoted)
	return promoted, nil
}

// Instances returns copies of the unit's live instances in queue order
func (m *Manager) Instances(name api.ResourceUnit) []*api.RestraintInstance {
	u := m.existingUnit(name)
	if u == nil {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.snapshot()
}

// Units summarizes every known unit ordered by name
func (m *Manager) Units() []*api.RestraintUnit {
	units := m.allUnits()
	res := make([]*api.RestraintUnit, 0, len(units))
	for _, u := range units {
		u.mu.Lock()
		res = append(res, &api.RestraintUnit{
			Unit:      u.name,
			Capacity:  u.capacity,
			Active:    u.active(),
			Instances: u.snapshot(),
		})
		u.mu.Unlock()
	}
	return res
}

// ActivePermits returns the number of permits held on the unit
func (m *Manager) ActivePermits(name api.ResourceUnit) int {
	u := m.existingUnit(name)
	if u == nil {
		return 0
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.active()
}

func (m *Manager) unit(name api.ResourceUnit) *unit {
	if u := m.existingUnit(name); u != nil {
		return u
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.units[name]; ok {
		return u
	}
	u := &unit{name: name, capacity: m.defaultCap}
	m.units[name] = u
	return u
}

func (m *Manager) existingUnit(name api.ResourceUnit) *unit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.units[name]
}

func (m *Manager) allUnits() []*unit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := slices.Sorted(maps.Keys(m.units))
	res := make([]*unit, 0, len(names))
	for _, n := range names {
		res = append(res, m.units[n])
	}
	return res
}

func (m *Manager) notify(promoted []*api.RestraintInstance) {
	m.mu.RLock()
	fn := m.onAdmit
	m.mu.RUnlock()
	if fn == nil {
		return
	}
	for _, p := range promoted {
		fn(p)
	}
}

func (r Request) validate() error {
	switch {
	case r.Unit == "" || r.HolderID == "":
		return fmt.Errorf("%w: missing unit or holder", ErrInvalidRequest)
	case r.Permits <= 0:
		return fmt.Errorf("%w: permits must be positive", ErrInvalidRequest)
	case r.Mode != "" && !r.Mode.IsValid():
		return fmt.Errorf("%w: mode %s", ErrInvalidRequest, r.Mode)
	case r.Scope != "" && !r.Scope.IsValid():
		return fmt.Errorf("%w: scope %s", ErrInvalidRequest, r.Scope)
	}
	return nil
}

// promote walks the queue head to tail and stops at the first blocked
// instance that does not fit
func (u *unit) promote(now time.Time) []*api.RestraintInstance {
	var res []*api.RestraintInstance
	active := u.active()
	for _, inst := range u.queue {
		if inst.State != api.RestraintBlocked {
			continue
		}
		if active+inst.Permits > u.capacity {
			break
		}
		inst.State = api.RestraintActive
		inst.AdmittedAt = now
		active += inst.Permits
		cp := *inst
		res = append(res, &cp)
	}
	return res
}

func (u *unit) active() int {
	res := 0
	for _, inst := range u.queue {
		if inst.State == api.RestraintActive {
			res += inst.Permits
		}
	}
	return res
}

// held sums the permits of every live instance the holder has queued,
// whether active or blocked
func (u *unit) held(holder api.HolderID) int {
	res := 0
	for _, inst := range u.queue {
		if inst.HolderID == holder {
			res += inst.Permits
		}
	}
	return res
}

func (u *unit) holderInstance(holder api.HolderID) *api.RestraintInstance {
	for _, inst := range u.queue {
		if inst.HolderID == holder {
			return inst
		}
	}
	return nil
}

func (u *unit) remove(holder api.HolderID) bool {
	before := len(u.queue)
	u.queue = slices.DeleteFunc(u.queue, func(i *api.RestraintInstance) bool {
		return i.HolderID == holder
	})
	return len(u.queue) != before
}

func (u *unit) snapshot() []*api.RestraintInstance {
	res := make([]*api.RestraintInstance, len(u.queue))
	for i, inst := range u.queue {
		cp := *inst
		res[i] = &cp
	}
	return res
}
