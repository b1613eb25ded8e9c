package restraint_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/conductor/internal/restraint"
	"github.com/kode4food/conductor/pkg/api"
)

func request(holder string, permits int) restraint.Request {
	return restraint.Request{
		Unit:     "prod",
		HolderID: api.HolderID(holder),
		Permits:  permits,
	}
}

func TestAcquireImmediate(t *testing.T) {
	m := restraint.NewManager(2, time.Now)

	a, err := m.Acquire(request("a", 1))
	require.NoError(t, err)
	assert.Equal(t, api.RestraintActive, a.State)
	assert.Equal(t, api.AcquireEnsure, a.Mode)
	assert.Equal(t, api.ScopeStage, a.Scope)
	assert.False(t, a.AdmittedAt.IsZero())

	b, err := m.Acquire(request("b", 1))
	require.NoError(t, err)
	assert.Equal(t, api.RestraintActive, b.State)

	c, err := m.Acquire(request("c", 1))
	require.NoError(t, err)
	assert.Equal(t, api.RestraintBlocked, c.State)
	assert.Equal(t, 2, m.ActivePermits("prod"))
}

func TestAcquireValidation(t *testing.T) {
	m := restraint.NewManager(2, time.Now)

	_, err := m.Acquire(request("a", 3))
	assert.ErrorIs(t, err, restraint.ErrExceedsCapacity)

	_, err = m.Acquire(request("a", 0))
	assert.ErrorIs(t, err, restraint.ErrInvalidRequest)

	_, err = m.Acquire(restraint.Request{Unit: "prod", Permits: 1})
	assert.ErrorIs(t, err, restraint.ErrInvalidRequest)

	req := request("a", 1)
	req.Mode = "GREEDY"
	_, err = m.Acquire(req)
	assert.ErrorIs(t, err, restraint.ErrInvalidRequest)

	assert.Empty(t, m.Instances("prod"))
}

func TestFIFONoBackfill(t *testing.T) {
	m := restraint.NewManager(3, time.Now)

	var admitted []api.HolderID
	m.OnAdmit(func(i *api.RestraintInstance) {
		admitted = append(admitted, i.HolderID)
	})

	_, _ = m.Acquire(request("a", 2))
	big, _ := m.Acquire(request("big", 3))
	small, _ := m.Acquire(request("small", 1))

	// small would fit beside a, but must not overtake big
	assert.Equal(t, api.RestraintBlocked, big.State)
	assert.Equal(t, api.RestraintBlocked, small.State)

	promoted := m.Release("prod", "a")
	require.Len(t, promoted, 1)
	assert.Equal(t, api.HolderID("big"), promoted[0].HolderID)

	promoted = m.Release("prod", "big")
	require.Len(t, promoted, 1)
	assert.Equal(t, api.HolderID("small"), promoted[0].HolderID)

	assert.Equal(t, []api.HolderID{"big", "small"}, admitted)
}

func TestEnsureIsIdempotent(t *testing.T) {
	m := restraint.NewManager(1, time.Now)

	first, _ := m.Acquire(request("plan-1", 1))
	again, err := m.Acquire(request("plan-1", 1))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, m.Instances("prod"), 1)
}

func TestAccumulateAddsInstances(t *testing.T) {
	m := restraint.NewManager(2, time.Now)

	req := request("plan-1", 1)
	req.Mode = api.AcquireAccumulate
	first, err := m.Acquire(req)
	require.NoError(t, err)
	second, err := m.Acquire(req)
	require.NoError(t, err)
	other, err := m.Acquire(request("plan-2", 1))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, api.RestraintActive, second.State)
	assert.Equal(t, api.RestraintBlocked, other.State)

	promoted := m.Release("prod", "plan-1")
	require.Len(t, promoted, 1)
	assert.Equal(t, other.ID, promoted[0].ID)
	assert.Len(t, m.Instances("prod"), 1)
}

func TestAccumulateBeyondHeldCapacity(t *testing.T) {
	m := restraint.NewManager(2, time.Now)

	req := request("plan-1", 2)
	req.Mode = api.AcquireAccumulate
	first, err := m.Acquire(req)
	require.NoError(t, err)
	assert.Equal(t, api.RestraintActive, first.State)

	req.Permits = 1
	_, err = m.Acquire(req)
	assert.ErrorIs(t, err, restraint.ErrExceedsCapacity)
	assert.Len(t, m.Instances("prod"), 1)

	blocker, err := m.Acquire(request("plan-2", 2))
	require.NoError(t, err)
	assert.Equal(t, api.RestraintBlocked, blocker.State)

	req.HolderID = "plan-2"
	_, err = m.Acquire(req)
	assert.ErrorIs(t, err, restraint.ErrExceedsCapacity)
}

func TestReleaseUnknown(t *testing.T) {
	m := restraint.NewManager(1, time.Now)
	assert.Nil(t, m.Release("prod", "nobody"))
	assert.Nil(t, m.Release("missing", "nobody"))

	_, _ = m.Acquire(request("a", 1))
	assert.Nil(t, m.Release("prod", "nobody"))
	assert.Equal(t, 1, m.ActivePermits("prod"))
}

func TestReleaseBlockedHolder(t *testing.T) {
	m := restraint.NewManager(1, time.Now)
	_, _ = m.Acquire(request("a", 1))
	_, _ = m.Acquire(request("b", 1))
	_, _ = m.Acquire(request("c", 1))

	assert.Empty(t, m.Release("prod", "b"))
	promoted := m.Release("prod", "a")
	require.Len(t, promoted, 1)
	assert.Equal(t, api.HolderID("c"), promoted[0].HolderID)
}

func TestReleaseHolderAcrossUnits(t *testing.T) {
	m := restraint.NewManager(1, time.Now)
	for _, u := range []api.ResourceUnit{"db", "prod"} {
		_, _ = m.Acquire(restraint.Request{Unit: u, HolderID: "a", Permits: 1})
		_, _ = m.Acquire(restraint.Request{Unit: u, HolderID: "b", Permits: 1})
	}

	promoted := m.ReleaseHolder("a")
	require.Len(t, promoted, 2)
	assert.Equal(t, api.ResourceUnit("db"), promoted[0].Unit)
	assert.Equal(t, api.ResourceUnit("prod"), promoted[1].Unit)
}

func TestSetCapacityPromotes(t *testing.T) {
	m := restraint.NewManager(1, time.Now)
	_, _ = m.Acquire(request("a", 1))
	_, _ = m.Acquire(request("b", 1))
	_, _ = m.Acquire(request("c", 1))

	promoted, err := m.SetCapacity("prod", 3)
	require.NoError(t, err)
	assert.Len(t, promoted, 2)
	assert.Equal(t, 3, m.Capacity("prod"))

	_, err = m.SetCapacity("prod", -1)
	assert.ErrorIs(t, err, restraint.ErrInvalidCapacity)

	promoted, _ = m.SetCapacity("prod", 1)
	assert.Empty(t, promoted)
	assert.Equal(t, 3, m.ActivePermits("prod"))
}

func TestRestorePreservesOrder(t *testing.T) {
	src := restraint.NewManager(1, time.Now)
	a, _ := src.Acquire(request("a", 1))
	b, _ := src.Acquire(request("b", 1))
	c, _ := src.Acquire(request("c", 1))

	m := restraint.NewManager(1, time.Now)
	for _, inst := range []*api.RestraintInstance{a, b, c} {
		m.Restore(inst)
	}
	m.Restore(b)
	assert.Empty(t, m.Promote())

	insts := m.Instances("prod")
	require.Len(t, insts, 3)
	assert.Equal(t, api.RestraintActive, insts[0].State)

	d, _ := m.Acquire(request("d", 1))
	assert.Greater(t, d.Sequence, c.Sequence)

	promoted := m.Release("prod", "a")
	require.Len(t, promoted, 1)
	assert.Equal(t, api.HolderID("b"), promoted[0].HolderID)
}

func TestUnits(t *testing.T) {
	m := restraint.NewManager(2, time.Now)
	_, _ = m.Acquire(restraint.Request{Unit: "b", HolderID: "x", Permits: 2})
	_, _ = m.Acquire(restraint.Request{Unit: "a", HolderID: "x", Permits: 1})

	units := m.Units()
	require.Len(t, units, 2)
	assert.Equal(t, api.ResourceUnit("a"), units[0].Unit)
	assert.Equal(t, 1, units[0].Active)
	assert.Equal(t, 2, units[1].Active)
	assert.Len(t, units[1].Instances, 1)
}

func TestCapacityInvariantUnderContention(t *testing.T) {
	const (
		capacity = 3
		holders  = 50
	)
	m := restraint.NewManager(capacity, time.Now)

	var mu sync.Mutex
	violations := 0
	check := func() {
		if m.ActivePermits("prod") > capacity {
			mu.Lock()
			violations++
			mu.Unlock()
		}
	}
	m.OnAdmit(func(*api.RestraintInstance) { check() })

	var wg sync.WaitGroup
	for i := range holders {
		wg.Go(func() {
			holder := fmt.Sprintf("h-%d", i)
			_, err := m.Acquire(request(holder, 1+i%capacity))
			assert.NoError(t, err)
			check()
			m.Release("prod", api.HolderID(holder))
			check()
		})
	}
	wg.Wait()

	assert.Zero(t, violations)
	assert.Empty(t, m.Instances("prod"))
}
