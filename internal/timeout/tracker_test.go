package timeout_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/conductor/internal/timeout"
	"github.com/kode4food/conductor/pkg/api"
)

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTrackerExpiry(t *testing.T) {
	clk := newFakeClock()
	tr := timeout.NewTracker(clk.Now)
	start := clk.Now()

	h := tr.Start(api.DimensionStep, 10*time.Second)
	st, err := tr.State(h)
	require.NoError(t, err)
	assert.Equal(t, api.TrackerTicking, st)

	exp, ok := tr.ExpiryTime(h)
	assert.True(t, ok)
	assert.Equal(t, start.Add(10*time.Second), exp)

	clk.Advance(10 * time.Second)
	st, _ = tr.State(h)
	assert.Equal(t, api.TrackerExpired, st)
}

func TestTrackerPauseFreezesElapsed(t *testing.T) {
	clk := newFakeClock()
	tr := timeout.NewTracker(clk.Now)

	h := tr.Start(api.DimensionAbsolute, 10*time.Second)
	clk.Advance(4 * time.Second)
	assert.NoError(t, tr.Pause(h))
	assert.NoError(t, tr.Pause(h))

	clk.Advance(time.Hour)
	st, _ := tr.State(h)
	assert.Equal(t, api.TrackerPaused, st)
	el, _ := tr.Elapsed(h)
	assert.Equal(t, 4*time.Second, el)
	_, ok := tr.ExpiryTime(h)
	assert.False(t, ok)

	assert.NoError(t, tr.Resume(h))
	exp, ok := tr.ExpiryTime(h)
	assert.True(t, ok)
	assert.Equal(t, clk.Now().Add(6*time.Second), exp)

	clk.Advance(6 * time.Second)
	st, _ = tr.State(h)
	assert.Equal(t, api.TrackerExpired, st)
}

func TestTrackerSnapshotRestore(t *testing.T) {
	clk := newFakeClock()
	tr := timeout.NewTracker(clk.Now)

	h := tr.Start(api.DimensionStep, time.Minute)
	clk.Advance(20 * time.Second)
	assert.NoError(t, tr.Pause(h))

	snap, err := tr.Snapshot(h)
	require.NoError(t, err)
	assert.Equal(t, api.TrackerPaused, snap.State)
	assert.Equal(t, 20*time.Second, snap.Elapsed)

	other := timeout.NewTracker(clk.Now)
	r := other.Restore(snap)
	assert.NoError(t, other.Resume(r))
	clk.Advance(40 * time.Second)
	st, _ := other.State(r)
	assert.Equal(t, api.TrackerExpired, st)
}

func TestTrackerUnknownHandle(t *testing.T) {
	tr := timeout.NewTracker(time.Now)
	h := tr.Start(api.DimensionStep, time.Second)
	tr.Stop(h)

	assert.ErrorIs(t, tr.Pause(h), timeout.ErrUnknownHandle)
	assert.ErrorIs(t, tr.Resume(h), timeout.ErrUnknownHandle)
	_, err := tr.State(h)
	assert.ErrorIs(t, err, timeout.ErrUnknownHandle)
	_, ok := tr.ExpiryTime(h)
	assert.False(t, ok)
}

func TestGroup(t *testing.T) {
	clk := newFakeClock()
	tr := timeout.NewTracker(clk.Now)

	g := tr.NewGroup([]*api.TimeoutSpec{
		{Dimension: api.DimensionAbsolute, Millis: 60_000},
		{Dimension: api.DimensionStep, Millis: 5_000},
	})
	assert.False(t, g.IsEmpty())

	at, dim, ok := g.NextExpiry()
	assert.True(t, ok)
	assert.Equal(t, api.DimensionStep, dim)
	assert.Equal(t, clk.Now().Add(5*time.Second), at)

	g.Pause()
	clk.Advance(time.Minute)
	_, ok = g.Expired()
	assert.False(t, ok)
	_, _, ok = g.NextExpiry()
	assert.False(t, ok)

	g.Resume()
	clk.Advance(5 * time.Second)
	dim, ok = g.Expired()
	assert.True(t, ok)
	assert.Equal(t, api.DimensionStep, dim)

	snaps := g.Snapshot()
	assert.Len(t, snaps, 2)
	restored := tr.RestoreGroup(snaps)
	dim, ok = restored.Expired()
	assert.True(t, ok)
	assert.Equal(t, api.DimensionStep, dim)

	g.Add(&api.TimeoutSpec{Dimension: api.DimensionTask, Millis: 1_000})
	assert.Len(t, g.Snapshot(), 3)

	g.Stop()
	assert.True(t, g.IsEmpty())
	assert.Empty(t, g.Snapshot())

	var none *timeout.Group
	assert.True(t, none.IsEmpty())
	none.Pause()
	none.Stop()
}
