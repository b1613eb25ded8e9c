package timeout

import (
	"errors"
	"sync"
	"time"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/util"
)

type (
	// Tracker measures elapsed time against timeouts. Each tracked timeout
	// keeps its start timestamp and the time accumulated before the last
	// pause, so pausing freezes accumulation without losing it
	Tracker struct {
		now     util.Clock
		entries map[Handle]*entry
		next    Handle
		mu      sync.Mutex
	}

	// Handle identifies one tracked timeout
	Handle uint64

	entry struct {
		dimension api.TimeoutDimension
		timeout   time.Duration
		elapsed   time.Duration
		startedAt time.Time
		paused    bool
	}
)

var ErrUnknownHandle = errors.New("unknown timeout handle")

// NewTracker creates a tracker reading time from the provided clock
func NewTracker(now util.Clock) *Tracker {
	return &Tracker{
		now:     now,
		entries: map[Handle]*entry{},
	}
}

// Start begins tracking a timeout for one dimension
func (t *Tracker) Start(
	dimension api.TimeoutDimension, timeout time.Duration,
) Handle {
	return t.add(&entry{
		dimension: dimension,
		timeout:   timeout,
		startedAt: t.now(),
	})
}

// Restore resumes tracking a timeout from its persisted state
func (t *Tracker) Restore(st *api.TimeoutState) Handle {
	e := &entry{
		dimension: st.Dimension,
		timeout:   st.Timeout,
		elapsed:   st.Elapsed,
		startedAt: st.StartedAt,
		paused:    st.State == api.TrackerPaused,
	}
	if e.startedAt.IsZero() {
		e.startedAt = t.now()
	}
	return t.add(e)
}

func (t *Tracker) add(e *entry) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.entries[t.next] = e
	return t.next
}

// Pause freezes elapsed time accumulation
func (t *Tracker) Pause(h Handle) error {
	return t.with(h, func(e *entry, now time.Time) {
		if e.paused {
			return
		}
		e.elapsed += now.Sub(e.startedAt)
		e.paused = true
	})
}

// Resume restarts elapsed time accumulation
func (t *Tracker) Resume(h Handle) error {
	return t.with(h, func(e *entry, now time.Time) {
		if !e.paused {
			return
		}
		e.startedAt = now
		e.paused = false
	})
}

// Stop releases the handle
func (t *Tracker) Stop(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, h)
}

// State reports whether the timeout is ticking, paused, or expired
func (t *Tracker) State(h Handle) (api.TrackerState, error) {
	var res api.TrackerState
	err := t.with(h, func(e *entry, now time.Time) {
		res = e.state(now)
	})
	return res, err
}

// Elapsed returns the time accumulated so far
func (t *Tracker) Elapsed(h Handle) (time.Duration, error) {
	var res time.Duration
	err := t.with(h, func(e *entry, now time.Time) {
		res = e.elapsedAt(now)
	})
	return res, err
}

// ExpiryTime returns when a ticking timeout will expire. Paused timeouts
// have no expiry time
func (t *Tracker) ExpiryTime(h Handle) (time.Time, bool) {
	var res time.Time
	var ok bool
	_ = t.with(h, func(e *entry, _ time.Time) {
		if e.paused {
			return
		}
		res = e.startedAt.Add(e.timeout - e.elapsed)
		ok = true
	})
	return res, ok
}

// Snapshot returns the persisted form of the tracked timeout
func (t *Tracker) Snapshot(h Handle) (*api.TimeoutState, error) {
	var res *api.TimeoutState
	err := t.with(h, func(e *entry, now time.Time) {
		res = &api.TimeoutState{
			Dimension: e.dimension,
			Timeout:   e.timeout,
			Elapsed:   e.elapsed,
			StartedAt: e.startedAt,
			State:     e.state(now),
		}
	})
	return res, err
}

// Dimension returns the dimension a handle tracks
func (t *Tracker) Dimension(h Handle) (api.TimeoutDimension, error) {
	var res api.TimeoutDimension
	err := t.with(h, func(e *entry, _ time.Time) {
		res = e.dimension
	})
	return res, err
}

func (t *Tracker) with(h Handle, fn func(*entry, time.Time)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return ErrUnknownHandle
	}
	fn(e, t.now())
	return nil
}

func (e *entry) elapsedAt(now time.Time) time.Duration {
	if e.paused {
		return e.elapsed
	}
	return e.elapsed + now.Sub(e.startedAt)
}

func (e *entry) state(now time.Time) api.TrackerState {
	switch {
	case e.elapsedAt(now) >= e.timeout:
		return api.TrackerExpired
	case e.paused:
		return api.TrackerPaused
	default:
		return api.TrackerTicking
	}
}
