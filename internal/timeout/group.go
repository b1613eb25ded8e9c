package timeout

import (
	"time"

	"github.com/kode4food/conductor/pkg/api"
)

// Group tracks every timeout dimension declared for one node execution
type Group struct {
	tracker *Tracker
	handles []Handle
}

// NewGroup starts tracking the provided timeout specs
func (t *Tracker) NewGroup(specs []*api.TimeoutSpec) *Group {
	g := &Group{tracker: t}
	for _, s := range specs {
		g.handles = append(g.handles, t.Start(s.Dimension, s.Duration()))
	}
	return g
}

// RestoreGroup resumes tracking persisted timeouts
func (t *Tracker) RestoreGroup(states []*api.TimeoutState) *Group {
	g := &Group{tracker: t}
	for _, st := range states {
		g.handles = append(g.handles, t.Restore(st))
	}
	return g
}

// Add starts tracking one more timeout in the group
func (g *Group) Add(spec *api.TimeoutSpec) {
	g.handles = append(g.handles,
		g.tracker.Start(spec.Dimension, spec.Duration()),
	)
}

// IsEmpty reports whether the group tracks no timeouts
func (g *Group) IsEmpty() bool {
	return g == nil || len(g.handles) == 0
}

// Pause freezes every timeout in the group
func (g *Group) Pause() {
	if g == nil {
		return
	}
	for _, h := range g.handles {
		_ = g.tracker.Pause(h)
	}
}

// Resume restarts every timeout in the group
func (g *Group) Resume() {
	if g == nil {
		return
	}
	for _, h := range g.handles {
		_ = g.tracker.Resume(h)
	}
}

// Stop releases every timeout in the group
func (g *Group) Stop() {
	if g == nil {
		return
	}
	for _, h := range g.handles {
		g.tracker.Stop(h)
	}
	g.handles = nil
}

// NextExpiry returns the earliest expiry among ticking timeouts and the
// dimension that reaches it
func (g *Group) NextExpiry() (time.Time, api.TimeoutDimension, bool) {
	var at time.Time
	var dim api.TimeoutDimension
	if g == nil {
		return at, dim, false
	}
	for _, h := range g.handles {
		exp, ok := g.tracker.ExpiryTime(h)
		if !ok {
			continue
		}
		if at.IsZero() || exp.Before(at) {
			at = exp
			dim, _ = g.tracker.Dimension(h)
		}
	}
	return at, dim, !at.IsZero()
}

// Expired returns the first dimension whose timeout has elapsed
func (g *Group) Expired() (api.TimeoutDimension, bool) {
	if g == nil {
		return "", false
	}
	for _, h := range g.handles {
		if st, err := g.tracker.State(h); err == nil &&
			st == api.TrackerExpired {
			dim, _ := g.tracker.Dimension(h)
			return dim, true
		}
	}
	return "", false
}

// Snapshot returns the persisted form of every timeout in the group
func (g *Group) Snapshot() []*api.TimeoutState {
	if g == nil {
		return nil
	}
	res := make([]*api.TimeoutState, 0, len(g.handles))
	for _, h := range g.handles {
		if st, err := g.tracker.Snapshot(h); err == nil {
			res = append(res, st)
		}
	}
	return res
}

// Drop stops and forgets the group's timeouts of one dimension
func (g *Group) Drop(dim api.TimeoutDimension) {
	if g == nil {
		return
	}
	kept := g.handles[:0]
	for _, h := range g.handles {
		if d, _ := g.tracker.Dimension(h); d == dim {
			g.tracker.Stop(h)
			continue
		}
		kept = append(kept, h)
	}
	g.handles = kept
}
