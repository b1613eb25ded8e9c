package engine

import (
	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/util"
)

// StateTransitions maps states to their set of valid next states
//
// Generic state transition tables are used to validate plan and node
// status changes, and to decide which interrupts a node accepts
type StateTransitions[T comparable] map[T]util.Set[T]

var (
	terminal = []api.Status{
		api.StatusSucceeded, api.StatusFailed, api.StatusErrored,
		api.StatusAborted, api.StatusExpired, api.StatusSkipped,
		api.StatusIgnoreFailed,
	}

	nodeTransitions = StateTransitions[api.Status]{
		api.StatusQueued: withTerminal(
			api.StatusRunning,
			api.StatusPaused,
			api.StatusDiscontinuing,
		),
		api.StatusRunning: withTerminal(
			api.StatusAsyncWaiting,
			api.StatusTaskWaiting,
			api.StatusChildWaiting,
			api.StatusPaused,
			api.StatusInterventionWaiting,
			api.StatusDiscontinuing,
		),
		api.StatusAsyncWaiting: withTerminal(
			api.StatusRunning,
			api.StatusPaused,
			api.StatusInterventionWaiting,
			api.StatusDiscontinuing,
		),
		api.StatusTaskWaiting: withTerminal(
			api.StatusRunning,
			api.StatusPaused,
			api.StatusInterventionWaiting,
			api.StatusDiscontinuing,
		),
		api.StatusChildWaiting: withTerminal(
			api.StatusRunning,
			api.StatusPaused,
			api.StatusInterventionWaiting,
			api.StatusDiscontinuing,
		),
		api.StatusPaused: withTerminal(
			api.StatusQueued,
			api.StatusRunning,
			api.StatusAsyncWaiting,
			api.StatusTaskWaiting,
			api.StatusChildWaiting,
			api.StatusDiscontinuing,
		),
		api.StatusInterventionWaiting: withTerminal(
			api.StatusDiscontinuing,
		),
		api.StatusDiscontinuing: util.SetOf(
			api.StatusAborted,
			api.StatusExpired,
		),
		api.StatusSucceeded:    {},
		api.StatusFailed:       {},
		api.StatusErrored:      {},
		api.StatusAborted:      {},
		api.StatusExpired:      {},
		api.StatusSkipped:      {},
		api.StatusIgnoreFailed: {},
	}

	planTransitions = StateTransitions[api.Status]{
		api.StatusRunning: withTerminal(
			api.StatusPaused,
			api.StatusDiscontinuing,
		),
		api.StatusPaused: withTerminal(
			api.StatusRunning,
			api.StatusDiscontinuing,
		),
		api.StatusDiscontinuing: withTerminal(),
		api.StatusSucceeded:     {},
		api.StatusFailed:        {},
		api.StatusErrored:       {},
		api.StatusAborted:       {},
		api.StatusExpired:       {},
	}

	// interruptStatuses lists the node statuses each node-level interrupt
	// may be applied in
	interruptStatuses = map[api.InterruptType]util.Set[api.Status]{
		api.InterruptAbort: util.SetOf(
			api.StatusQueued, api.StatusRunning, api.StatusAsyncWaiting,
			api.StatusTaskWaiting, api.StatusChildWaiting,
			api.StatusPaused, api.StatusInterventionWaiting,
			api.StatusDiscontinuing,
		),
		api.InterruptPause: util.SetOf(
			api.StatusQueued, api.StatusRunning, api.StatusAsyncWaiting,
			api.StatusTaskWaiting, api.StatusChildWaiting,
		),
		api.InterruptResume: util.SetOf(
			api.StatusPaused,
		),
		api.InterruptRetry: util.SetOf(
			api.StatusInterventionWaiting,
		),
		api.InterruptMarkSuccess: markable(),
		api.InterruptMarkFailed:  markable(),
		api.InterruptMarkExpired: markable(),
		api.InterruptCustom: util.SetOf(
			api.StatusQueued, api.StatusRunning, api.StatusAsyncWaiting,
			api.StatusTaskWaiting, api.StatusChildWaiting,
			api.StatusPaused, api.StatusInterventionWaiting,
			api.StatusDiscontinuing,
		),
	}
)

// CanTransition returns whether transition from one state to another is valid
func (t StateTransitions[T]) CanTransition(from, to T) bool {
	allowed, ok := t[from]
	if !ok {
		return false
	}
	return allowed.Contains(to)
}

// IsTerminal returns true if the state has no valid transitions
func (t StateTransitions[T]) IsTerminal(state T) bool {
	allowed, ok := t[state]
	return ok && allowed.IsEmpty()
}

// interruptAllowed reports whether a node in the given status accepts the
// node-level interrupt
func interruptAllowed(typ api.InterruptType, status api.Status) bool {
	allowed, ok := interruptStatuses[typ.NodeType()]
	return ok && allowed.Contains(status)
}

func withTerminal(states ...api.Status) util.Set[api.Status] {
	res := util.SetOf(states...)
	for _, s := range terminal {
		res.Add(s)
	}
	return res
}

func markable() util.Set[api.Status] {
	return util.SetOf(
		api.StatusQueued, api.StatusRunning, api.StatusAsyncWaiting,
		api.StatusTaskWaiting, api.StatusChildWaiting, api.StatusPaused,
		api.StatusInterventionWaiting,
	)
}
