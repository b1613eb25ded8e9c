package api

// Status is the lifecycle state of a node or plan execution
type Status string

const (
	StatusQueued              Status = "QUEUED"
	StatusRunning             Status = "RUNNING"
	StatusAsyncWaiting        Status = "ASYNC_WAITING"
	StatusTaskWaiting         Status = "TASK_WAITING"
	StatusChildWaiting        Status = "CHILD_WAITING"
	StatusPaused              Status = "PAUSED"
	StatusInterventionWaiting Status = "INTERVENTION_WAITING"
	StatusDiscontinuing       Status = "DISCONTINUING"
	StatusSucceeded           Status = "SUCCEEDED"
	StatusFailed              Status = "FAILED"
	StatusErrored             Status = "ERRORED"
	StatusAborted             Status = "ABORTED"
	StatusExpired             Status = "EXPIRED"
	StatusSkipped             Status = "SKIPPED"
	StatusIgnoreFailed        Status = "IGNORE_FAILED"
)

// IsTerminal reports whether no further mutation is permitted
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusErrored, StatusAborted,
		StatusExpired, StatusSkipped, StatusIgnoreFailed:
		return true
	default:
		return false
	}
}

// IsPositive reports whether a terminal status lets graph traversal
// continue to the next node
func (s Status) IsPositive() bool {
	switch s {
	case StatusSucceeded, StatusSkipped, StatusIgnoreFailed:
		return true
	default:
		return false
	}
}

// IsWaiting reports whether the status is blocked on a callback or on
// child completion
func (s Status) IsWaiting() bool {
	switch s {
	case StatusAsyncWaiting, StatusTaskWaiting, StatusChildWaiting:
		return true
	default:
		return false
	}
}

// IsForced reports whether the status results from forced termination
func (s Status) IsForced() bool {
	return s == StatusAborted || s == StatusExpired
}

// WorstOf aggregates child statuses for a parent wait. Any FAILED or
// ERRORED child fails the parent; otherwise forced child terminations carry
// upward, and all-positive children succeed
func WorstOf(statuses ...Status) Status {
	res := StatusSucceeded
	for _, s := range statuses {
		switch s {
		case StatusFailed, StatusErrored:
			return StatusFailed
		case StatusAborted:
			res = StatusAborted
		case StatusExpired:
			if res != StatusAborted {
				res = StatusExpired
			}
		}
	}
	return res
}
