package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kode4food/conductor/internal/engine/scheduler"
)

// Start recovers persisted plan executions and begins processing
// callbacks and scheduled work
func (e *Engine) Start() error {
	slog.Info("Engine starting")

	e.eventQueue.Start()
	go e.scheduler.Run(e.ctx)

	if err := e.RecoverPlans(); err != nil {
		e.eventQueue.Cancel()
		return fmt.Errorf("%w: %w", ErrRecoverPlans, err)
	}

	return nil
}

// ScheduleTask schedules a function to run at the given time
func (e *Engine) ScheduleTask(
	path []string, at time.Time, fn scheduler.TaskFunc,
) {
	e.scheduler.Schedule(e.ctx, path, at, fn)
}

// CancelTask removes a scheduled task for the exact path
func (e *Engine) CancelTask(path []string) {
	e.scheduler.Cancel(e.ctx, path)
}

// CancelPrefixedTasks removes all scheduled tasks under the given prefix
func (e *Engine) CancelPrefixedTasks(prefix []string) {
	e.scheduler.CancelPrefix(e.ctx, prefix)
}

// Now returns the current wall time from Engine's configured clock
func (e *Engine) Now() time.Time {
	return e.clock()
}

// async runs fn on a tracked goroutine unless the engine is stopping
func (e *Engine) async(fn func()) bool {
	e.stopMu.RLock()
	defer e.stopMu.RUnlock()
	if e.stopped {
		return false
	}
	e.wg.Go(fn)
	return true
}
