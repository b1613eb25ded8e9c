package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kode4food/conductor/pkg/log"
)

type (
	// Scheduler runs delayed tasks keyed by path on a single goroutine.
	// Scheduling under a pending path replaces that task, and whole
	// subtrees of paths can be cancelled at once
	Scheduler struct {
		now       Clock
		makeTimer TimerConstructor
		ops       chan queueOp
	}

	// TaskFunc is called when its run time arrives. It runs on the
	// scheduler goroutine and must not block
	TaskFunc func() error

	queueOp func(*Queue)
)

const opBufferSize = 128

// New creates a scheduler using the provided clock and timer constructor
func New(now Clock, makeTimer TimerConstructor) *Scheduler {
	return &Scheduler{
		now:       now,
		makeTimer: makeTimer,
		ops:       make(chan queueOp, opBufferSize),
	}
}

// Now returns the scheduler's current time
func (s *Scheduler) Now() time.Time {
	return s.now()
}

// Schedule enqueues a task to run at the requested time
func (s *Scheduler) Schedule(
	ctx context.Context, path []string, at time.Time, fn TaskFunc,
) {
	t := &Task{Func: fn, At: at, Path: path}
	s.submit(ctx, func(q *Queue) { q.Put(t) })
}

// ScheduleAfter enqueues a task to run once the delay has elapsed
func (s *Scheduler) ScheduleAfter(
	ctx context.Context, path []string, delay time.Duration, fn TaskFunc,
) {
	s.Schedule(ctx, path, s.now().Add(delay), fn)
}

// Cancel removes the task registered for the exact path
func (s *Scheduler) Cancel(ctx context.Context, path []string) {
	s.submit(ctx, func(q *Queue) { q.Remove(path) })
}

// CancelPrefix removes all tasks under the provided path prefix
func (s *Scheduler) CancelPrefix(ctx context.Context, prefix []string) {
	s.submit(ctx, func(q *Queue) { q.RemovePrefix(prefix) })
}

// Run processes scheduler requests until the context is cancelled. Every
// task that is due when the timer fires runs before the timer is re-armed
func (s *Scheduler) Run(ctx context.Context) {
	q := NewQueue()
	timer := s.makeTimer(0)
	defer timer.Stop()

	var due <-chan time.Time
	arm := func() {
		next := q.Next()
		if next == nil {
			timer.Stop()
			due = nil
			return
		}
		timer.Reset(max(next.At.Sub(s.now()), 0))
		due = timer.Channel()
	}
	arm()

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.ops:
			op(q)
			arm()
		case <-due:
			s.runDue(q)
			arm()
		}
	}
}

// runDue runs the head of the queue, which the timer reported as due, and
// any task behind it whose time has also passed
func (s *Scheduler) runDue(q *Queue) {
	if t := q.Take(); t != nil {
		runTask(t)
	}
	now := s.now()
	for next := q.Next(); next != nil && !next.At.After(now); next = q.Next() {
		runTask(q.Take())
	}
}

func (s *Scheduler) submit(ctx context.Context, op queueOp) {
	select {
	case s.ops <- op:
	case <-ctx.Done():
	}
}

func runTask(t *Task) {
	path := strings.Join(t.Path, "/")
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduled task panicked",
				slog.String("path", path),
				log.ErrorString(fmt.Sprint(r)))
		}
	}()
	if err := t.Func(); err != nil {
		slog.Error("Scheduled task failed",
			slog.String("path", path),
			log.Error(err))
	}
}
