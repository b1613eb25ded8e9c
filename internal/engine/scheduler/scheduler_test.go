package scheduler_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/conductor/internal/engine/scheduler"
)

// manualTimer reports every Reset and Stop, and fires only when told to
type manualTimer struct {
	ch     chan time.Time
	resets chan time.Duration
	stops  chan struct{}
}

const waitTimeout = time.Second

func newManualTimer(time.Duration) *manualTimer {
	return &manualTimer{
		ch:     make(chan time.Time, 1),
		resets: make(chan time.Duration, 32),
		stops:  make(chan struct{}, 32),
	}
}

func (m *manualTimer) Channel() <-chan time.Time {
	return m.ch
}

func (m *manualTimer) Reset(d time.Duration) bool {
	m.resets <- d
	return true
}

func (m *manualTimer) Stop() bool {
	m.stops <- struct{}{}
	return true
}

func (m *manualTimer) fire() {
	m.ch <- base
}

func (m *manualTimer) armed(t *testing.T) time.Duration {
	t.Helper()
	select {
	case d := <-m.resets:
		return d
	case <-time.After(waitTimeout):
		t.Fatal("timer was not armed")
		return 0
	}
}

func (m *manualTimer) disarmed(t *testing.T) {
	t.Helper()
	select {
	case <-m.stops:
	case <-time.After(waitTimeout):
		t.Fatal("timer was not stopped")
	}
}

func withScheduler(
	t *testing.T, fn func(*scheduler.Scheduler, *manualTimer),
) {
	t.Helper()
	timers := make(chan *manualTimer, 1)
	sched := scheduler.New(
		func() time.Time { return base },
		func(d time.Duration) scheduler.Timer {
			m := newManualTimer(d)
			timers <- m
			return m
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	timer := <-timers
	timer.disarmed(t)
	fn(sched, timer)
}

func signal(ch chan string, name string) scheduler.TaskFunc {
	return func() error {
		ch <- name
		return nil
	}
}

func expectRun(t *testing.T, ch chan string, name string) {
	t.Helper()
	select {
	case got := <-ch:
		assert.Equal(t, name, got)
	case <-time.After(waitTimeout):
		t.Fatalf("task %s did not run", name)
	}
}

func expectIdle(t *testing.T, ch chan string) {
	t.Helper()
	select {
	case got := <-ch:
		t.Fatalf("unexpected task %s ran", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedulerRunsTask(t *testing.T) {
	withScheduler(t, func(sched *scheduler.Scheduler, timer *manualTimer) {
		ran := make(chan string, 4)
		sched.Schedule(t.Context(), []string{"plan", "p-1", "timeout"},
			base.Add(40*time.Millisecond), signal(ran, "timeout"),
		)
		assert.Equal(t, 40*time.Millisecond, timer.armed(t))

		timer.fire()
		expectRun(t, ran, "timeout")
		timer.disarmed(t)
	})
}

func TestSchedulerScheduleAfter(t *testing.T) {
	withScheduler(t, func(sched *scheduler.Scheduler, timer *manualTimer) {
		assert.Equal(t, base, sched.Now())
		ran := make(chan string, 1)
		sched.ScheduleAfter(t.Context(), []string{"retry"},
			25*time.Millisecond, signal(ran, "retry"),
		)
		assert.Equal(t, 25*time.Millisecond, timer.armed(t))

		timer.fire()
		expectRun(t, ran, "retry")
	})
}

func TestSchedulerReplacesKeyedTask(t *testing.T) {
	withScheduler(t, func(sched *scheduler.Scheduler, timer *manualTimer) {
		ran := make(chan string, 4)
		path := []string{"node", "n-1", "retry"}
		sched.Schedule(t.Context(), path,
			base.Add(300*time.Millisecond), signal(ran, "first"),
		)
		assert.Equal(t, 300*time.Millisecond, timer.armed(t))

		sched.Schedule(t.Context(), path,
			base.Add(40*time.Millisecond), signal(ran, "second"),
		)
		assert.Equal(t, 40*time.Millisecond, timer.armed(t))

		timer.fire()
		expectRun(t, ran, "second")
		expectIdle(t, ran)
	})
}

func TestSchedulerCancel(t *testing.T) {
	withScheduler(t, func(sched *scheduler.Scheduler, timer *manualTimer) {
		ran := make(chan string, 1)
		path := []string{"node", "n-1", "timeout"}
		sched.Schedule(t.Context(), path, base.Add(time.Second),
			signal(ran, "timeout"),
		)
		timer.armed(t)

		sched.Cancel(t.Context(), path)
		timer.disarmed(t)
		expectIdle(t, ran)
	})
}

func TestSchedulerCancelPrefix(t *testing.T) {
	withScheduler(t, func(sched *scheduler.Scheduler, timer *manualTimer) {
		ran := make(chan string, 4)
		at := base.Add(100 * time.Millisecond)
		sched.Schedule(t.Context(), []string{"plan", "p-1", "a"}, at,
			signal(ran, "a"),
		)
		sched.Schedule(t.Context(), []string{"plan", "p-1", "b"}, at,
			signal(ran, "b"),
		)
		sched.Schedule(t.Context(), []string{"plan", "p-2", "c"}, at,
			signal(ran, "c"),
		)
		for range 3 {
			timer.armed(t)
		}

		sched.CancelPrefix(t.Context(), []string{"plan", "p-1"})
		assert.Equal(t, 100*time.Millisecond, timer.armed(t))

		timer.fire()
		expectRun(t, ran, "c")
		expectIdle(t, ran)
	})
}

func TestSchedulerRunsEveryDueTask(t *testing.T) {
	withScheduler(t, func(sched *scheduler.Scheduler, timer *manualTimer) {
		ran := make(chan string, 4)
		sched.Schedule(t.Context(), []string{"a"}, base, signal(ran, "a"))
		sched.Schedule(t.Context(), []string{"b"}, base, signal(ran, "b"))
		sched.Schedule(t.Context(), []string{"later"},
			base.Add(time.Minute), signal(ran, "later"),
		)
		for range 3 {
			timer.armed(t)
		}

		timer.fire()
		expectRun(t, ran, "a")
		expectRun(t, ran, "b")
		assert.Equal(t, time.Minute, timer.armed(t))
		expectIdle(t, ran)
	})
}

func TestSchedulerSurvivesFailingTasks(t *testing.T) {
	withScheduler(t, func(sched *scheduler.Scheduler, timer *manualTimer) {
		ran := make(chan string, 1)
		sched.Schedule(t.Context(), []string{"err"}, base,
			func() error { return errors.New("task failed") },
		)
		timer.armed(t)
		timer.fire()
		timer.disarmed(t)

		sched.Schedule(t.Context(), []string{"panic"}, base,
			func() error { panic("task panicked") },
		)
		timer.armed(t)
		timer.fire()
		timer.disarmed(t)

		sched.Schedule(t.Context(), []string{"ok"}, base, signal(ran, "ok"))
		timer.armed(t)
		timer.fire()
		expectRun(t, ran, "ok")
	})
}
