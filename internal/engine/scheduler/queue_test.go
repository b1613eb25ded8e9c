package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/conductor/internal/engine/scheduler"
)

var base = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func noop() error { return nil }

func put(q *scheduler.Queue, at time.Duration, path ...string) {
	q.Put(&scheduler.Task{Func: noop, At: base.Add(at), Path: path})
}

func takePaths(q *scheduler.Queue) [][]string {
	var res [][]string
	for t := q.Take(); t != nil; t = q.Take() {
		res = append(res, t.Path)
	}
	return res
}

func TestQueueOrdersByTime(t *testing.T) {
	q := scheduler.NewQueue()
	put(q, 3*time.Second, "c")
	put(q, time.Second, "a")
	put(q, 2*time.Second, "b")

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []string{"a"}, q.Next().Path)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, takePaths(q))
	assert.Nil(t, q.Next())
}

func TestQueueBreaksTiesInInsertionOrder(t *testing.T) {
	q := scheduler.NewQueue()
	put(q, 0, "first")
	put(q, 0, "second")
	put(q, 0, "third")

	assert.Equal(t,
		[][]string{{"first"}, {"second"}, {"third"}}, takePaths(q),
	)
}

func TestQueueReplacesKeyedTask(t *testing.T) {
	q := scheduler.NewQueue()
	put(q, 3*time.Second, "node", "n-1", "timeout")
	put(q, 2*time.Second, "other")
	put(q, time.Second, "node", "n-1", "timeout")

	assert.Equal(t, 2, q.Len())
	next := q.Next()
	assert.Equal(t, []string{"node", "n-1", "timeout"}, next.Path)
	assert.Equal(t, base.Add(time.Second), next.At)
}

func TestQueueKeepsUnkeyedTasks(t *testing.T) {
	q := scheduler.NewQueue()
	put(q, time.Second)
	put(q, time.Second)

	assert.Equal(t, 2, q.Len())
	assert.False(t, q.Remove(nil))
	assert.Equal(t, 0, q.RemovePrefix(nil))
	assert.Equal(t, 2, q.Len())
}

func TestQueueIgnoresIncompleteTasks(t *testing.T) {
	q := scheduler.NewQueue()
	q.Put(nil)
	q.Put(&scheduler.Task{At: base, Path: []string{"no-func"}})
	q.Put(&scheduler.Task{Func: noop, Path: []string{"no-time"}})

	assert.Equal(t, 0, q.Len())
}

func TestQueueRemove(t *testing.T) {
	q := scheduler.NewQueue()
	put(q, time.Second, "a")
	put(q, 2*time.Second, "b")

	assert.True(t, q.Remove([]string{"a"}))
	assert.False(t, q.Remove([]string{"a"}))
	assert.Equal(t, [][]string{{"b"}}, takePaths(q))
}

func TestQueueRemovePrefix(t *testing.T) {
	q := scheduler.NewQueue()
	put(q, time.Second, "plan", "p-1", "n-1", "retry")
	put(q, time.Second, "plan", "p-1", "n-2", "timeout")
	put(q, time.Second, "plan", "p-2", "n-1", "retry")
	put(q, time.Second, "orphan", "cb-1")

	assert.Equal(t, 2, q.RemovePrefix([]string{"plan", "p-1"}))
	assert.Equal(t, 0, q.RemovePrefix([]string{"plan", "p-9"}))
	assert.Equal(t, [][]string{
		{"plan", "p-2", "n-1", "retry"},
		{"orphan", "cb-1"},
	}, takePaths(q))
}

func TestQueueReuseAfterTake(t *testing.T) {
	q := scheduler.NewQueue()
	put(q, time.Second, "a")
	assert.NotNil(t, q.Take())

	put(q, 2*time.Second, "a")
	assert.Equal(t, 1, q.Len())
	assert.True(t, q.Remove([]string{"a"}))
}
