package scheduler

import (
	"container/heap"
	"strings"
	"time"

	"github.com/kode4food/conductor/pkg/util"
)

type (
	// Task is a function due at a point in time. A task with a path is
	// keyed: putting another task under the same path replaces it
	Task struct {
		Func TaskFunc
		At   time.Time
		Path []string
	}

	// Queue orders tasks by due time, breaking ties in insertion order
	Queue struct {
		entries entryHeap
		keyed   map[string]*entry
		tree    *util.PathTree[*entry]
		seq     uint64
	}

	entry struct {
		*Task
		key   string
		seq   uint64
		index int
	}

	entryHeap []*entry
)

// keySep cannot appear in the identifiers used as path segments
const keySep = "\x00"

// NewQueue creates an empty task queue
func NewQueue() *Queue {
	return &Queue{
		keyed: map[string]*entry{},
		tree:  util.NewPathTree[*entry](),
	}
}

// Put adds a task. Tasks with no function or due time are ignored
func (q *Queue) Put(t *Task) {
	if t == nil || t.Func == nil || t.At.IsZero() {
		return
	}
	q.seq++
	if len(t.Path) == 0 {
		heap.Push(&q.entries, &entry{Task: t, seq: q.seq})
		return
	}

	key := strings.Join(t.Path, keySep)
	if e, ok := q.keyed[key]; ok {
		e.Task = t
		e.seq = q.seq
		heap.Fix(&q.entries, e.index)
		return
	}
	e := &entry{Task: t, key: key, seq: q.seq}
	heap.Push(&q.entries, e)
	q.keyed[key] = e
	q.tree.Insert(t.Path, e)
}

// Next returns the earliest task without removing it
func (q *Queue) Next() *Task {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0].Task
}

// Take removes and returns the earliest task
func (q *Queue) Take() *Task {
	if len(q.entries) == 0 {
		return nil
	}
	e := heap.Pop(&q.entries).(*entry)
	q.unindex(e)
	return e.Task
}

// Remove drops the task keyed by the exact path
func (q *Queue) Remove(path []string) bool {
	e, ok := q.keyed[strings.Join(path, keySep)]
	if len(path) == 0 || !ok {
		return false
	}
	heap.Remove(&q.entries, e.index)
	q.unindex(e)
	return true
}

// RemovePrefix drops every keyed task whose path starts with the prefix,
// returning how many were removed
func (q *Queue) RemovePrefix(prefix []string) int {
	if len(prefix) == 0 {
		return 0
	}
	n := 0
	q.tree.DetachWith(prefix, func(e *entry) {
		delete(q.keyed, e.key)
		heap.Remove(&q.entries, e.index)
		n++
	})
	return n
}

// Len returns the number of queued tasks
func (q *Queue) Len() int {
	return len(q.entries)
}

func (q *Queue) unindex(e *entry) {
	if e.key == "" {
		return
	}
	delete(q.keyed, e.key)
	q.tree.Remove(e.Path)
}

func (h entryHeap) Len() int {
	return len(h)
}

func (h entryHeap) Less(i, j int) bool {
	if h[i].At.Equal(h[j].At) {
		return h[i].seq < h[j].seq
	}
	return h[i].At.Before(h[j].At)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	e.index = -1
	return e
}
