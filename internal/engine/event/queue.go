package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

type (
	// Queue serializes inbound callbacks onto a single worker. Whatever
	// has accumulated when the worker wakes is handed to the Handler as
	// one batch, up to the configured batch size
	Queue struct {
		handler   Handler
		batchSize int
		prod      topic.Producer[Event]
		cons      topic.Consumer[Event]
		ctx       context.Context
		cancel    context.CancelFunc
		done      chan struct{}
		started   atomic.Bool
		closeOnce sync.Once
	}

	// Handler processes a batch of inbound callbacks in a single execution
	Handler func([]Event) error

	// Kind distinguishes async callbacks from remote task results
	Kind string

	// Event is an inbound callback addressed by correlation id
	Event struct {
		Kind          Kind
		CorrelationID api.CorrelationID
		Data          json.RawMessage
		ReceivedAt    time.Time
	}
)

const (
	KindCallback   Kind = "callback"
	KindTaskResult Kind = "task_result"
)

const (
	deliveryAttempts = 3
	deliveryBackoff  = 100 * time.Millisecond
)

var ErrHandlerPanicked = errors.New("event handler panicked")

// NewQueue creates a callback queue delivering up to batchSize events per
// Handler call
func NewQueue(handler Handler, batchSize int) *Queue {
	t := caravan.NewTopic[Event]()
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		handler:   handler,
		batchSize: max(batchSize, 1),
		prod:      t.NewProducer(),
		cons:      t.NewConsumer(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start launches the worker. Calling it more than once has no effect
func (q *Queue) Start() {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	go q.work()
}

// Enqueue hands a callback to the worker
func (q *Queue) Enqueue(kind Kind, id api.CorrelationID, data json.RawMessage) {
	q.prod.Send() <- Event{
		Kind:          kind,
		CorrelationID: id,
		Data:          data,
		ReceivedAt:    time.Now(),
	}
}

// Flush stops the worker, then delivers every callback still queued
func (q *Queue) Flush() {
	q.shutdown(true)
}

// Cancel stops the worker and discards anything still queued
func (q *Queue) Cancel() {
	q.shutdown(false)
}

func (q *Queue) shutdown(drain bool) {
	q.cancel()
	if q.started.Load() {
		<-q.done
	}
	q.closeOnce.Do(func() {
		if drain {
			for ev, ok := q.poll(); ok; ev, ok = q.poll() {
				q.deliver(q.fill(ev))
			}
		}
		q.prod.Close()
		q.cons.Close()
	})
}

func (q *Queue) work() {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			return
		case ev, ok := <-q.cons.Receive():
			if !ok {
				return
			}
			q.deliver(q.fill(ev))
		}
	}
}

// poll returns a queued event without waiting for one
func (q *Queue) poll() (Event, bool) {
	select {
	case ev, ok := <-q.cons.Receive():
		return ev, ok
	default:
		return Event{}, false
	}
}

func (q *Queue) fill(first Event) []Event {
	batch := make([]Event, 1, q.batchSize)
	batch[0] = first
	for len(batch) < q.batchSize {
		ev, ok := q.poll()
		if !ok {
			break
		}
		batch = append(batch, ev)
	}
	return batch
}

func (q *Queue) deliver(batch []Event) {
	delay := deliveryBackoff
	for attempt := 1; ; attempt++ {
		err := q.call(batch)
		if err == nil {
			return
		}
		slog.Error("Callback batch failed",
			slog.Int("batch_size", len(batch)),
			slog.Int("attempt", attempt),
			log.Error(err))
		if attempt == deliveryAttempts {
			break
		}
		time.Sleep(delay)
		delay *= 2
	}
	slog.Error("Callback batch dropped",
		slog.Int("batch_size", len(batch)),
		log.CorrelationID(batch[0].CorrelationID))
}

func (q *Queue) call(batch []Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanicked, r)
		}
	}()
	return q.handler(batch)
}
