package engine

import (
	"encoding/json"
	"sync"

	"github.com/kode4food/timebox"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/events"
)

// Subscription streams node status notifications derived from persisted
// events
type Subscription struct {
	consumer EventConsumer
	ch       chan *api.StatusNotification
	filter   api.PlanExecutionID
	done     chan struct{}
	once     sync.Once
}

const notificationBufferSize = 64

// Subscribe starts streaming status notifications. When plan is not empty
// only that plan's nodes are reported
func (e *Engine) Subscribe(plan api.PlanExecutionID) *Subscription {
	s := &Subscription{
		consumer: e.hub.NewConsumer(),
		ch:       make(chan *api.StatusNotification, notificationBufferSize),
		filter:   plan,
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Notifications returns the channel notifications are delivered on. It is
// closed when the subscription ends
func (s *Subscription) Notifications() <-chan *api.StatusNotification {
	return s.ch
}

// Close ends the subscription
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.consumer.Close()
	})
}

func (s *Subscription) run() {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.consumer.Receive():
			if !ok {
				return
			}
			n, ok := StatusNotificationFromEvent(ev)
			if !ok || s.filter != "" && n.PlanExecutionID != s.filter {
				continue
			}
			select {
			case s.ch <- n:
			case <-s.done:
				return
			}
		}
	}
}

// StatusNotificationFromEvent converts a node status event into a
// notification
func StatusNotificationFromEvent(
	ev *timebox.Event,
) (*api.StatusNotification, bool) {
	if !events.IsNodeEvent(ev) {
		return nil, false
	}
	ref := events.NodeRefFromEvent(ev)
	res := &api.StatusNotification{
		PlanExecutionID: ref.PlanExecutionID,
		NodeExecutionID: ref.NodeExecutionID,
		Timestamp:       ev.Timestamp,
	}
	switch api.EventType(ev.Type) {
	case api.EventTypeNodeStatusChanged:
		var data api.NodeStatusChangedEvent
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return nil, false
		}
		res.PlanNodeID = data.PlanNodeID
		res.Status = data.Status
		res.FromStatus = data.FromStatus
	case api.EventTypeNodeCompleted:
		var data api.NodeCompletedEvent
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return nil, false
		}
		res.PlanNodeID = data.PlanNodeID
		res.Status = data.Status
		res.FromStatus = data.FromStatus
	default:
		return nil, false
	}
	return res, true
}
