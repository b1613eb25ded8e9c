package metrics

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/timebox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/events"
	"github.com/kode4food/conductor/pkg/log"
)

type (
	// Collector turns persisted engine events into Prometheus metrics
	Collector struct {
		hub        Hub
		handler    timebox.Handler
		consumer   topic.Consumer[*timebox.Event]
		units      UnitsFunc
		started    map[api.PlanExecutionID]time.Time
		done       chan struct{}
		stopped    chan struct{}
		once       sync.Once
		mu         sync.Mutex
		plansStart prometheus.Counter
		plansDone  *prometheus.CounterVec
		planTime   prometheus.Histogram
		nodesDone  *prometheus.CounterVec
		nodeStatus *prometheus.CounterVec
		interrupts *prometheus.CounterVec
		restraints *prometheus.CounterVec
	}

	// Hub hands out consumers of the persisted event stream
	Hub interface {
		NewConsumer() topic.Consumer[*timebox.Event]
	}

	// UnitsFunc reports the current state of every resource unit
	UnitsFunc func() []*api.RestraintUnit

	unitCollector struct {
		units    UnitsFunc
		capacity *prometheus.Desc
		active   *prometheus.Desc
		blocked  *prometheus.Desc
	}
)

const namespace = "conductor"

// NewCollector registers the engine metrics with the registerer. The
// collector does nothing until Start is called
func NewCollector(
	reg prometheus.Registerer, hub Hub, units UnitsFunc,
) *Collector {
	f := promauto.With(reg)
	c := &Collector{
		hub:     hub,
		units:   units,
		started: map[api.PlanExecutionID]time.Time{},
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		plansStart: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_started_total",
			Help:      "Total number of plan executions started",
		}),
		plansDone: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_completed_total",
			Help:      "Total number of plan executions completed",
		}, []string{"status"}),
		planTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_duration_seconds",
			Help:      "Duration of plan executions",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 16),
		}),
		nodesDone: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_completed_total",
			Help:      "Total number of node executions completed",
		}, []string{"status"}),
		nodeStatus: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_transitions_total",
			Help:      "Total number of non-terminal node status changes",
		}, []string{"status"}),
		interrupts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Total number of interrupts registered",
		}, []string{"type"}),
		restraints: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restraint_changes_total",
			Help:      "Total number of restraint instance state changes",
		}, []string{"unit", "state"}),
	}
	c.handler = c.makeHandler()
	if units != nil {
		reg.MustRegister(newUnitCollector(units))
	}
	return c
}

// Start begins consuming engine events
func (c *Collector) Start() {
	c.consumer = c.hub.NewConsumer()
	go c.run()
}

// Stop ends event consumption and waits for the consumer to finish
func (c *Collector) Stop() {
	c.once.Do(func() {
		close(c.done)
		if c.consumer == nil {
			close(c.stopped)
			return
		}
		c.consumer.Close()
		<-c.stopped
	})
}

func (c *Collector) run() {
	defer close(c.stopped)
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-c.consumer.Receive():
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}

// Observe records a single persisted event
func (c *Collector) Observe(ev *timebox.Event) {
	if err := c.handler(ev); err != nil {
		slog.Warn("Failed to record event metrics",
			slog.String("event_type", string(ev.Type)),
			log.Error(err))
	}
}

func (c *Collector) makeHandler() timebox.Handler {
	return events.MakeDispatcher(map[api.EventType]timebox.Handler{
		api.EventTypePlanStarted: timebox.MakeHandler(c.planStarted),
		api.EventTypePlanCompleted: timebox.MakeHandler(
			c.planCompleted,
		),
		api.EventTypeNodeCompleted: timebox.MakeHandler(
			c.nodeCompleted,
		),
		api.EventTypeNodeStatusChanged: timebox.MakeHandler(
			c.nodeStatusChanged,
		),
		api.EventTypeInterruptRegistered: timebox.MakeHandler(
			c.interruptRegistered,
		),
		api.EventTypeRestraintChanged: timebox.MakeHandler(
			c.restraintChanged,
		),
	})
}

func (c *Collector) planStarted(
	ev *timebox.Event, data api.PlanStartedEvent,
) error {
	c.plansStart.Inc()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started[data.PlanExecutionID] = ev.Timestamp
	return nil
}

func (c *Collector) planCompleted(
	ev *timebox.Event, data api.PlanCompletedEvent,
) error {
	c.plansDone.WithLabelValues(string(data.Status)).Inc()
	if !events.IsPlanEvent(ev) {
		return nil
	}
	id := api.PlanExecutionID(ev.AggregateID[1])
	c.mu.Lock()
	start, ok := c.started[id]
	delete(c.started, id)
	c.mu.Unlock()
	if ok {
		c.planTime.Observe(ev.Timestamp.Sub(start).Seconds())
	}
	return nil
}

func (c *Collector) nodeCompleted(
	_ *timebox.Event, data api.NodeCompletedEvent,
) error {
	c.nodesDone.WithLabelValues(string(data.Status)).Inc()
	return nil
}

func (c *Collector) nodeStatusChanged(
	_ *timebox.Event, data api.NodeStatusChangedEvent,
) error {
	c.nodeStatus.WithLabelValues(string(data.Status)).Inc()
	return nil
}

func (c *Collector) interruptRegistered(
	_ *timebox.Event, data api.InterruptRegisteredEvent,
) error {
	if data.Interrupt != nil {
		c.interrupts.WithLabelValues(string(data.Interrupt.Type)).Inc()
	}
	return nil
}

func (c *Collector) restraintChanged(
	_ *timebox.Event, data api.RestraintChangedEvent,
) error {
	if inst := data.Instance; inst != nil {
		c.restraints.WithLabelValues(
			string(inst.Unit), string(inst.State),
		).Inc()
	}
	return nil
}

func newUnitCollector(units UnitsFunc) *unitCollector {
	labels := []string{"unit"}
	return &unitCollector{
		units: units,
		capacity: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "restraint", "capacity"),
			"Configured permit capacity of a resource unit", labels, nil,
		),
		active: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "restraint", "active_permits"),
			"Permits held by active instances of a resource unit", labels, nil,
		),
		blocked: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "restraint", "blocked_instances"),
			"Instances queued on a resource unit", labels, nil,
		),
	}
}

func (u *unitCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- u.capacity
	ch <- u.active
	ch <- u.blocked
}

func (u *unitCollector) Collect(ch chan<- prometheus.Metric) {
	for _, unit := range u.units() {
		name := string(unit.Unit)
		var blocked int
		for _, inst := range unit.Instances {
			if inst.State == api.RestraintBlocked {
				blocked++
			}
		}
		ch <- prometheus.MustNewConstMetric(
			u.capacity, prometheus.GaugeValue, float64(unit.Capacity), name,
		)
		ch <- prometheus.MustNewConstMetric(
			u.active, prometheus.GaugeValue, float64(unit.Active), name,
		)
		ch <- prometheus.MustNewConstMetric(
			u.blocked, prometheus.GaugeValue, float64(blocked), name,
		)
	}
}
