package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kode4food/caravan/topic"
	"github.com/kode4food/lru"
	"github.com/kode4food/timebox"

	"github.com/kode4food/conductor/internal/adviser"
	"github.com/kode4food/conductor/internal/client"
	"github.com/kode4food/conductor/internal/config"
	"github.com/kode4food/conductor/internal/engine/event"
	"github.com/kode4food/conductor/internal/engine/scheduler"
	"github.com/kode4food/conductor/internal/engine/script"
	"github.com/kode4food/conductor/internal/facilitator"
	"github.com/kode4food/conductor/internal/restraint"
	"github.com/kode4food/conductor/internal/step"
	"github.com/kode4food/conductor/internal/timeout"
	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/events"
	"github.com/kode4food/conductor/pkg/util"
)

type (
	// Engine drives plan executions. Every node execution is owned by an
	// actor that serializes the node's mutations, and all state changes are
	// persisted as events before their effects are acted upon
	Engine struct {
		ctx          context.Context
		cancel       context.CancelFunc
		config       *config.Config
		planExec     *PlanExecutor
		nodeExec     *NodeExecutor
		engineExec   *EngineExecutor
		hub          EventHub
		steps        *step.Registry
		facilitators *facilitator.Registry
		advisers     *adviser.Registry
		scripts      *script.Registry
		transport    client.Transport
		archiver     Archiver
		restraints   *restraint.Manager
		timeouts     *timeout.Tracker
		scheduler    *scheduler.Scheduler
		eventQueue   *event.Queue
		producers    *lru.Cache[*producers]
		clock        util.Clock
		actors       sync.Map // map[api.NodeExecutionID]*nodeActor
		runtimes     sync.Map // map[api.NodeExecutionID]*nodeRuntime
		correlations sync.Map // map[api.CorrelationID]api.NodeRef
		orphans      sync.Map // map[api.CorrelationID]json.RawMessage
		waiting      *admissionWaiters
		wg           sync.WaitGroup
		stopMu       sync.RWMutex
		stopped      bool
	}

	// Dependencies groups the stores, registries, and collaborators an
	// Engine is built from. Registries left nil get the built-in defaults
	Dependencies struct {
		PlanStore        *timebox.Store
		NodeStore        *timebox.Store
		EngineStore      *timebox.Store
		EventHub         EventHub
		Steps            *step.Registry
		Facilitators     *facilitator.Registry
		Advisers         *adviser.Registry
		Scripts          *script.Registry
		Transport        client.Transport
		Archiver         Archiver
		Clock            util.Clock
		TimerConstructor scheduler.TimerConstructor
	}

	// EventHub hands out consumers of every persisted event
	EventHub interface {
		NewConsumer() EventConsumer
	}

	// EventConsumer consumes events from the event hub
	EventConsumer = topic.Consumer[*timebox.Event]

	// Archiver stores finished plan executions outside the event stores
	Archiver interface {
		Archive(
			ctx context.Context, plan *api.PlanExecution,
			nodes []*api.NodeExecution,
		) error
	}

	// PlanExecutor manages plan execution persistence
	PlanExecutor = timebox.Executor[*api.PlanExecution]

	// PlanAggregator aggregates plan execution state from events
	PlanAggregator = timebox.Aggregator[*api.PlanExecution]

	// NodeExecutor manages node execution persistence
	NodeExecutor = timebox.Executor[*api.NodeExecution]

	// NodeAggregator aggregates node execution state from events
	NodeAggregator = timebox.Aggregator[*api.NodeExecution]

	// EngineExecutor manages engine state persistence
	EngineExecutor = timebox.Executor[*api.EngineState]

	// EngineAggregator aggregates engine state from events
	EngineAggregator = timebox.Aggregator[*api.EngineState]
)

var (
	ErrMissingDependency   = errors.New("missing engine dependency")
	ErrInvalidConfig       = errors.New("invalid engine configuration")
	ErrShutdownTimeout     = errors.New("shutdown timeout exceeded")
	ErrRecoverPlans        = errors.New("failed to recover plans")
	ErrPlanExists          = errors.New("plan execution exists")
	ErrPlanNotFound        = errors.New("plan execution not found")
	ErrNodeNotFound        = errors.New("node execution not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInterruptNotAllowed = errors.New("interrupt not allowed")
	ErrEngineStopped       = errors.New("engine stopped")
)

// New creates an engine over the supplied stores and collaborators. The
// engine does nothing until Start is called
func New(cfg *config.Config, deps Dependencies) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		ctx:    ctx,
		cancel: cancel,
		config: cfg,
		planExec: timebox.NewExecutor(
			deps.PlanStore, events.NewPlanState, events.PlanAppliers,
		),
		nodeExec: timebox.NewExecutor(
			deps.NodeStore, events.NewNodeState, events.NodeAppliers,
		),
		engineExec: timebox.NewExecutor(
			deps.EngineStore, events.NewEngineState, events.EngineAppliers,
		),
		hub:          deps.EventHub,
		steps:        deps.Steps,
		facilitators: deps.Facilitators,
		advisers:     deps.Advisers,
		scripts:      deps.Scripts,
		transport:    deps.Transport,
		archiver:     deps.Archiver,
		restraints:   restraint.NewManager(cfg.DefaultCapacity, deps.Clock),
		timeouts:     timeout.NewTracker(deps.Clock),
		scheduler:    scheduler.New(deps.Clock, deps.TimerConstructor),
		producers:    lru.NewCache[*producers](cfg.ProducerCacheSize),
		clock:        deps.Clock,
		waiting:      newAdmissionWaiters(),
	}
	e.eventQueue = event.NewQueue(e.handleCallbacks, cfg.CallbackBatchSize)
	e.restraints.OnAdmit(e.onAdmit)
	for unit, capacity := range cfg.Capacities {
		if _, err := e.restraints.SetCapacity(unit, capacity); err != nil {
			cancel()
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return e, nil
}

// Steps returns the step executor registry
func (e *Engine) Steps() *step.Registry {
	return e.steps
}

// Facilitators returns the facilitator registry
func (e *Engine) Facilitators() *facilitator.Registry {
	return e.facilitators
}

// Advisers returns the adviser registry
func (e *Engine) Advisers() *adviser.Registry {
	return e.advisers
}

// Scripts returns the skip condition language registry
func (e *Engine) Scripts() *script.Registry {
	return e.scripts
}

func (d *Dependencies) validate() error {
	switch {
	case d.PlanStore == nil:
		return fmt.Errorf("%w: plan store", ErrMissingDependency)
	case d.NodeStore == nil:
		return fmt.Errorf("%w: node store", ErrMissingDependency)
	case d.EngineStore == nil:
		return fmt.Errorf("%w: engine store", ErrMissingDependency)
	case d.EventHub == nil:
		return fmt.Errorf("%w: event hub", ErrMissingDependency)
	}
	return nil
}

func (d *Dependencies) applyDefaults() {
	if d.Steps == nil {
		d.Steps = step.NewRegistry()
	}
	if d.Facilitators == nil {
		d.Facilitators = facilitator.NewRegistry()
	}
	if d.Advisers == nil {
		d.Advisers = adviser.NewRegistry()
	}
	if d.Scripts == nil {
		d.Scripts = script.NewRegistry()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.TimerConstructor == nil {
		d.TimerConstructor = scheduler.NewTimer
	}
}
