package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/conductor/internal/timeout"
	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

type (
	// nodeActor serializes every mutation of one node execution. Messages
	// are queued on an unbounded mailbox so senders never block on a busy
	// node
	nodeActor struct {
		*Engine
		ref     api.NodeRef
		mailbox []message
		signal  chan struct{}
		closed  bool
		mu      sync.Mutex
	}

	// nodeRuntime holds the in-memory state of a live node execution
	nodeRuntime struct {
		timeouts *timeout.Group
		cancel   context.CancelFunc
		deferred *msgResult
		runSeq   int64
	}

	message any

	msgStart    struct{}
	msgRecover  struct{}
	msgRetry    struct{}
	msgTimeout  struct{}
	msgAdmitted struct {
		instance *api.RestraintInstance
	}
	msgDispatch struct {
		seq int64
	}
	msgResult struct {
		result *runResult
		seq    int64
	}
	msgCallback struct {
		id   api.CorrelationID
		data json.RawMessage
	}
	msgChildDone struct {
		chain  api.ChainID
		status api.Status
	}
	msgInterrupt struct {
		interrupt *api.Interrupt
		batch     *batch
	}
	msgForce struct {
		status  api.Status
		failure *api.FailureInfo
		batch   *batch
	}
)

const actorIdleTimeout = 100 * time.Millisecond

// send delivers a message to the actor that owns the node, starting one if
// the node has none
func (e *Engine) send(ref api.NodeRef, msg message) {
	for e.ctx.Err() == nil {
		a := e.actorFor(ref)
		if a == nil {
			return
		}
		if a.push(msg) {
			return
		}
		e.actors.CompareAndDelete(ref.NodeExecutionID, a)
	}
}

func (e *Engine) actorFor(ref api.NodeRef) *nodeActor {
	if v, ok := e.actors.Load(ref.NodeExecutionID); ok {
		return v.(*nodeActor)
	}
	a := &nodeActor{
		Engine: e,
		ref:    ref,
		signal: make(chan struct{}, 1),
	}
	if v, loaded := e.actors.LoadOrStore(ref.NodeExecutionID, a); loaded {
		return v.(*nodeActor)
	}
	if !e.async(a.run) {
		e.actors.CompareAndDelete(ref.NodeExecutionID, a)
		return nil
	}
	return a
}

func (a *nodeActor) push(msg message) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	a.mailbox = append(a.mailbox, msg)
	a.mu.Unlock()

	select {
	case a.signal <- struct{}{}:
	default:
	}
	return true
}

func (a *nodeActor) pop() (message, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.mailbox) == 0 {
		return nil, false
	}
	msg := a.mailbox[0]
	a.mailbox[0] = nil
	a.mailbox = a.mailbox[1:]
	return msg, true
}

func (a *nodeActor) tryClose() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.mailbox) != 0 {
		return false
	}
	a.closed = true
	a.actors.CompareAndDelete(a.ref.NodeExecutionID, a)
	return true
}

func (a *nodeActor) run() {
	idle := time.NewTimer(actorIdleTimeout)
	defer idle.Stop()

	for {
		if msg, ok := a.pop(); ok {
			a.handle(msg)
			continue
		}
		idle.Reset(actorIdleTimeout)
		select {
		case <-a.signal:
		case <-idle.C:
			if a.tryClose() {
				return
			}
		case <-a.ctx.Done():
			a.tryClose()
			return
		}
	}
}

func (a *nodeActor) handle(msg message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Node actor panicked",
				log.PlanExecutionID(a.ref.PlanExecutionID),
				log.NodeExecutionID(a.ref.NodeExecutionID),
				log.ErrorString(fmt.Sprint(r)))
		}
	}()

	var err error
	switch m := msg.(type) {
	case msgStart:
		err = a.start()
	case msgRecover:
		err = a.recover()
	case msgAdmitted:
		err = a.admitted(m.instance)
	case msgDispatch:
		err = a.dispatchAfterWait(m.seq)
	case msgResult:
		err = a.result(m)
	case msgCallback:
		err = a.callback(m.id, m.data)
	case msgChildDone:
		err = a.childDone(m.chain, m.status)
	case msgTimeout:
		err = a.timeout()
	case msgRetry:
		err = a.retry()
	case msgInterrupt:
		err = a.interrupt(m.interrupt, m.batch)
	case msgForce:
		err = a.forced(m)
	}
	if err != nil && a.ctx.Err() == nil {
		slog.Error("Failed to handle node message",
			log.PlanExecutionID(a.ref.PlanExecutionID),
			log.NodeExecutionID(a.ref.NodeExecutionID),
			slog.String("message", fmt.Sprintf("%T", msg)),
			log.Error(err))
	}
}

func (a *nodeActor) runtime() *nodeRuntime {
	if v, ok := a.runtimes.Load(a.ref.NodeExecutionID); ok {
		return v.(*nodeRuntime)
	}
	rt := &nodeRuntime{}
	a.runtimes.Store(a.ref.NodeExecutionID, rt)
	return rt
}

func (a *nodeActor) dropRuntime() {
	a.runtimes.Delete(a.ref.NodeExecutionID)
}

// group returns the node's timeout group, restoring it from the persisted
// node state when the runtime has none
func (a *nodeActor) group(node *api.NodeExecution) *timeout.Group {
	rt := a.runtime()
	if rt.timeouts == nil {
		rt.timeouts = a.timeouts.RestoreGroup(node.Timeouts)
	}
	return rt.timeouts
}

func (a *nodeActor) load() (*api.NodeExecution, error) {
	return a.loadNode(a.ctx, a.ref)
}

func (a *nodeActor) tx(fn func(*nodeTx) error) (*api.NodeExecution, error) {
	return a.nodeTx(a.ref, fn)
}

func (a *nodeActor) planNode(
	node *api.NodeExecution,
) (*api.PlanExecution, *api.PlanNode, error) {
	plan, err := a.GetPlanExecution(a.ctx, node.PlanExecutionID)
	if err != nil {
		return nil, nil, err
	}
	pn, ok := plan.Plan.Node(node.PlanNodeID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", api.ErrMissingNodeReference,
			node.PlanNodeID)
	}
	return plan, pn, nil
}
