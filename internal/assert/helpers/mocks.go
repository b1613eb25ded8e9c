package helpers

import (
	"context"
	"fmt"
	"sync"

	"github.com/kode4food/conductor/pkg/api"
)

type (
	// MockTransport is an in-memory client.Transport that records every
	// submitted, aborted, and expired task
	MockTransport struct {
		submitted map[api.TaskID]*SubmittedTask
		order     []api.TaskID
		aborted   []api.TaskID
		expired   []api.TaskID
		submitErr error
		submitCh  chan api.TaskID
		next      int
		mu        sync.Mutex
	}

	// SubmittedTask is a task handed to the MockTransport
	SubmittedTask struct {
		ID      api.TaskID
		Scope   *api.Ambiance
		Request *api.TaskRequest
	}

	// MockArchiver records the plan executions handed to it
	MockArchiver struct {
		plans map[api.PlanExecutionID]*ArchivedPlan
		err   error
		mu    sync.Mutex
	}

	// ArchivedPlan is a plan execution and its nodes as archived
	ArchivedPlan struct {
		Plan  *api.PlanExecution
		Nodes []*api.NodeExecution
	}
)

const submitBufferSize = 64

// NewMockTransport creates a transport that accepts every submission and
// assigns sequential task ids
func NewMockTransport() *MockTransport {
	return &MockTransport{
		submitted: map[api.TaskID]*SubmittedTask{},
		submitCh:  make(chan api.TaskID, submitBufferSize),
	}
}

// Submit records the task and returns its generated id
func (m *MockTransport) Submit(
	_ context.Context, scope *api.Ambiance, req *api.TaskRequest,
) (api.TaskID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.submitErr != nil {
		return "", m.submitErr
	}
	m.next++
	id := api.TaskID(fmt.Sprintf("task-%d", m.next))
	m.submitted[id] = &SubmittedTask{ID: id, Scope: scope, Request: req}
	m.order = append(m.order, id)
	select {
	case m.submitCh <- id:
	default:
	}
	return id, nil
}

// Abort records the withdrawal. Tasks are always reported as withdrawn
func (m *MockTransport) Abort(_ context.Context, id api.TaskID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborted = append(m.aborted, id)
	return true, nil
}

// Expire records the expiry notification
func (m *MockTransport) Expire(_ context.Context, id api.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired = append(m.expired, id)
	return nil
}

// SetSubmitError makes every following submission fail
func (m *MockTransport) SetSubmitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
}

// Submissions returns the ids of every submitted task in order
func (m *MockTransport) Submissions() []api.TaskID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]api.TaskID(nil), m.order...)
}

// Task returns a submitted task by id
func (m *MockTransport) Task(id api.TaskID) (*SubmittedTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.submitted[id]
	return res, ok
}

// Submitted returns a channel receiving each submitted task id
func (m *MockTransport) Submitted() <-chan api.TaskID {
	return m.submitCh
}

// Aborted returns the ids of every aborted task
func (m *MockTransport) Aborted() []api.TaskID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]api.TaskID(nil), m.aborted...)
}

// Expired returns the ids of every expired task
func (m *MockTransport) Expired() []api.TaskID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]api.TaskID(nil), m.expired...)
}

// NewMockArchiver creates an archiver that keeps plans in memory
func NewMockArchiver() *MockArchiver {
	return &MockArchiver{
		plans: map[api.PlanExecutionID]*ArchivedPlan{},
	}
}

// Archive records the plan execution and its nodes
func (m *MockArchiver) Archive(
	_ context.Context, plan *api.PlanExecution, nodes []*api.NodeExecution,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.plans[plan.ID] = &ArchivedPlan{Plan: plan, Nodes: nodes}
	return nil
}

// SetError makes every following archive call fail
func (m *MockArchiver) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Archived returns the archived form of a plan execution
func (m *MockArchiver) Archived(id api.PlanExecutionID) (*ArchivedPlan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.plans[id]
	return res, ok
}
