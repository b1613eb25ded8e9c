package assert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/conductor/internal/config"
	"github.com/kode4food/conductor/pkg/api"
)

// Wrapper wraps testify assertions with conductor-specific helpers
type Wrapper struct {
	*testing.T
	*assert.Assertions
	Require *require.Assertions
}

// DefaultRetryInterval is the default polling interval for Eventually checks
const DefaultRetryInterval = 100 * time.Millisecond

// New creates a new test assertion wrapper with both assert and require from
// testify plus conductor-specific helpers
func New(t *testing.T) *Wrapper {
	return &Wrapper{
		T:          t,
		Assertions: assert.New(t),
		Require:    require.New(t),
	}
}

// ConfigValid asserts that a configuration passes validation
func (w *Wrapper) ConfigValid(cfg *config.Config) {
	w.Helper()
	w.NoError(cfg.Validate())
}

// ConfigInvalid asserts that a configuration fails validation with the
// given error
func (w *Wrapper) ConfigInvalid(cfg *config.Config, target error) {
	w.Helper()
	w.ErrorIs(cfg.Validate(), target)
}

// PlanValid asserts that a plan passes validation
func (w *Wrapper) PlanValid(p *api.Plan) {
	w.Helper()
	w.NoError(p.Validate())
}

// PlanInvalid asserts that a plan fails validation with the given error
func (w *Wrapper) PlanInvalid(p *api.Plan, target error) {
	w.Helper()
	err := p.Validate()
	w.ErrorIs(err, api.ErrInvalidPlan)
	if target != nil {
		w.ErrorIs(err, target)
	}
}

// PlanStatus asserts the status of a plan execution
func (w *Wrapper) PlanStatus(plan *api.PlanExecution, expected api.Status) {
	w.Helper()
	w.Require.NotNil(plan)
	w.Equal(expected, plan.Status)
}

// NodeStatus asserts the status of a node execution
func (w *Wrapper) NodeStatus(node *api.NodeExecution, expected api.Status) {
	w.Helper()
	w.Require.NotNil(node)
	w.Equal(expected, node.Status)
}

// NodeFailure asserts that a node execution failed for the given reason
func (w *Wrapper) NodeFailure(node *api.NodeExecution, kind api.FailureKind) {
	w.Helper()
	w.Require.NotNil(node)
	w.Require.NotNil(node.Failure, "node %s has no failure", node.ID)
	w.Equal(kind, node.Failure.Kind)
}

// Terminal asserts that a node execution is terminal and has an end time
func (w *Wrapper) Terminal(node *api.NodeExecution) {
	w.Helper()
	w.Require.NotNil(node)
	w.True(node.Status.IsTerminal(), "node %s is %s", node.ID, node.Status)
	w.False(node.EndTS.IsZero())
}

// EventuallyWithError asserts that a condition becomes true within the
// timeout period
func (w *Wrapper) EventuallyWithError(
	condition func() bool, timeout time.Duration, msgAndArgs ...any,
) {
	w.Helper()
	w.Eventually(condition, timeout, DefaultRetryInterval, msgAndArgs...)
}
