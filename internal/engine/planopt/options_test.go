package planopt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/conductor/internal/engine/planopt"
	"github.com/kode4food/conductor/pkg/api"
)

func TestDefaultOptions(t *testing.T) {
	setup := map[string]string{"env": "prod"}

	opts := planopt.DefaultOptions(
		planopt.WithExecutionID("exec-1"),
		planopt.WithSetup(setup),
		planopt.WithExpressionToken(42),
	)

	assert.Equal(t, api.PlanExecutionID("exec-1"), opts.ExecutionID)
	assert.Equal(t, setup, opts.Setup)
	assert.Equal(t, int64(42), opts.ExpressionToken)
}

func TestDefaultOptionsGeneratesID(t *testing.T) {
	a := planopt.DefaultOptions()
	b := planopt.DefaultOptions(planopt.WithSetup(nil))

	assert.NotEmpty(t, a.ExecutionID)
	assert.NotEqual(t, a.ExecutionID, b.ExecutionID)
	assert.NotNil(t, b.Setup)
}
