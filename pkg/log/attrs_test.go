package log_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

func TestIDAttrs(t *testing.T) {
	assertAttrEqual(t,
		log.PlanExecutionID(api.PlanExecutionID("plan-1")),
		"plan_execution_id", "plan-1",
	)
	assertAttrEqual(t,
		log.NodeExecutionID(api.NodeExecutionID("node-1")),
		"node_execution_id", "node-1",
	)
	assertAttrEqual(t,
		log.PlanNodeID(api.PlanNodeID("build")), "plan_node_id", "build",
	)
	assertAttrEqual(t,
		log.InterruptID(api.InterruptID("int-1")), "interrupt_id", "int-1",
	)
	assertAttrEqual(t,
		log.CorrelationID(api.CorrelationID("c-1")), "correlation_id", "c-1",
	)
	assertAttrEqual(t, log.Unit(api.ResourceUnit("env-prod")),
		"unit", "env-prod",
	)
}

func TestStatus(t *testing.T) {
	assertAttrEqual(t, log.Status(api.StatusRunning), "status", "RUNNING")
}

func TestError(t *testing.T) {
	assertAttrEqual(t, log.Error(nil), "error", "")
	assertAttrEqual(t, log.Error(errors.New("boom")), "error", "boom")
	assertAttrEqual(t, log.ErrorString("badness"), "error", "badness")
}

func assertAttrEqual(t *testing.T, attr slog.Attr, key, value string) {
	t.Helper()
	assert.Equal(t, key, attr.Key)
	assert.Equal(t, value, attr.Value.String())
}
