package main_test

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const startupTimeout = 10 * time.Second

func TestMainExitsOnStartupFailure(t *testing.T) {
	cases := map[string][]string{
		"unreachable_stores": {
			"PLAN_REDIS_ADDR=127.0.0.1:0",
			"NODE_REDIS_ADDR=127.0.0.1:0",
			"ENGINE_REDIS_ADDR=127.0.0.1:0",
		},
		"invalid_port":      {"API_PORT=not-a-port"},
		"invalid_transport": {"TASK_TRANSPORT=carrier-pigeon"},
		"invalid_archive":   {"ARCHIVE_URL=nope://bucket"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(t.Context(), startupTimeout)
			defer cancel()

			cmd := exec.CommandContext(ctx, "go", "run", ".")
			cmd.Env = append(os.Environ(), env...)

			assert.Error(t, cmd.Run())
			assert.NoError(t, ctx.Err(), "process should exit on its own")
		})
	}
}
