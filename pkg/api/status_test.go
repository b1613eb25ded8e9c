package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/conductor/pkg/api"
)

func TestStatusPredicates(t *testing.T) {
	terminal := []api.Status{
		api.StatusSucceeded, api.StatusFailed, api.StatusErrored,
		api.StatusAborted, api.StatusExpired, api.StatusSkipped,
		api.StatusIgnoreFailed,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), s)
	}

	live := []api.Status{
		api.StatusQueued, api.StatusRunning, api.StatusAsyncWaiting,
		api.StatusTaskWaiting, api.StatusChildWaiting, api.StatusPaused,
		api.StatusInterventionWaiting, api.StatusDiscontinuing,
	}
	for _, s := range live {
		assert.False(t, s.IsTerminal(), s)
		assert.False(t, s.IsPositive(), s)
	}

	assert.True(t, api.StatusIgnoreFailed.IsPositive())
	assert.True(t, api.StatusSkipped.IsPositive())
	assert.False(t, api.StatusFailed.IsPositive())
	assert.True(t, api.StatusTaskWaiting.IsWaiting())
	assert.False(t, api.StatusPaused.IsWaiting())
	assert.True(t, api.StatusExpired.IsForced())
	assert.False(t, api.StatusFailed.IsForced())
}

func TestWorstOf(t *testing.T) {
	assert.Equal(t, api.StatusSucceeded, api.WorstOf())
	assert.Equal(t, api.StatusSucceeded,
		api.WorstOf(api.StatusSucceeded, api.StatusSkipped),
	)
	assert.Equal(t, api.StatusFailed,
		api.WorstOf(api.StatusAborted, api.StatusErrored),
	)
	assert.Equal(t, api.StatusAborted,
		api.WorstOf(api.StatusExpired, api.StatusAborted),
	)
	assert.Equal(t, api.StatusAborted,
		api.WorstOf(api.StatusAborted, api.StatusExpired),
	)
	assert.Equal(t, api.StatusExpired,
		api.WorstOf(api.StatusSucceeded, api.StatusExpired),
	)
}
