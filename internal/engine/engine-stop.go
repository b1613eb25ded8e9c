package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/events"
	"github.com/kode4food/conductor/pkg/log"
)

// Stop drains queued callbacks, stops every node actor, and saves
// snapshots of the engine and active plan aggregates
func (e *Engine) Stop() error {
	e.eventQueue.Flush()

	e.stopMu.Lock()
	e.stopped = true
	e.stopMu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(e.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}

	e.saveSnapshots()
	slog.Info("Engine stopped")
	return nil
}

func (e *Engine) saveSnapshots() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := e.engineExec.Exec(ctx, events.EngineKey,
		func(*api.EngineState, *EngineAggregator) error {
			return nil
		},
	)
	if err != nil {
		slog.Error("Failed to load engine state", log.Error(err))
		return
	}
	if err := e.engineExec.SaveSnapshot(ctx, events.EngineKey); err != nil {
		slog.Error("Failed to save engine snapshot", log.Error(err))
	} else {
		slog.Info("Engine snapshot saved")
	}

	for id := range st.Active {
		err := e.planExec.SaveSnapshot(ctx, events.PlanKey(id))
		if err != nil {
			slog.Warn("Failed to save plan snapshot",
				log.PlanExecutionID(id),
				log.Error(err))
		}
	}
}
