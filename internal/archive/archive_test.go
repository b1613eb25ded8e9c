package archive_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kode4food/timebox"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/conductor/internal/archive"
	"github.com/kode4food/conductor/internal/assert/helpers"
	"github.com/kode4food/conductor/internal/engine"
	"github.com/kode4food/conductor/internal/engine/planopt"
	"github.com/kode4food/conductor/pkg/api"
)

func TestArchive(t *testing.T) {
	ctx := context.Background()

	a, err := archive.Open(ctx, "mem://", "test/")
	assert.NoError(t, err)
	defer func() { _ = a.Close() }()

	plan := &api.PlanExecution{ID: "plan-1", Status: api.StatusSucceeded}
	nodes := []*api.NodeExecution{
		{ID: "node-1", PlanExecutionID: "plan-1", Status: api.StatusSucceeded},
	}

	t.Run("Get returns not archived for missing plan", func(t *testing.T) {
		_, err := a.Get(ctx, "plan-1")
		assert.ErrorIs(t, err, archive.ErrNotArchived)
	})

	t.Run("Archive and Get", func(t *testing.T) {
		assert.NoError(t, a.Archive(ctx, plan, nodes))

		rec, err := a.Get(ctx, "plan-1")
		assert.NoError(t, err)
		assert.Equal(t, api.PlanExecutionID("plan-1"), rec.Plan.ID)
		assert.Equal(t, api.StatusSucceeded, rec.Plan.Status)
		assert.Len(t, rec.Nodes, 1)
		assert.Equal(t, api.NodeExecutionID("node-1"), rec.Nodes[0].ID)
		assert.False(t, rec.ArchivedAt.IsZero())
	})

	t.Run("List", func(t *testing.T) {
		other := &api.PlanExecution{ID: "plan-2", Status: api.StatusFailed}
		assert.NoError(t, a.Archive(ctx, other, nil))

		ids, err := a.List(ctx)
		assert.NoError(t, err)
		assert.ElementsMatch(t, []api.PlanExecutionID{"plan-1", "plan-2"}, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		assert.NoError(t, a.Delete(ctx, "plan-1"))
		assert.NoError(t, a.Delete(ctx, "plan-1"))

		_, err := a.Get(ctx, "plan-1")
		assert.ErrorIs(t, err, archive.ErrNotArchived)
	})
}

func TestHibernator(t *testing.T) {
	ctx := context.Background()

	a, err := archive.Open(ctx, "mem://", "test/")
	assert.NoError(t, err)
	defer func() { _ = a.Close() }()
	h := a.Hibernator()

	id := timebox.NewAggregateID("plan", "plan-123")

	t.Run("Get returns not found for missing aggregate", func(t *testing.T) {
		_, err := h.Get(ctx, id)
		assert.ErrorIs(t, err, timebox.ErrHibernateNotFound)
	})

	t.Run("Put and Get", func(t *testing.T) {
		record := &timebox.HibernateRecord{
			Events: []json.RawMessage{
				json.RawMessage(`{"type":"plan_started"}`),
				json.RawMessage(`{"type":"plan_completed"}`),
			},
			Snapshots: map[string]timebox.SnapshotRecord{
				"plan": {
					Data:     json.RawMessage(`{"id":"plan-123"}`),
					Sequence: 5,
				},
			},
		}
		assert.NoError(t, h.Put(ctx, id, record))

		got, err := h.Get(ctx, id)
		assert.NoError(t, err)
		assert.Len(t, got.Events, 2)
		assert.Contains(t, string(got.Events[1]), "plan_completed")
		assert.Equal(t, int64(5), got.Snapshots["plan"].Sequence)
	})

	t.Run("Hibernated aggregates are not listed as plans", func(t *testing.T) {
		ids, err := a.List(ctx)
		assert.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Delete removes aggregate", func(t *testing.T) {
		assert.NoError(t, h.Delete(ctx, id))
		assert.NoError(t, h.Delete(ctx, id))

		_, err := h.Get(ctx, id)
		assert.ErrorIs(t, err, timebox.ErrHibernateNotFound)
	})
}

func TestEngineArchivesFinishedPlan(t *testing.T) {
	ctx := context.Background()
	a, err := archive.Open(ctx, "mem://", "engine/")
	assert.NoError(t, err)
	defer func() { _ = a.Close() }()

	helpers.WithTestEnv(t, func(env *helpers.TestEngineEnv) {
		deps := env.Dependencies()
		deps.Archiver = a
		eng, err := engine.New(env.Config, deps)
		assert.NoError(t, err)
		env.Engine = eng
		assert.NoError(t, eng.Start())
		defer func() { _ = eng.Stop() }()

		id := api.PlanExecutionID("plan-archived")
		done := env.SubscribeToPlanCompletion(id)
		_, err = eng.StartPlan(t.Context(),
			helpers.NewChainPlan("a", "b"), planopt.WithExecutionID(id),
		)
		assert.NoError(t, err)
		done.Wait(t, helpers.DefaultWaitTimeout)

		assert.Eventually(t, func() bool {
			rec, err := a.Get(ctx, id)
			return err == nil && len(rec.Nodes) == 2
		}, helpers.DefaultWaitTimeout, 20*time.Millisecond)
	})
}
