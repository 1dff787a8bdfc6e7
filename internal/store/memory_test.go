package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siteplan/internal/config"
	"siteplan/internal/model"
)

func TestMemory_PlanLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	p, err := m.CreatePlan(ctx, "t1", model.PlanRequest{Name: "x", Zones: []model.ZoneIn{{ID: "z1", CapacityGap: 10}}})
	require.NoError(t, err)
	created := p.CreatedAt

	p.Status = model.PlanInfeasible
	p.CreatedAt = "overwritten"
	require.NoError(t, m.SavePlan(ctx, p))

	got, err := m.GetPlan(ctx, "t1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanInfeasible, got.Status)
	assert.Equal(t, created, got.CreatedAt)

	_, err = m.GetPlan(ctx, "t2", p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetPlanRequest(ctx, "t2", p.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.SavePlan(ctx, model.PlanOut{ID: "nope", TenantID: "t1"}), ErrNotFound)
}

func TestMemory_ListPlans_Paging(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		p, err := m.CreatePlan(ctx, "t1", model.PlanRequest{Name: fmt.Sprint(i)})
		require.NoError(t, err)
		if i%2 == 0 {
			p.Status = model.PlanOptimal
			require.NoError(t, m.SavePlan(ctx, p))
		}
	}

	page, next, err := m.ListPlans(ctx, "t1", "", "", 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "0", page[0].Name)
	rest, next, err := m.ListPlans(ctx, "t1", "", next, 3)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "3", rest[0].Name)
	assert.Empty(t, next)

	optimal, _, err := m.ListPlans(ctx, "t1", model.PlanOptimal, "", 0)
	require.NoError(t, err)
	assert.Len(t, optimal, 2)
}

func TestMemory_WebhookQueue(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	payload := []byte(`{"id":"evt_9"}`)

	id, err := m.EnqueueWebhook(ctx, "t1", "s1", model.EventPlanFailed, "https://a", "", payload)
	require.NoError(t, err)
	dup, err := m.EnqueueWebhook(ctx, "t1", "s1", model.EventPlanFailed, "https://a", "", payload)
	require.NoError(t, err)
	assert.Equal(t, id, dup)

	later := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &later, "timeout", 0, 0))
	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, m.RetryWebhookDelivery(ctx, "t1", id))
	due, err = m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Attempts)

	assert.ErrorIs(t, m.MarkWebhookDelivery(ctx, "missing", true, nil, "", 200, 0), ErrNotFound)
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, st)

	st, err = Open(ctx, config.StoreConfig{Driver: "sqlite", SQLitePath: t.TempDir() + "/plans.db", Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	_, err = st.CreatePlan(ctx, "t1", model.PlanRequest{})
	require.NoError(t, err)

	_, err = Open(ctx, config.StoreConfig{Driver: "oracle"})
	assert.Error(t, err)
}
