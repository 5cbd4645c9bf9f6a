package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthnav/internal/model"
)

func TestMemoryLocationsKeepRequestOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, n := range []string{"a", "b", "c"} {
		_, err := m.UpsertLocation(ctx, model.Location{Name: n})
		require.NoError(t, err)
	}
	got, err := m.GetLocations(ctx, []int64{3, 1, 2})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{got[0].Name, got[1].Name, got[2].Name})

	_, err = m.GetLocations(ctx, []int64{1, 99})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemoryUpsertWithExplicitID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_, err := m.UpsertLocation(ctx, model.Location{ID: 1, Name: "seeded"})
	require.NoError(t, err)
	l, err := m.UpsertLocation(ctx, model.Location{Name: "auto"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), l.ID)

	_, err = m.UpsertLocation(ctx, model.Location{ID: 1, Name: "renamed"})
	require.NoError(t, err)
	got, err := m.GetLocation(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestMemoryLatestObservation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	prior, err := m.LatestObservation(ctx, 1, 1)
	require.NoError(t, err)
	assert.Nil(t, prior)

	_, _ = m.InsertObservation(ctx, model.Observation{LocationID: 1, ConditionID: 1, ReportedAt: t0, PositiveCases: 5})
	_, _ = m.InsertObservation(ctx, model.Observation{LocationID: 1, ConditionID: 1, ReportedAt: t0.Add(time.Hour), PositiveCases: 7})
	// back-dated report does not become the latest
	_, _ = m.InsertObservation(ctx, model.Observation{LocationID: 1, ConditionID: 1, ReportedAt: t0.Add(-time.Hour), PositiveCases: 1})
	_, _ = m.InsertObservation(ctx, model.Observation{LocationID: 1, ConditionID: 2, ReportedAt: t0, PositiveCases: 3})

	prior, err = m.LatestObservation(ctx, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, 7, prior.PositiveCases)

	// same timestamp: the later insert wins
	_, _ = m.InsertObservation(ctx, model.Observation{LocationID: 1, ConditionID: 1, ReportedAt: t0.Add(time.Hour), PositiveCases: 8})
	prior, _ = m.LatestObservation(ctx, 1, 1)
	assert.Equal(t, 8, prior.PositiveCases)

	all, err := m.LatestObservations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(1), all[0].ConditionID)
	assert.Equal(t, int64(2), all[1].ConditionID)
}

func TestMemoryCommitAllocation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetInventory(ctx)
	require.ErrorIs(t, err, model.ErrNoInventory)

	inv, err := m.SetInventory(ctx, model.Inventory{Doctors: 5, Nurses: 3, Kits: 100, Vaccines: 40})
	require.NoError(t, err)

	b := model.AllocationBatch{ID: "b1", Mode: "online", VillagesSelected: 1, RemainingDoctors: 4, RemainingKits: 50,
		Details: []model.AllocationDetail{{Rank: 1, LocationID: 1, Doctors: 1, Kits: 50, PriorityScore: 0.5}}}
	_, err = m.CommitAllocation(ctx, inv, model.Inventory{Doctors: 4, Kits: 50}, b)
	require.NoError(t, err)

	after, err := m.GetInventory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, after.Doctors)
	assert.Equal(t, 50, after.Kits)
	assert.Equal(t, 3, after.Nurses, "untracked pools are left alone")
	assert.Equal(t, 40, after.Vaccines)

	// a stale snapshot is rejected and changes nothing
	_, err = m.CommitAllocation(ctx, inv, model.Inventory{Doctors: 0, Kits: 0}, model.AllocationBatch{ID: "b2"})
	require.ErrorIs(t, err, model.ErrInventoryConflict)
	again, _ := m.GetInventory(ctx)
	assert.Equal(t, 4, again.Doctors)
	_, err = m.GetBatch(ctx, "b2")
	require.ErrorIs(t, err, model.ErrNotFound)

	got, err := m.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, b.Details, got.Details)

	list, err := m.ListBatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestMemoryRoutePlansByBatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveRoutePlan(ctx, model.RoutePlan{BatchID: "b1", RouteSequence: []int64{1, 2}}))
	require.NoError(t, m.SaveRoutePlan(ctx, model.RoutePlan{RouteSequence: []int64{3}}))

	plans, err := m.ListRoutePlans(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, []int64{1, 2}, plans[0].RouteSequence)

	none, err := m.ListRoutePlans(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryMobileUnitsAndDashboard(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	d, err := m.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, "not_optimized", d.OptimizationStatus)
	assert.Nil(t, d.LastAllocationAt)

	van, err := m.UpsertMobileUnit(ctx, model.MobileUnit{Name: "van-1", DoctorsCapacity: 2, KitsCapacity: 40, Active: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), van.ID)
	_, err = m.UpsertMobileUnit(ctx, model.MobileUnit{Name: "van-2", DoctorsCapacity: 1, KitsCapacity: 10})
	require.NoError(t, err)

	got, err := m.GetMobileUnit(ctx, van.ID)
	require.NoError(t, err)
	assert.Equal(t, van, got)
	_, err = m.GetMobileUnit(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	units, err := m.ListMobileUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "van-2", units[1].Name)

	_, err = m.UpsertLocation(ctx, model.Location{Name: "a"})
	require.NoError(t, err)
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	inv, err := m.SetInventory(ctx, model.Inventory{Doctors: 2, Kits: 10})
	require.NoError(t, err)
	_, err = m.CommitAllocation(ctx, inv, model.Inventory{Doctors: 1, Kits: 5}, model.AllocationBatch{ID: "b1", CreatedAt: at})
	require.NoError(t, err)

	d, err = m.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Locations)
	assert.Equal(t, 1, d.Batches)
	assert.Equal(t, 1, d.ActiveUnits)
	assert.Equal(t, "optimized", d.OptimizationStatus)
	require.NotNil(t, d.LastAllocationAt)
	assert.Equal(t, at, *d.LastAllocationAt)
}

func TestMemoryRoutePlanKeepsUnit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	unit := int64(7)
	require.NoError(t, m.SaveRoutePlan(ctx, model.RoutePlan{BatchID: "b1", MobileUnitID: &unit}))
	unit = 8

	plans, err := m.ListRoutePlans(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.NotNil(t, plans[0].MobileUnitID)
	assert.Equal(t, int64(7), *plans[0].MobileUnitID)
}

func TestMemorySubscriptions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a, _ := m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://a", Events: []string{"allocation.completed"}})
	_, _ = m.CreateSubscription(ctx, model.SubscriptionRequest{URL: "http://b", Events: []string{"route.planned"}})

	subs, err := m.GetSubscriptionsForEvent(ctx, "allocation.completed")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "http://a", subs[0].URL)

	page, next, err := m.ListSubscriptions(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	assert.Equal(t, a.ID, next)

	require.NoError(t, m.DeleteSubscription(ctx, a.ID))
	require.ErrorIs(t, m.DeleteSubscription(ctx, a.ID), model.ErrNotFound)
}

func TestMemoryWebhookQueue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id, err := m.EnqueueWebhook(ctx, "", "route.planned", "http://x", "", []byte(`{}`))
	require.NoError(t, err)

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	later := time.Now().Add(time.Hour)
	require.NoError(t, m.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3))
	due, _ = m.FetchDueWebhookDeliveries(ctx, 10)
	assert.Empty(t, due, "retry is scheduled in the future")

	require.NoError(t, m.FailWebhookDelivery(ctx, id, "boom", 500, 3))
	st, attempts, ok := m.DeliveryStatus(id)
	require.True(t, ok)
	assert.Equal(t, "failed", st)
	assert.Equal(t, 2, attempts)
}
