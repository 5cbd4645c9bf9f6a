package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthnav/internal/model"
	"healthnav/internal/store"
)

func seeded(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.UpsertLocation(ctx, model.Location{ID: 1, Name: "Kallur", Population: 5000, VulnerabilityIndex: 0.6})
	require.NoError(t, err)
	_, err = m.UpsertCondition(ctx, model.Condition{ID: 1, Name: "malaria", SeverityWeight: 0.8})
	require.NoError(t, err)
	return NewService(m, time.Second, logr.Discard()), m
}

func at(h int) *time.Time {
	t := time.Date(2024, 6, 1, h, 0, 0, 0, time.UTC)
	return &t
}

func TestIngestScoresAgainstPrior(t *testing.T) {
	svc, m := seeded(t)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, model.ObservationIn{LocationID: 1, ConditionID: 1, TestsDone: 100, PositiveCases: 20, ReportedAt: at(8), ReporterType: "sms", ConfidenceScore: 0.9})
	require.NoError(t, err)
	assert.InDelta(t, 0.20, first.PositivityRate, 1e-12)
	assert.Equal(t, 0.0, first.SpreadVelocity)
	assert.InDelta(t, 0.335, first.RiskScore, 1e-12)
	assert.Equal(t, "sms", first.ReporterType)

	second, err := svc.Ingest(ctx, model.ObservationIn{LocationID: 1, ConditionID: 1, TestsDone: 100, PositiveCases: 30, ReportedAt: at(9)})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, second.SpreadVelocity, 1e-12)
	assert.InDelta(t, 0.49, second.RiskScore, 1e-12)

	latest, err := m.LatestObservation(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestIngestUnknownReferenceIsNotFound(t *testing.T) {
	svc, m := seeded(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, model.ObservationIn{LocationID: 42, ConditionID: 1, TestsDone: 1})
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.Ingest(ctx, model.ObservationIn{LocationID: 1, ConditionID: 42, TestsDone: 1})
	require.ErrorIs(t, err, model.ErrNotFound)

	all, _ := m.LatestObservations(ctx)
	assert.Empty(t, all, "nothing is stored for rejected reports")
}

func TestIngestInvalidCounts(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()
	for _, in := range []model.ObservationIn{
		{LocationID: 1, ConditionID: 1, TestsDone: -1},
		{LocationID: 1, ConditionID: 1, PositiveCases: -3},
		{LocationID: 1, ConditionID: 1, TestsDone: 10, PositiveCases: 11},
		{LocationID: 1, ConditionID: 1, TestsDone: 10, ConfidenceScore: 1.5},
	} {
		_, err := svc.Ingest(ctx, in)
		require.ErrorIs(t, err, model.ErrInvalidInput, "%+v", in)
	}
}

func TestIngestZeroTests(t *testing.T) {
	svc, _ := seeded(t)
	o, err := svc.Ingest(context.Background(), model.ObservationIn{LocationID: 1, ConditionID: 1, TestsDone: 0, PositiveCases: 0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, o.PositivityRate)
	assert.False(t, o.ReportedAt.IsZero())
}

func TestIngestBatchIsPerItem(t *testing.T) {
	svc, _ := seeded(t)
	res := svc.IngestBatch(context.Background(), []model.ObservationIn{
		{LocationID: 1, ConditionID: 1, TestsDone: 50, PositiveCases: 5},
		{LocationID: 9, ConditionID: 1, TestsDone: 50, PositiveCases: 5},
		{LocationID: 1, ConditionID: 1, TestsDone: 50, PositiveCases: 10},
	})
	require.Len(t, res, 3)
	require.NotNil(t, res[0].Observation)
	assert.ErrorIs(t, res[1].Err, model.ErrNotFound)
	assert.NotEmpty(t, res[1].Error)
	require.NotNil(t, res[2].Observation)
	assert.InDelta(t, 1.0, res[2].Observation.SpreadVelocity, 1e-12)
}
