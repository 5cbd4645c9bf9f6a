package main

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthnav/internal/model"
	"healthnav/internal/store"
)

const sample = `
locations:
  - {id: 3, name: Betta, latitude: 12.04, longitude: 77.03, population: 2000, vulnerabilityIndex: 0.1}
  - {name: Kallur, latitude: 12.0, longitude: 77.0, population: 10000, vulnerabilityIndex: 0.5}
conditions:
  - {name: cholera, severityWeight: 1}
inventory: {doctors: 4, nurses: 2, kits: 90, vaccines: 10}
units:
  - {name: van, doctorsCapacity: 2, kitsCapacity: 60, active: true}
`

func TestApplySeed(t *testing.T) {
	sf, err := parse([]byte(sample))
	require.NoError(t, err)
	ctx := context.Background()
	m := store.NewMemory()
	require.NoError(t, apply(ctx, m, sf, logr.Discard()))

	l, err := m.GetLocation(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Betta", l.Name)
	all, _ := m.ListLocations(ctx)
	assert.Len(t, all, 2)

	inv, err := m.GetInventory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 90, inv.Kits)

	units, err := m.ListMobileUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, 60, units[0].KitsCapacity)
	assert.True(t, units[0].Active)
}

func TestParseRejectsBadRows(t *testing.T) {
	_, err := parse([]byte("conditions:\n  - {name: x, severityWeight: 0}\n"))
	require.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = parse([]byte("locations:\n  - {name: y, vulnerabilityIndex: 2}\n"))
	require.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = parse([]byte("units:\n  - {name: v, kitsCapacity: -1}\n"))
	require.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = parse([]byte("locations: [\n"))
	require.Error(t, err)
}
