package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"healthnav/internal/model"
)

func TestRankOnePerLocationStable(t *testing.T) {
	latest := []model.Observation{
		{LocationID: 1, ConditionID: 1, RiskScore: 0.4},
		{LocationID: 2, ConditionID: 1, RiskScore: 0.7},
		{LocationID: 1, ConditionID: 2, RiskScore: 0.9},
		{LocationID: 3, ConditionID: 1, RiskScore: 0.7},
		{LocationID: 4, ConditionID: 1, RiskScore: 0.1},
	}
	got := Rank(latest)
	assert.Equal(t, []model.Candidate{
		{LocationID: 1, RiskScore: 0.9},
		{LocationID: 2, RiskScore: 0.7},
		{LocationID: 3, RiskScore: 0.7},
		{LocationID: 4, RiskScore: 0.1},
	}, got)
}

func TestRankCarriesRiskiestObservationRates(t *testing.T) {
	got := Rank([]model.Observation{
		{LocationID: 1, ConditionID: 1, RiskScore: 0.3, PositivityRate: 0.5, SpreadVelocity: 0.1},
		{LocationID: 1, ConditionID: 2, RiskScore: 0.6, PositivityRate: 0.2, SpreadVelocity: 1.5},
	})
	assert.Equal(t, []model.Candidate{{LocationID: 1, RiskScore: 0.6, PositivityRate: 0.2, SpreadVelocity: 1.5}}, got)
}

func TestRankEmpty(t *testing.T) {
	assert.Empty(t, Rank(nil))
}
