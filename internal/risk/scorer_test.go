package risk

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthnav/internal/model"
)

func intp(v int) *int { return &v }

func TestScorePositivityNoPrior(t *testing.T) {
	r, err := Score(Input{TestsDone: 100, PositiveCases: 20, Population: 5000, Vulnerability: 0.5, Severity: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.20, r.PositivityRate, 1e-12)
	assert.Equal(t, 0.0, r.SpreadVelocity)
	// 0.3*0.2 + 0 + 0.2*0.5 + 0.15*0.5 + 0.1*1
	assert.InDelta(t, 0.06+0.10+0.075+0.10, r.RiskScore, 1e-12)
}

func TestSpreadVelocity(t *testing.T) {
	assert.InDelta(t, -0.5, SpreadVelocity(5, intp(10)), 1e-12)
	assert.Equal(t, -1.0, SpreadVelocity(0, intp(10)))
	assert.InDelta(t, 4.0, SpreadVelocity(50, intp(10)), 1e-12)
	assert.Equal(t, 0.0, SpreadVelocity(7, intp(0)))
	assert.Equal(t, 0.0, SpreadVelocity(7, nil))
}

func TestZeroTestsIsNotAnError(t *testing.T) {
	r, err := Score(Input{TestsDone: 0, PositiveCases: 0, Severity: 1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.PositivityRate)
}

func TestScoreRejectsInvalidCounts(t *testing.T) {
	cases := []Input{
		{TestsDone: -1},
		{TestsDone: 10, PositiveCases: -2},
		{TestsDone: 10, PositiveCases: 11},
		{TestsDone: 10, PositiveCases: 1, PriorPositives: intp(-3)},
	}
	for _, in := range cases {
		_, err := Score(in)
		if !errors.Is(err, model.ErrInvalidInput) {
			t.Fatalf("input %+v: want ErrInvalidInput, got %v", in, err)
		}
	}
}

func TestScoreBounds(t *testing.T) {
	// Falling cases with zero everything else would go negative without the floor.
	r, err := Score(Input{TestsDone: 10, PositiveCases: 0, PriorPositives: intp(50)})
	require.NoError(t, err)
	assert.Equal(t, -1.0, r.SpreadVelocity)
	assert.Equal(t, 0.0, r.RiskScore)

	for tests := 0; tests <= 40; tests += 4 {
		for pos := 0; pos <= tests; pos += 3 {
			for _, prior := range []*int{nil, intp(0), intp(1), intp(25)} {
				r, err := Score(Input{TestsDone: tests, PositiveCases: pos, PriorPositives: prior, Population: 1200, Vulnerability: 0.3, Severity: 0.8})
				require.NoError(t, err)
				assert.GreaterOrEqual(t, r.PositivityRate, 0.0)
				assert.LessOrEqual(t, r.PositivityRate, 1.0)
				assert.GreaterOrEqual(t, r.SpreadVelocity, -1.0)
				assert.GreaterOrEqual(t, r.RiskScore, 0.0)
			}
		}
	}
}

func TestCompositeMonotone(t *testing.T) {
	base := func() (float64, float64, float64, int, float64) { return 0.2, 0.1, 0.4, 3000, 0.7 }
	p, s, v, pop, sev := base()
	ref := Composite(p, s, v, pop, sev)

	assert.GreaterOrEqual(t, Composite(p+0.1, s, v, pop, sev), ref)
	assert.GreaterOrEqual(t, Composite(p, s+0.5, v, pop, sev), ref)
	assert.GreaterOrEqual(t, Composite(p, s, v+0.2, pop, sev), ref)
	assert.GreaterOrEqual(t, Composite(p, s, v, pop+500, sev), ref)
	assert.GreaterOrEqual(t, Composite(p, s, v, pop, sev+1), ref)
}

func TestScoreDeterministic(t *testing.T) {
	in := Input{TestsDone: 80, PositiveCases: 12, PriorPositives: intp(9), Population: 7400, Vulnerability: 0.62, Severity: 1.4}
	a, err := Score(in)
	require.NoError(t, err)
	b, err := Score(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestWeightsSumToOne(t *testing.T) {
	assert.InDelta(t, 1.0, WeightPositivity+WeightSpread+WeightVulnerability+WeightPopulation+WeightSeverity, 1e-12)
}
