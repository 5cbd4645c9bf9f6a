// Package risk derives per-observation risk fields and ranks locations by them.
package risk

import (
	"fmt"

	"healthnav/internal/model"
)

// Composite weights. They sum to 1.0 and are fixed policy, not learned.
const (
	WeightPositivity    = 0.30
	WeightSpread        = 0.25
	WeightVulnerability = 0.20
	WeightPopulation    = 0.15
	WeightSeverity      = 0.10

	// PopulationScale normalizes population onto roughly the same range as the other inputs.
	PopulationScale = 10000.0

	spreadFloor = -1.0
	scoreFloor  = 0.0
)

// Input carries one observation's raw counts joined with its reference facts.
type Input struct {
	TestsDone     int
	PositiveCases int
	Population    int
	Vulnerability float64
	Severity      float64
	// PriorPositives is the positive count of the previous observation for the
	// same location and condition, nil when there is none.
	PriorPositives *int
}

// Result holds the three derived fields.
type Result struct {
	PositivityRate float64 `json:"positivityRate"`
	SpreadVelocity float64 `json:"spreadVelocity"`
	RiskScore      float64 `json:"riskScore"`
}

// Validate rejects counts that cannot come from a real report.
// TestsDone == 0 is valid and handled by the positivity guard.
func (in Input) Validate() error {
	if in.TestsDone < 0 {
		return fmt.Errorf("%w: testsDone must be >= 0", model.ErrInvalidInput)
	}
	if in.PositiveCases < 0 {
		return fmt.Errorf("%w: positiveCases must be >= 0", model.ErrInvalidInput)
	}
	if in.TestsDone > 0 && in.PositiveCases > in.TestsDone {
		return fmt.Errorf("%w: positiveCases exceeds testsDone", model.ErrInvalidInput)
	}
	if in.PriorPositives != nil && *in.PriorPositives < 0 {
		return fmt.Errorf("%w: prior positiveCases must be >= 0", model.ErrInvalidInput)
	}
	return nil
}

// Score computes positivity, spread velocity and the clamped composite score.
// It is a pure function of its input.
func Score(in Input) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	var r Result
	r.PositivityRate = PositivityRate(in.TestsDone, in.PositiveCases)
	r.SpreadVelocity = SpreadVelocity(in.PositiveCases, in.PriorPositives)
	r.RiskScore = Composite(r.PositivityRate, r.SpreadVelocity, in.Vulnerability, in.Population, in.Severity)
	return r, nil
}

// PositivityRate returns positives/tests, or 0 when no tests were done.
func PositivityRate(testsDone, positives int) float64 {
	if testsDone <= 0 {
		return 0
	}
	return float64(positives) / float64(testsDone)
}

// SpreadVelocity is the relative change in positives against the prior
// report, floored at -1. No prior or a prior with no positives yields 0.
func SpreadVelocity(positives int, prior *int) float64 {
	if prior == nil || *prior <= 0 {
		return 0
	}
	v := float64(positives-*prior) / float64(*prior)
	if v < spreadFloor {
		v = spreadFloor
	}
	return v
}

// Composite applies the fixed weights and floors the result at 0.
func Composite(positivity, spread, vulnerability float64, population int, severity float64) float64 {
	score := WeightPositivity*positivity +
		WeightSpread*spread +
		WeightVulnerability*vulnerability +
		WeightPopulation*(float64(population)/PopulationScale) +
		WeightSeverity*severity
	if score < scoreFloor {
		score = scoreFloor
	}
	return score
}
