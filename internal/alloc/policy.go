// Package alloc commits scarce resources to the highest-risk locations.
package alloc

import (
	"math"

	"healthnav/internal/model"
)

// DemandPolicy maps a risk score to the resources a location needs.
// The mapping is linear and coarse on purpose; it is a policy knob.
type DemandPolicy struct {
	DoctorsPerScore float64
	MinDoctors      int
	KitsPerScore    float64
	MinKits         int
}

// DefaultPolicy: doctors = max(1, floor(3·score)), kits = max(10, floor(100·score)).
func DefaultPolicy() DemandPolicy {
	return DemandPolicy{DoctorsPerScore: 3, MinDoctors: 1, KitsPerScore: 100, MinKits: 10}
}

// Demand returns the doctors and kits required for score. Demands beyond
// the int range saturate at math.MaxInt, which no budget can satisfy.
func (p DemandPolicy) Demand(score float64) (doctors, kits int) {
	return units(score*p.DoctorsPerScore, p.MinDoctors), units(score*p.KitsPerScore, p.MinKits)
}

func units(v float64, min int) int {
	v = math.Floor(v)
	switch {
	case math.IsNaN(v) || v < float64(min):
		return min
	case v >= math.MaxInt:
		return math.MaxInt
	}
	return int(v)
}

// Plan is the outcome of a greedy pass before it is persisted.
type Plan struct {
	Details   []model.AllocationDetail
	Remaining model.Inventory
	// StoppedAt is the index of the first candidate that did not fit, or -1
	// when every candidate was served.
	StoppedAt int
}

// Greedy walks ranked in order and commits each candidate whose full demand
// fits the remaining budget. The first candidate that does not fit ends the
// pass: lower-ranked candidates are never evaluated, even when they would
// fit on their own.
func Greedy(ranked []model.Candidate, inv model.Inventory, p DemandPolicy) Plan {
	plan := Plan{Remaining: inv, StoppedAt: -1}
	for i, c := range ranked {
		doctors, kits := p.Demand(c.RiskScore)
		if doctors > plan.Remaining.Doctors || kits > plan.Remaining.Kits {
			plan.StoppedAt = i
			break
		}
		plan.Remaining.Doctors -= doctors
		plan.Remaining.Kits -= kits
		plan.Details = append(plan.Details, model.AllocationDetail{
			Rank:          i + 1,
			LocationID:    c.LocationID,
			Doctors:       doctors,
			Kits:          kits,
			PriorityScore: c.RiskScore,
		})
	}
	return plan
}
