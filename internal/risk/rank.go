package risk

import (
	"sort"

	"healthnav/internal/model"
)

// Rank turns the latest observation of every (location, condition) pair into
// one candidate per location, highest risk first.
//
// A location with several conditions is represented by its riskiest one.
// Ordering is stable: equal scores keep the order in which their locations
// first appear in latest.
func Rank(latest []model.Observation) []model.Candidate {
	idx := map[int64]int{}
	out := make([]model.Candidate, 0, len(latest))
	for _, o := range latest {
		if i, ok := idx[o.LocationID]; ok {
			if o.RiskScore > out[i].RiskScore {
				out[i] = candidate(o)
			}
			continue
		}
		idx[o.LocationID] = len(out)
		out = append(out, candidate(o))
	}
	SortCandidates(out)
	return out
}

func candidate(o model.Observation) model.Candidate {
	return model.Candidate{LocationID: o.LocationID, RiskScore: o.RiskScore, PositivityRate: o.PositivityRate, SpreadVelocity: o.SpreadVelocity}
}

// SortCandidates orders candidates by risk descending, preserving the
// existing order of ties.
func SortCandidates(c []model.Candidate) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].RiskScore > c[j].RiskScore })
}
