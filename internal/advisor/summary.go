package advisor

import (
	"fmt"
	"strings"

	"healthnav/internal/model"
)

// Summary is the outbreak picture handed to an advisor.
type Summary struct {
	Locations    int              `json:"locations"`
	Observations int              `json:"observations"`
	Rising       int              `json:"rising"` // pairs with spread velocity > 0
	MaxRisk      float64          `json:"maxRisk"`
	MeanRisk     float64          `json:"meanRisk"`
	Top          []TopLocation    `json:"top"`
	Inventory    *model.Inventory `json:"inventory,omitempty"`
}

type TopLocation struct {
	LocationID int64   `json:"locationId"`
	Name       string  `json:"name"`
	RiskScore  float64 `json:"riskScore"`
}

// Summarize builds a Summary from the latest observation of each pair and
// the ranking derived from them. names maps location ids to display names.
func Summarize(latest []model.Observation, ranked []model.Candidate, names map[int64]string, inv *model.Inventory, topN int) Summary {
	s := Summary{Locations: len(ranked), Observations: len(latest), Inventory: inv}
	total := 0.0
	for _, o := range latest {
		if o.SpreadVelocity > 0 {
			s.Rising++
		}
	}
	for i, c := range ranked {
		total += c.RiskScore
		if c.RiskScore > s.MaxRisk {
			s.MaxRisk = c.RiskScore
		}
		if i < topN {
			s.Top = append(s.Top, TopLocation{LocationID: c.LocationID, Name: names[c.LocationID], RiskScore: c.RiskScore})
		}
	}
	if len(ranked) > 0 {
		s.MeanRisk = total / float64(len(ranked))
	}
	return s
}

// Text renders the summary for a prompt.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Locations with reports: %d\n", s.Locations)
	fmt.Fprintf(&b, "Latest reports considered: %d (rising: %d)\n", s.Observations, s.Rising)
	fmt.Fprintf(&b, "Risk score max %.3f, mean %.3f\n", s.MaxRisk, s.MeanRisk)
	if len(s.Top) > 0 {
		b.WriteString("Highest risk locations:\n")
		for _, t := range s.Top {
			name := t.Name
			if name == "" {
				name = fmt.Sprintf("location %d", t.LocationID)
			}
			fmt.Fprintf(&b, "- %s: %.3f\n", name, t.RiskScore)
		}
	}
	if s.Inventory != nil {
		fmt.Fprintf(&b, "Inventory: %d doctors, %d kits\n", s.Inventory.Doctors, s.Inventory.Kits)
	}
	return b.String()
}
