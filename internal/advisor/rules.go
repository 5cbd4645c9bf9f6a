package advisor

import (
	"context"
	"fmt"

	"healthnav/internal/model"
)

// Rules decides locally from the summary numbers.
//
//	MaxRisk >= HighRisk or at least half the pairs rising -> FULL_RECOMPUTE
//	any pair rising                                         -> LOCAL_REALLOCATION
//	otherwise                                               -> MONITOR_ONLY
type Rules struct {
	HighRisk float64
}

func DefaultRules() Rules { return Rules{HighRisk: 0.6} }

func (r Rules) Decide(ctx context.Context, s Summary) (model.StrategyDecision, error) {
	d := model.StrategyDecision{Source: "rules"}
	switch {
	case s.Observations == 0:
		d.Decision = model.StrategyMonitorOnly
		d.Reason = "no outbreak reports on file"
	case s.MaxRisk >= r.HighRisk:
		d.Decision = model.StrategyFullRecompute
		d.Reason = fmt.Sprintf("peak risk %.2f at or above %.2f", s.MaxRisk, r.HighRisk)
	case 2*s.Rising >= s.Observations:
		d.Decision = model.StrategyFullRecompute
		d.Reason = fmt.Sprintf("%d of %d reports show rising positives", s.Rising, s.Observations)
	case s.Rising > 0:
		d.Decision = model.StrategyLocalReallocation
		d.Reason = fmt.Sprintf("%d localized increases", s.Rising)
	default:
		d.Decision = model.StrategyMonitorOnly
		d.Reason = "no rising spread and peak risk is moderate"
	}
	return d, nil
}
