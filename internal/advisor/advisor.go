// Package advisor classifies the current outbreak picture into a coarse
// response strategy. It sits outside the scoring, allocation and routing
// path; nothing there waits on it.
package advisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"healthnav/internal/model"
)

// Advisor decides a strategy for a summary.
type Advisor interface {
	Decide(ctx context.Context, s Summary) (model.StrategyDecision, error)
}

// ErrUnparseable is returned when a completion does not carry a known decision.
var ErrUnparseable = errors.New("advisor reply has no recognised DECISION line")

// ParseDecision reads the "DECISION: <option>" and "REASON: <text>" lines of
// a completion. Labels are matched case-insensitively, and markdown emphasis
// around them is ignored.
func ParseDecision(text string) (model.StrategyDecision, error) {
	var d model.StrategyDecision
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.Trim(strings.TrimSpace(sc.Text()), "*_` ")
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		val = strings.Trim(strings.TrimSpace(val), "*_` ")
		switch strings.ToUpper(strings.Trim(key, "*_` ")) {
		case "DECISION":
			if d.Decision == "" {
				d.Decision = strings.ToUpper(strings.ReplaceAll(val, " ", "_"))
			}
		case "REASON":
			if d.Reason == "" {
				d.Reason = val
			}
		}
	}
	switch d.Decision {
	case model.StrategyFullRecompute, model.StrategyLocalReallocation, model.StrategyMonitorOnly:
		return d, nil
	}
	return model.StrategyDecision{}, fmt.Errorf("%w: %q", ErrUnparseable, d.Decision)
}

// Fallback asks Primary first and answers from Secondary when Primary is
// missing or fails.
type Fallback struct {
	Primary   Advisor
	Secondary Advisor
	Log       logr.Logger
}

func (f Fallback) Decide(ctx context.Context, s Summary) (model.StrategyDecision, error) {
	if f.Primary != nil {
		d, err := f.Primary.Decide(ctx, s)
		if err == nil {
			return d, nil
		}
		f.Log.Error(err, "strategy advisor failed, using fallback")
	}
	return f.Secondary.Decide(ctx, s)
}
