// Package route sequences a set of locations into a single visiting tour
// over a road network.
package route

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-logr/logr"

	"healthnav/internal/metrics"
	"healthnav/internal/model"
)

// Oracle answers road network queries. Node ids are only meaningful within
// the oracle instance that produced them.
type Oracle interface {
	NearestNode(ctx context.Context, lat, lon float64) (int64, error)
	// ShortestPathLength returns the road distance in meters.
	ShortestPathLength(ctx context.Context, from, to int64) (float64, error)
}

const (
	Mode = "osm"

	// AvgSpeedKph is the assumed average rural driving speed.
	AvgSpeedKph = 35.0
	// TreatmentMinutesPerStop is the fixed service time at each location.
	TreatmentMinutesPerStop = 30
)

// Planner builds nearest-neighbour tours. It holds no state between calls.
type Planner struct {
	QueryTimeout time.Duration
	Log          logr.Logger
}

func NewPlanner(queryTimeout time.Duration, log logr.Logger) *Planner {
	if queryTimeout <= 0 {
		queryTimeout = 3 * time.Second
	}
	return &Planner{QueryTimeout: queryTimeout, Log: log}
}

// Plan orders locs starting from locs[0]. From the last visited location it
// repeatedly moves to the remaining location with the shortest road
// distance. Any unresolved node or path fails the whole plan.
func (p *Planner) Plan(ctx context.Context, oracle Oracle, locs []model.Location) (model.RoutePlan, error) {
	plan, err := p.plan(ctx, oracle, locs)
	switch {
	case err == nil:
		metrics.RoutePlans.WithLabelValues("ok").Inc()
	case errors.Is(err, model.ErrInvalidInput):
		metrics.RoutePlans.WithLabelValues("invalid").Inc()
	default:
		metrics.RoutePlans.WithLabelValues("oracle_unavailable").Inc()
	}
	return plan, err
}

func (p *Planner) plan(ctx context.Context, oracle Oracle, locs []model.Location) (model.RoutePlan, error) {
	if len(locs) == 0 {
		return model.RoutePlan{}, fmt.Errorf("%w: route needs at least one location", model.ErrInvalidInput)
	}
	if oracle == nil {
		return model.RoutePlan{}, fmt.Errorf("%w: no road graph", model.ErrOracleUnavailable)
	}
	seen := make(map[int64]struct{}, len(locs))
	for _, l := range locs {
		if _, dup := seen[l.ID]; dup {
			return model.RoutePlan{}, fmt.Errorf("%w: location %d listed twice", model.ErrInvalidInput, l.ID)
		}
		seen[l.ID] = struct{}{}
	}

	// Resolve every location to a road node once per call.
	nodes := make([]int64, len(locs))
	for i, l := range locs {
		n, err := p.nearest(ctx, oracle, l)
		if err != nil {
			return model.RoutePlan{}, err
		}
		nodes[i] = n
	}

	queries := 0
	tour := []int{0}
	remaining := make([]int, 0, len(locs)-1)
	for i := 1; i < len(locs); i++ {
		remaining = append(remaining, i)
	}
	total := 0.0
	for len(remaining) > 0 {
		last := tour[len(tour)-1]
		best, bestDist := -1, math.Inf(1)
		for k, cand := range remaining {
			d, err := p.distance(ctx, oracle, nodes[last], nodes[cand])
			queries++
			if err != nil {
				return model.RoutePlan{}, fmt.Errorf("path %d -> %d: %w", locs[last].ID, locs[cand].ID, err)
			}
			// Strict < keeps the earliest remaining location on ties.
			if d < bestDist {
				best, bestDist = k, d
			}
		}
		next := remaining[best]
		tour = append(tour, next)
		remaining = append(remaining[:best], remaining[best+1:]...)
		total += bestDist
	}

	seq := make([]int64, len(tour))
	for i, idx := range tour {
		seq[i] = locs[idx].ID
	}
	plan := Summarize(seq, total)
	p.Log.V(1).Info("route planned", "stops", len(seq), "distanceKm", plan.TotalDistanceKm, "pathQueries", queries)
	return plan, nil
}

// Summarize converts a tour and its length in meters into the route output
// contract: km to 2 decimals, minutes to 1 decimal.
func Summarize(seq []int64, meters float64) model.RoutePlan {
	km := meters / 1000
	travel := km / AvgSpeedKph * 60
	treatment := TreatmentMinutesPerStop * len(seq)
	return model.RoutePlan{
		Mode:                    Mode,
		RouteSequence:           seq,
		TotalDistanceKm:         round(km, 2),
		TravelTimeMinutes:       round(travel, 1),
		TreatmentTimeMinutes:    treatment,
		TotalMissionTimeMinutes: round(travel+float64(treatment), 1),
	}
}

func (p *Planner) nearest(ctx context.Context, oracle Oracle, l model.Location) (int64, error) {
	qctx, cancel := context.WithTimeout(ctx, p.QueryTimeout)
	defer cancel()
	n, err := oracle.NearestNode(qctx, l.Latitude, l.Longitude)
	if err != nil {
		return 0, fmt.Errorf("nearest node for location %d: %w", l.ID, asUnavailable(err))
	}
	return n, nil
}

// distance queries one directed pair. A tour never asks for the same pair
// twice: the chosen leg's length is kept from the selection scan.
func (p *Planner) distance(ctx context.Context, oracle Oracle, a, b int64) (float64, error) {
	qctx, cancel := context.WithTimeout(ctx, p.QueryTimeout)
	defer cancel()
	d, err := oracle.ShortestPathLength(qctx, a, b)
	if err != nil {
		return 0, asUnavailable(err)
	}
	if math.IsInf(d, 0) || math.IsNaN(d) || d < 0 {
		return 0, fmt.Errorf("%w: no path between nodes %d and %d", model.ErrOracleUnavailable, a, b)
	}
	return d, nil
}

// asUnavailable tags oracle failures (including timeouts) so callers can
// match them with errors.Is.
func asUnavailable(err error) error {
	if errors.Is(err, model.ErrOracleUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrOracleUnavailable, err)
}

func round(v float64, places int) float64 {
	f := math.Pow(10, float64(places))
	return math.Round(v*f) / f
}
