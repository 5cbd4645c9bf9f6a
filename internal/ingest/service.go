// Package ingest turns raw outbreak reports into stored, scored observations.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"healthnav/internal/metrics"
	"healthnav/internal/model"
	"healthnav/internal/risk"
)

// Store is the subset of persistence ingestion needs.
type Store interface {
	GetLocation(ctx context.Context, id int64) (model.Location, error)
	GetCondition(ctx context.Context, id int64) (model.Condition, error)
	LatestObservation(ctx context.Context, locationID, conditionID int64) (*model.Observation, error)
	InsertObservation(ctx context.Context, o model.Observation) (model.Observation, error)
}

const lockStripes = 64

// Service scores and persists observations. Reports for the same
// (location, condition) pair are processed one at a time so each one sees
// the previous report as its prior.
type Service struct {
	store   Store
	timeout time.Duration
	log     logr.Logger
	now     func() time.Time
	stripes [lockStripes]sync.Mutex
}

func NewService(s Store, timeout time.Duration, log logr.Logger) *Service {
	return &Service{store: s, timeout: timeout, log: log, now: time.Now}
}

// Result is the per-item outcome of a batch ingestion.
type Result struct {
	Index       int                `json:"index"`
	Observation *model.Observation `json:"observation,omitempty"`
	Error       string             `json:"error,omitempty"`
	Err         error              `json:"-"`
}

// IngestBatch ingests every item independently. One rejected report does
// not stop the others.
func (s *Service) IngestBatch(ctx context.Context, items []model.ObservationIn) []Result {
	out := make([]Result, len(items))
	for i, in := range items {
		out[i].Index = i
		o, err := s.Ingest(ctx, in)
		if err != nil {
			out[i].Err = err
			out[i].Error = err.Error()
			continue
		}
		out[i].Observation = &o
	}
	return out
}

// Ingest validates in, joins its reference rows and prior report, derives
// the risk fields and stores the observation. A missing location or
// condition is model.ErrNotFound and nothing is computed.
func (s *Service) Ingest(ctx context.Context, in model.ObservationIn) (model.Observation, error) {
	o, err := s.ingest(ctx, in)
	switch {
	case err == nil:
		metrics.ObservationsIngested.WithLabelValues("ok").Inc()
	case errors.Is(err, model.ErrInvalidInput):
		metrics.ObservationsIngested.WithLabelValues("invalid").Inc()
	case errors.Is(err, model.ErrNotFound):
		metrics.ObservationsIngested.WithLabelValues("not_found").Inc()
	default:
		metrics.ObservationsIngested.WithLabelValues("error").Inc()
	}
	return o, err
}

func (s *Service) ingest(ctx context.Context, in model.ObservationIn) (model.Observation, error) {
	if in.TestsDone < 0 || in.PositiveCases < 0 {
		return model.Observation{}, fmt.Errorf("%w: counts must be >= 0", model.ErrInvalidInput)
	}
	if in.ConfidenceScore < 0 || in.ConfidenceScore > 1 {
		return model.Observation{}, fmt.Errorf("%w: confidenceScore must be within [0,1]", model.ErrInvalidInput)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	loc, err := s.store.GetLocation(ctx, in.LocationID)
	if err != nil {
		return model.Observation{}, err
	}
	cond, err := s.store.GetCondition(ctx, in.ConditionID)
	if err != nil {
		return model.Observation{}, err
	}

	mu := s.stripe(in.LocationID, in.ConditionID)
	mu.Lock()
	defer mu.Unlock()

	prior, err := s.store.LatestObservation(ctx, in.LocationID, in.ConditionID)
	if err != nil {
		return model.Observation{}, fmt.Errorf("load prior observation: %w", err)
	}
	input := risk.Input{
		TestsDone:     in.TestsDone,
		PositiveCases: in.PositiveCases,
		Population:    loc.Population,
		Vulnerability: loc.VulnerabilityIndex,
		Severity:      cond.SeverityWeight,
	}
	if prior != nil {
		p := prior.PositiveCases
		input.PriorPositives = &p
	}
	r, err := risk.Score(input)
	if err != nil {
		return model.Observation{}, err
	}

	reported := s.now().UTC()
	if in.ReportedAt != nil {
		reported = in.ReportedAt.UTC()
	}
	o := model.Observation{
		LocationID:      in.LocationID,
		ConditionID:     in.ConditionID,
		ReportedAt:      reported,
		TestsDone:       in.TestsDone,
		PositiveCases:   in.PositiveCases,
		PositivityRate:  r.PositivityRate,
		SpreadVelocity:  r.SpreadVelocity,
		RiskScore:       r.RiskScore,
		ReporterType:    in.ReporterType,
		ConfidenceScore: in.ConfidenceScore,
	}
	saved, err := s.store.InsertObservation(ctx, o)
	if err != nil {
		return model.Observation{}, fmt.Errorf("store observation: %w", err)
	}
	s.log.V(1).Info("observation ingested", "location", loc.ID, "condition", cond.Name, "risk", saved.RiskScore, "hasPrior", prior != nil)
	return saved, nil
}

func (s *Service) stripe(loc, cond int64) *sync.Mutex {
	h := fnv.New32a()
	var b [16]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(loc >> (8 * i))
		b[8+i] = byte(cond >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return &s.stripes[h.Sum32()%lockStripes]
}
