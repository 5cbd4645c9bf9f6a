package alloc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"healthnav/internal/metrics"
	"healthnav/internal/model"
)

// Store is the inventory and batch persistence the engine needs.
type Store interface {
	// GetInventory returns model.ErrNoInventory when no record exists.
	GetInventory(ctx context.Context) (model.Inventory, error)
	// CommitAllocation persists batch and sets the inventory to remaining,
	// atomically, provided the stored inventory still equals snapshot.
	// Otherwise it returns model.ErrInventoryConflict and writes nothing.
	CommitAllocation(ctx context.Context, snapshot, remaining model.Inventory, batch model.AllocationBatch) (model.AllocationBatch, error)
}

// Engine runs allocation batches. Runs are serialized: the inventory
// read-decrement-write of one run never interleaves with another.
type Engine struct {
	mu      sync.Mutex
	store   Store
	policy  DemandPolicy
	timeout time.Duration
	log     logr.Logger
	now     func() time.Time
}

type Option func(*Engine)

func WithPolicy(p DemandPolicy) Option { return func(e *Engine) { e.policy = p } }

func WithTimeout(d time.Duration) Option { return func(e *Engine) { e.timeout = d } }

func WithLogger(l logr.Logger) Option { return func(e *Engine) { e.log = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(s Store, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		policy:  DefaultPolicy(),
		timeout: 5 * time.Second,
		log:     logr.Discard(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Allocate commits resources to ranked (risk descending, one entry per
// location) and returns the finalized batch. Running out of budget is a
// normal outcome reported through the batch counts.
func (e *Engine) Allocate(ctx context.Context, ranked []model.Candidate, mode string) (model.AllocationBatch, error) {
	if err := validateRanked(ranked); err != nil {
		metrics.AllocationRuns.WithLabelValues("invalid").Inc()
		return model.AllocationBatch{}, err
	}
	if mode == "" {
		mode = "online"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	inv, err := e.store.GetInventory(ctx)
	if err != nil {
		if errors.Is(err, model.ErrNoInventory) {
			metrics.AllocationRuns.WithLabelValues("no_inventory").Inc()
			return model.AllocationBatch{}, err
		}
		metrics.AllocationRuns.WithLabelValues("error").Inc()
		return model.AllocationBatch{}, fmt.Errorf("read inventory: %w", err)
	}

	plan := Greedy(ranked, inv, e.policy)
	batch := model.AllocationBatch{
		ID:               uuid.New().String(),
		CreatedAt:        e.now().UTC(),
		Mode:             mode,
		Details:          plan.Details,
		VillagesSelected: len(plan.Details),
		RemainingDoctors: plan.Remaining.Doctors,
		RemainingKits:    plan.Remaining.Kits,
	}
	if batch.Details == nil {
		batch.Details = []model.AllocationDetail{}
	}
	plan.Remaining.UpdatedAt = batch.CreatedAt

	saved, err := e.store.CommitAllocation(ctx, inv, plan.Remaining, batch)
	if err != nil {
		if errors.Is(err, model.ErrInventoryConflict) {
			metrics.AllocationRuns.WithLabelValues("conflict").Inc()
			return model.AllocationBatch{}, err
		}
		metrics.AllocationRuns.WithLabelValues("error").Inc()
		return model.AllocationBatch{}, fmt.Errorf("commit allocation: %w", err)
	}
	metrics.AllocationRuns.WithLabelValues("ok").Inc()
	metrics.AllocationSelected.Observe(float64(saved.VillagesSelected))
	e.log.Info("allocation committed", "batchId", saved.ID, "candidates", len(ranked),
		"selected", saved.VillagesSelected, "stoppedAt", plan.StoppedAt,
		"remainingDoctors", saved.RemainingDoctors, "remainingKits", saved.RemainingKits)
	return saved, nil
}

func validateRanked(ranked []model.Candidate) error {
	seen := make(map[int64]struct{}, len(ranked))
	for i, c := range ranked {
		if c.RiskScore < 0 {
			return fmt.Errorf("%w: negative risk score for location %d", model.ErrInvalidInput, c.LocationID)
		}
		if _, dup := seen[c.LocationID]; dup {
			return fmt.Errorf("%w: location %d ranked twice", model.ErrInvalidInput, c.LocationID)
		}
		seen[c.LocationID] = struct{}{}
		if i > 0 && c.RiskScore > ranked[i-1].RiskScore {
			return fmt.Errorf("%w: candidates not ranked by risk descending at position %d", model.ErrInvalidInput, i)
		}
	}
	return nil
}
