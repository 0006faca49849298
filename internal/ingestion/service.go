// Package ingestion orchestrates one gate cycle: consult state, fetch both
// datasets conditionally, reconcile, load the warehouse, persist state.
package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evescope/activity-ingest/internal/config"
	"github.com/evescope/activity-ingest/internal/httpdate"
	"github.com/evescope/activity-ingest/internal/models"
	"github.com/evescope/activity-ingest/internal/reconcile"
	"github.com/evescope/activity-ingest/internal/state"
	"github.com/evescope/activity-ingest/internal/warehouse"
)

// Fetcher is the conditional-read dependency of the gate.
type Fetcher interface {
	Fetch(ctx context.Context, dataset models.Dataset, storedValidator string) (*models.FetchOutcome, error)
}

// Options are the process-level run controls.
type Options struct {
	// Force bypasses the time gate; the conditional requests still run.
	Force bool
	// DryRun performs the decision read-only: no warehouse writes and no
	// durable state commit.
	DryRun bool
}

// Service runs the ingestion gate.
type Service struct {
	cfg     *config.Config
	fetcher Fetcher
	store   state.Store
	sink    warehouse.Sink
	log     *zap.Logger
	now     func() time.Time
}

// NewService creates the ingestion gate service.
func NewService(cfg *config.Config, fetcher Fetcher, store state.Store, sink warehouse.Sink, log *zap.Logger) *Service {
	return &Service{
		cfg:     cfg,
		fetcher: fetcher,
		store:   store,
		sink:    sink,
		log:     log,
		now:     httpdate.Now,
	}
}

// Start runs the gate on the configured interval until the context is
// canceled. Run errors are logged, not fatal: the next tick retries.
func (s *Service) Start(ctx context.Context, opts Options) error {
	if _, err := s.Run(ctx, opts); err != nil {
		s.log.Error("run failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.cfg.Schedule.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Run(ctx, opts); err != nil {
				s.log.Error("run failed", zap.Error(err))
			}
		}
	}
}

// Run executes one gate cycle and reports how it concluded. On any error
// the persisted state is left untouched.
func (s *Service) Run(ctx context.Context, opts Options) (models.RunResult, error) {
	now := s.now()
	log := s.log.With(zap.String("run_id", runID(now)))

	snap, err := s.store.Load(ctx)
	if err != nil {
		return models.RunFailed, fmt.Errorf("load state: %w", err)
	}

	if gate := gateTime(snap); !opts.Force && gate != nil && httpdate.Before(now, *gate) {
		log.Info("gated, next run not yet eligible",
			zap.Time("now", now),
			zap.Time("next_eligible_run_at", *gate),
		)
		return models.RunSkipped, nil
	}

	outcomes := make(map[models.Dataset]*models.FetchOutcome, len(models.Datasets))
	for _, d := range models.Datasets {
		outcome, err := s.fetcher.Fetch(ctx, d, snap.Endpoints[d].Validator)
		if err != nil {
			// One bad response aborts everything: continuing would spend
			// the source's shared error budget and could join mismatched
			// snapshots.
			return models.RunFailed, err
		}
		outcomes[d] = outcome
	}

	decision := reconcile.Decide(outcomes, snap.Endpoints, now)
	log.Info("decision computed",
		zap.Bool("should_ingest", decision.ShouldIngest),
		zap.Time("next_eligible_run_at", decision.NextEligibleRunAt),
		zap.String("jumps", outcomes[models.DatasetJumps].Status.String()),
		zap.String("kills", outcomes[models.DatasetKills].Status.String()),
	)

	if decision.ShouldIngest {
		if err := s.ingest(ctx, log, outcomes, now, opts.DryRun); err != nil {
			return models.RunFailed, err
		}
	}

	s.applyDecision(snap, outcomes, decision, now)

	if opts.DryRun {
		log.Info("dry run, state not persisted")
	} else {
		changed, err := s.store.Save(ctx, snap)
		if err != nil {
			return models.RunFailed, fmt.Errorf("persist state: %w", err)
		}
		log.Info("state updated", zap.Bool("persisted", changed))
	}

	if decision.ShouldIngest {
		return models.RunIngested, nil
	}
	return models.RunNoChange, nil
}

func (s *Service) ingest(ctx context.Context, log *zap.Logger, outcomes map[models.Dataset]*models.FetchOutcome, now time.Time, dryRun bool) error {
	jumps, err := transformJumps(outcomes[models.DatasetJumps], now)
	if err != nil {
		return fmt.Errorf("transform jumps: %w", err)
	}
	kills, err := transformKills(outcomes[models.DatasetKills], now)
	if err != nil {
		return fmt.Errorf("transform kills: %w", err)
	}

	if dryRun {
		log.Info("dry run, skipping warehouse load",
			zap.Int("jump_rows", len(jumps)),
			zap.Int("kill_rows", len(kills)),
		)
		return nil
	}

	location, err := s.sink.ResolveLocation(ctx)
	if err != nil {
		return fmt.Errorf("warehouse: %w", err)
	}
	if err := s.sink.EnsureTables(ctx); err != nil {
		return fmt.Errorf("warehouse: %w", err)
	}
	if err := s.sink.AppendJumps(ctx, jumps); err != nil {
		return fmt.Errorf("warehouse: %w", err)
	}
	if err := s.sink.AppendKills(ctx, kills); err != nil {
		return fmt.Errorf("warehouse: %w", err)
	}

	log.Info("ingested",
		zap.String("location", location),
		zap.Int("jump_rows", len(jumps)),
		zap.Int("kill_rows", len(kills)),
	)
	return nil
}

// applyDecision advances the snapshot per the conservative baseline policy:
// validator and last_modified move only when this run actually ingested,
// so fetched-but-unloaded data never silently becomes the new baseline.
// Expiry and the shared gate refresh on every run.
func (s *Service) applyDecision(snap *state.Snapshot, outcomes map[models.Dataset]*models.FetchOutcome, decision models.IngestDecision, now time.Time) {
	next := decision.NextEligibleRunAt
	for _, d := range models.Datasets {
		es := snap.Endpoints[d]
		outcome := outcomes[d]

		if decision.ShouldIngest && outcome.Status == models.OutcomeFresh {
			es.Validator = outcome.Validator
			es.LastModified = outcome.LastModified
		}
		if outcome.ExpiresAt != nil {
			es.ExpiresAt = outcome.ExpiresAt
		}
		es.NextEligibleRunAt = &next
		updated := now
		es.UpdatedAt = &updated

		snap.Endpoints[d] = es
	}
}

// gateTime returns the shared next-eligible gate: the latest value stored
// across datasets, so a partially stale file still gates correctly.
func gateTime(snap *state.Snapshot) *time.Time {
	var gate *time.Time
	for _, d := range models.Datasets {
		t := snap.Endpoints[d].NextEligibleRunAt
		if t == nil {
			continue
		}
		if gate == nil || httpdate.Epoch(*t) > httpdate.Epoch(*gate) {
			gate = t
		}
	}
	return gate
}

// runID is compact and sortable, one per gate cycle.
func runID(now time.Time) string {
	return now.Format("20060102T150405Z") + "-" + strings.Split(uuid.NewString(), "-")[0]
}
