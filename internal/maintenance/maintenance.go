// Package maintenance reclaims warehouse storage by copy-swapping the
// activity tables down to the retention window. It is independent of the
// fetch/ingest gate but shares its state file for scheduling.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/evescope/activity-ingest/internal/config"
	"github.com/evescope/activity-ingest/internal/httpdate"
	"github.com/evescope/activity-ingest/internal/state"
	"github.com/evescope/activity-ingest/internal/warehouse"
)

// Service runs scheduled table compaction.
type Service struct {
	cfg   config.ScheduleConfig
	store state.Store
	sink  warehouse.Sink
	log   *zap.Logger
	now   func() time.Time
}

// NewService creates the maintenance service.
func NewService(cfg config.ScheduleConfig, store state.Store, sink warehouse.Sink, log *zap.Logger) *Service {
	return &Service{
		cfg:   cfg,
		store: store,
		sink:  sink,
		log:   log,
		now:   httpdate.Now,
	}
}

// Run compacts the activity tables if the maintenance schedule is due.
// It reports whether compaction ran. Force bypasses the schedule.
func (s *Service) Run(ctx context.Context, force bool) (bool, error) {
	now := s.now()

	snap, err := s.store.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load state: %w", err)
	}

	if gate := snap.Maintenance.NextEligibleRunAt; !force && gate != nil && httpdate.Before(now, *gate) {
		s.log.Info("maintenance gated",
			zap.Time("now", now),
			zap.Time("next_eligible_run_at", *gate),
		)
		return false, nil
	}

	location, err := s.sink.ResolveLocation(ctx)
	if err != nil {
		return false, fmt.Errorf("maintenance: %w", err)
	}
	if err := s.sink.Compact(ctx, location, s.cfg.MaintenanceRetention); err != nil {
		return false, fmt.Errorf("maintenance: %w", err)
	}

	next := now.Add(s.cfg.MaintenanceEvery)
	snap.Maintenance.NextEligibleRunAt = &next
	updated := now
	snap.Maintenance.UpdatedAt = &updated

	if _, err := s.store.Save(ctx, snap); err != nil {
		return false, fmt.Errorf("persist state: %w", err)
	}

	s.log.Info("maintenance complete",
		zap.String("location", location),
		zap.Duration("retention", s.cfg.MaintenanceRetention),
		zap.Time("next_eligible_run_at", next),
	)
	return true, nil
}
