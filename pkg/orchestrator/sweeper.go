package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/3leaps/simrun/pkg/backend"
)

// DefaultSweepSchedule runs the reap sweep once a minute.
const DefaultSweepSchedule = "@every 1m"

// SweepBackend is a backend that can enumerate its occupied slots.
type SweepBackend interface {
	backend.Backend
	backend.Lister
}

// Sweeper periodically reaps slots whose bookkeeping no longer matches a
// live execution, so abandoned slots are repaired even when nobody polls.
type Sweeper struct {
	backend SweepBackend
	log     *zap.Logger
	cron    *cron.Cron
}

// NewSweeper schedules Sweep on a cron spec (standard five fields or a
// descriptor such as "@every 30s").
func NewSweeper(b SweepBackend, schedule string, logger *zap.Logger) (*Sweeper, error) {
	if b == nil {
		return nil, errors.New("sweeper: backend is nil")
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sweeper{
		backend: b,
		log:     logger,
		cron:    cron.New(),
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.log.Warn("reap sweep failed", zap.Error(err))
		}
	}); err != nil {
		return nil, fmt.Errorf("sweeper: invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to
// end.
func (s *Sweeper) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Sweep checks every occupied slot once and reaps the desynchronized ones.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.backend.Occupied(ctx)
	if err != nil {
		return 0, fmt.Errorf("list occupied slots: %w", err)
	}
	var (
		reaped int
		errs   []error
	)
	for _, id := range ids {
		occ, err := s.backend.IsProcessing(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if !occ.Occupied || occ.Phase.Valid() {
			continue
		}
		if err := s.backend.Reap(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("reap %s: %w", id, err))
			continue
		}
		reaped++
		s.log.Info("reaped desynchronized slot", zap.String("job_identity", string(id)))
	}
	if reaped > 0 || len(errs) > 0 {
		s.log.Info("reap sweep", zap.Int("occupied", len(ids)), zap.Int("reaped", reaped), zap.Int("errors", len(errs)))
	}
	return reaped, errors.Join(errs...)
}
