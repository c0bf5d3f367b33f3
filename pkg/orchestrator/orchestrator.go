// Package orchestrator decides when a simulation request needs a new
// execution and starts at most one per job identity.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/simrun/pkg/backend"
	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
	"github.com/3leaps/simrun/pkg/status"
)

// Orchestrator runs and cancels jobs against one backend.
//
// It holds no locks of its own. The backend's atomic Start is the only
// serialization point; AlreadyRunning is folded into an ordinary status.
type Orchestrator struct {
	backend backend.Backend
	store   backend.Store
	tracker *status.Tracker
	engine  status.Fingerprinter
	log     *zap.Logger

	now      func() time.Time
	newRunID func() string
}

// New returns an Orchestrator. logger may be nil.
func New(b backend.Backend, store backend.Store, tracker *status.Tracker, engine status.Fingerprinter, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		backend:  b,
		store:    store,
		tracker:  tracker,
		engine:   engine,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
		newRunID: uuid.NewString,
	}
}

// Fingerprint exposes the engine the orchestrator compares results with.
func (o *Orchestrator) Fingerprint(ctx context.Context, req *job.Request) (string, error) {
	return o.engine.Fingerprint(ctx, req)
}

// Status reports the current status of id for req without starting anything.
func (o *Orchestrator) Status(ctx context.Context, id jobid.Identity, req *job.Request) (*job.ClientStatus, error) {
	return o.tracker.Status(ctx, id, req)
}

// Run returns the cached result when it is still valid, the in-flight status
// when an execution occupies the slot, and otherwise starts a new execution.
//
// The only errors returned are configuration errors; everything else is
// reported through an error status.
func (o *Orchestrator) Run(ctx context.Context, id jobid.Identity, req *job.Request) (*job.ClientStatus, error) {
	if req == nil {
		return nil, errors.New("request is nil")
	}
	fp, err := o.engine.Fingerprint(ctx, req)
	if err != nil {
		if status.IsConfigError(err) {
			return nil, err
		}
		o.log.Warn("fingerprint failed", zap.String("job_identity", string(id)), zap.Error(err))
		return job.ErrorStatus(err.Error()), nil
	}

	st, err := o.tracker.StatusFor(ctx, id, req, fp)
	if err != nil {
		return nil, err
	}
	if st.State.InFlight() {
		return st, nil
	}
	if st.State == job.StateCompleted && !st.ParametersChanged && !req.ForceRun {
		o.log.Debug("cache hit", zap.String("job_identity", string(id)), zap.String("fingerprint", fp))
		return st, nil
	}

	now := o.now()
	rec := &job.Record{
		Identity:       string(id),
		RunID:          o.newRunID(),
		Fingerprint:    fp,
		Request:        *req,
		StartTime:      now,
		LastUpdateTime: now,
	}
	outcome, err := o.backend.Start(ctx, id, rec)
	if err != nil {
		o.log.Error("start failed", zap.String("job_identity", string(id)), zap.Error(err))
		return job.ErrorStatus("start simulation: " + err.Error()), nil
	}
	o.log.Info("start",
		zap.String("job_identity", string(id)),
		zap.String("sim_type", req.SimulationType),
		zap.String("compute_model", req.ComputeModel),
		zap.String("fingerprint", fp),
		zap.String("prior_state", string(st.State)),
		zap.Stringer("outcome", outcome),
	)

	return o.tracker.StatusFor(ctx, id, req, fp)
}

// Cancel marks an in-flight execution canceled and then kills it. It always
// reports canceled, including when nothing was running.
func (o *Orchestrator) Cancel(ctx context.Context, id jobid.Identity) *job.ClientStatus {
	canceled := &job.ClientStatus{State: job.StateCanceled}

	occ, err := o.backend.IsProcessing(ctx, id)
	if err != nil {
		o.log.Warn("cancel: query backend", zap.String("job_identity", string(id)), zap.Error(err))
		return canceled
	}
	if !occ.Occupied {
		return canceled
	}
	if !occ.Phase.Valid() {
		// Nothing is running behind this slot; leave the stored result alone.
		if err := o.backend.Reap(ctx, id); err != nil {
			o.log.Warn("cancel: reap desynchronized slot", zap.String("job_identity", string(id)), zap.Error(err))
		}
		return canceled
	}

	now := o.now()
	rec, err := o.store.ReadRequest(ctx, id)
	switch {
	case err == nil:
		start := rec.StartTime
		res := &job.CachedResult{
			Fingerprint:    rec.Fingerprint,
			RunID:          rec.RunID,
			State:          job.StateCanceled,
			StartTime:      &start,
			LastUpdateTime: &now,
		}
		// The marker must be visible before the kill lands.
		if err := o.store.WriteResult(ctx, id, res); err != nil {
			if job.IsNotFound(err) {
				o.log.Debug("cancel: job storage already removed", zap.String("job_identity", string(id)))
			} else {
				o.log.Warn("cancel: write marker", zap.String("job_identity", string(id)), zap.Error(err))
			}
		}
		canceled.StartTime = start.Unix()
		canceled.LastUpdateTime = now.Unix()
		canceled.ElapsedTime = max(canceled.LastUpdateTime-canceled.StartTime, 0)
	case job.IsNotFound(err):
		o.log.Debug("cancel: no persisted request", zap.String("job_identity", string(id)))
	default:
		o.log.Warn("cancel: read request", zap.String("job_identity", string(id)), zap.Error(err))
	}

	if err := o.backend.Kill(ctx, id); err != nil {
		o.log.Warn("cancel: kill", zap.String("job_identity", string(id)), zap.Error(err))
	}
	o.log.Info("canceled", zap.String("job_identity", string(id)))
	return canceled
}
