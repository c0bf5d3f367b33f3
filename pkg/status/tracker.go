// Package status reconciles backend execution state with persisted results
// and renders the client-facing status record.
package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/simrun/pkg/backend"
	"github.com/3leaps/simrun/pkg/fingerprint"
	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
	"github.com/3leaps/simrun/pkg/simtype"
)

const (
	DefaultLongPoll  = 2 * time.Second
	DefaultShortPoll = 1 * time.Second
)

// Fingerprinter computes request fingerprints.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, req *job.Request) (string, error)
}

// Config holds the poll intervals handed to clients while a job is in
// flight. LongPoll applies to parallel (animation) models.
type Config struct {
	LongPoll  time.Duration
	ShortPoll time.Duration
}

// Tracker is the status reconciler. It is safe for concurrent use; it keeps
// no state between calls.
type Tracker struct {
	backend backend.Backend
	store   backend.Store
	engine  Fingerprinter
	catalog *simtype.Catalog
	cfg     Config
	log     *zap.Logger
}

// New returns a Tracker. logger may be nil.
func New(b backend.Backend, store backend.Store, engine Fingerprinter, catalog *simtype.Catalog, cfg Config, logger *zap.Logger) *Tracker {
	if cfg.LongPoll <= 0 {
		cfg.LongPoll = DefaultLongPoll
	}
	if cfg.ShortPoll <= 0 {
		cfg.ShortPoll = DefaultShortPoll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		backend: b,
		store:   store,
		engine:  engine,
		catalog: catalog,
		cfg:     cfg,
		log:     logger,
	}
}

// IsConfigError reports whether err is a configuration fault that must reach
// the operator instead of being folded into an error status.
func IsConfigError(err error) bool {
	return fingerprint.IsInvalidFieldReference(err) || errors.Is(err, simtype.ErrUnknownSimType)
}

// Status fingerprints req and reports the status of id against it.
func (t *Tracker) Status(ctx context.Context, id jobid.Identity, req *job.Request) (*job.ClientStatus, error) {
	fp, err := t.engine.Fingerprint(ctx, req)
	if err != nil {
		if IsConfigError(err) {
			return nil, err
		}
		return t.fail(id, fmt.Errorf("fingerprint: %w", err)), nil
	}
	return t.StatusFor(ctx, id, req, fp)
}

// StatusFor reports the status of id for a request whose fingerprint is
// already known.
//
// Only configuration errors are returned. Every other failure is rendered as
// an error status carrying the failure text.
func (t *Tracker) StatusFor(ctx context.Context, id jobid.Identity, req *job.Request, fp string) (*job.ClientStatus, error) {
	typ, err := t.catalog.Lookup(req.SimulationType)
	if err != nil {
		return nil, err
	}
	st, err := t.query(ctx, id, req, typ, fp)
	if err != nil {
		return t.fail(id, err), nil
	}
	return st, nil
}

func (t *Tracker) fail(id jobid.Identity, err error) *job.ClientStatus {
	t.log.Warn("status query failed", zap.String("job_identity", string(id)), zap.Error(err))
	return job.ErrorStatus(err.Error())
}

func (t *Tracker) query(ctx context.Context, id jobid.Identity, req *job.Request, typ *simtype.Type, fp string) (*job.ClientStatus, error) {
	occ, err := t.backend.IsProcessing(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("query backend: %w", err)
	}
	if occ.Occupied && !occ.Phase.Valid() {
		t.log.Info("slot occupied without a live execution; reaping",
			zap.String("job_identity", string(id)),
			zap.String("phase", string(occ.Phase)),
		)
		if err := t.backend.Reap(ctx, id); err != nil {
			return nil, fmt.Errorf("reap: %w", err)
		}
		occ.Occupied = false
	}

	parallel := typ.IsParallel(req.ComputeModel)
	if occ.Occupied {
		return t.inFlight(ctx, id, req, occ.Phase, parallel, fp)
	}
	return t.settled(ctx, id, typ, parallel, fp)
}

func (t *Tracker) inFlight(ctx context.Context, id jobid.Identity, req *job.Request, phase job.Phase, parallel bool, fp string) (*job.ClientStatus, error) {
	rec, err := t.store.ReadRequest(ctx, id)
	if err != nil {
		if job.IsNotFound(err) {
			return job.ErrorStatus("missing simulation input for " + string(id)), nil
		}
		return nil, fmt.Errorf("read request: %w", err)
	}

	// A cancel writes its result before killing. Report it as soon as it is
	// visible, even though the slot is still draining.
	if res, err := t.store.ReadResult(ctx, id); err == nil && res.State == job.StateCanceled && res.RunID == rec.RunID {
		return t.fromResult(ctx, id, res, parallel, fp, nil)
	} else if err != nil && !job.IsNotFound(err) {
		return nil, fmt.Errorf("read result: %w", err)
	}

	st := &job.ClientStatus{
		State:             phase.State(),
		ParametersChanged: rec.Fingerprint != fp,
	}

	var progress *backend.Progress
	if pr, ok := t.backend.(backend.ProgressReporter); ok {
		p, err := pr.Progress(ctx, id)
		if err != nil {
			t.log.Debug("progress unavailable", zap.String("job_identity", string(id)), zap.Error(err))
		} else {
			progress = p
		}
	}
	if parallel {
		st.PercentComplete, st.FrameCount = withProgressDefaults(progress)
	}

	start, last := rec.StartTime, rec.LastUpdateTime
	if progress != nil && !progress.LastUpdate.IsZero() {
		last = progress.LastUpdate
	}
	if start.IsZero() || last.IsZero() {
		mt, err := t.store.RecordMtime(ctx, id, job.KindRequest)
		if err != nil {
			return nil, fmt.Errorf("request mtime: %w", err)
		}
		if start.IsZero() {
			start = mt
		}
		if last.IsZero() {
			last = mt
		}
	}
	setTimes(st, start, last)

	poll := t.cfg.ShortPoll
	if parallel {
		poll = t.cfg.LongPoll
	}
	st.NextRequestSeconds = int(poll / time.Second)
	if st.NextRequestSeconds < 1 {
		st.NextRequestSeconds = 1
	}
	st.NextRequest = &job.NextRequest{
		JobIdentity:    string(id),
		Fingerprint:    rec.Fingerprint,
		InstanceID:     req.SimulationID,
		SimulationType: req.SimulationType,
	}
	return st, nil
}

func (t *Tracker) settled(ctx context.Context, id jobid.Identity, typ *simtype.Type, parallel bool, fp string) (*job.ClientStatus, error) {
	res, err := t.store.ReadResult(ctx, id)
	if err != nil {
		if !job.IsNotFound(err) {
			return nil, fmt.Errorf("read result: %w", err)
		}
		return t.noResult(ctx, id)
	}
	return t.fromResult(ctx, id, res, parallel, fp, typ)
}

// noResult reports the backend's last terminal marker, or StateMissing.
func (t *Tracker) noResult(ctx context.Context, id jobid.Identity) (*job.ClientStatus, error) {
	st := &job.ClientStatus{State: job.StateMissing}
	tm, ok := t.backend.(backend.TerminalMarker)
	if !ok {
		return st, nil
	}
	state, found, err := tm.LastTerminalState(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("terminal marker: %w", err)
	}
	if !found {
		return st, nil
	}
	switch state {
	case job.StateCanceled:
		st.State = job.StateCanceled
	case job.StateCompleted, job.StateError:
		// The execution ended but its result is gone.
		return job.ErrorStatus("simulation result missing for " + string(id)), nil
	}
	return st, nil
}

// fromResult renders a persisted result. typ is nil when the log parser
// should not be consulted.
func (t *Tracker) fromResult(ctx context.Context, id jobid.Identity, res *job.CachedResult, parallel bool, fp string, typ *simtype.Type) (*job.ClientStatus, error) {
	if !res.State.Terminal() {
		return nil, fmt.Errorf("cached result for %s has non-terminal state %q", id, res.State)
	}
	st := &job.ClientStatus{
		State:             res.State,
		ParametersChanged: res.Fingerprint != fp,
		Output:            res.Output,
	}
	if res.State == job.StateError {
		st.Error = t.errorMessage(ctx, id, res, typ)
	}
	if parallel {
		st.PercentComplete, st.FrameCount = withProgressDefaults(&backend.Progress{
			PercentComplete: res.PercentComplete,
			FrameCount:      res.FrameCount,
		})
	}

	var start, last time.Time
	if res.StartTime != nil {
		start = *res.StartTime
	}
	if res.LastUpdateTime != nil {
		last = *res.LastUpdateTime
	}
	if start.IsZero() || last.IsZero() {
		mt, err := t.store.RecordMtime(ctx, id, job.KindResult)
		if err != nil {
			return nil, fmt.Errorf("result mtime: %w", err)
		}
		if start.IsZero() {
			start = mt
		}
		if last.IsZero() {
			last = mt
		}
	}
	setTimes(st, start, last)
	return st, nil
}

func (t *Tracker) errorMessage(ctx context.Context, id jobid.Identity, res *job.CachedResult, typ *simtype.Type) string {
	msg := res.Error
	if typ != nil {
		log, err := t.store.ReadLog(ctx, id)
		if err == nil {
			if parsed := typ.ParseErrorLog(log); parsed != "" {
				msg = parsed
			}
		} else if !job.IsNotFound(err) {
			t.log.Debug("run log unavailable", zap.String("job_identity", string(id)), zap.Error(err))
		}
	}
	if msg == "" {
		msg = "simulation failed"
	}
	return msg
}

func withProgressDefaults(p *backend.Progress) (*float64, *int) {
	pct, frames := 0.0, 0
	if p != nil && p.PercentComplete != nil {
		pct = *p.PercentComplete
	}
	if p != nil && p.FrameCount != nil {
		frames = *p.FrameCount
	}
	return &pct, &frames
}

func setTimes(st *job.ClientStatus, start, last time.Time) {
	st.StartTime = start.Unix()
	st.LastUpdateTime = last.Unix()
	st.ElapsedTime = max(st.LastUpdateTime-st.StartTime, 0)
}
