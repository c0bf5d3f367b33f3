package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/simrun/pkg/backend"
	"github.com/3leaps/simrun/pkg/backend/backendtest"
	"github.com/3leaps/simrun/pkg/fingerprint"
	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
	"github.com/3leaps/simrun/pkg/simtype"
)

const catalogYAML = `
simulation_types:
  srw:
    models:
      intensityReport:
        fields: [simulation.photonEnergy, electronBeam]
      multiElectronAnimation:
        fields: [electronBeam]
`

var (
	reportID    = jobid.Identity("u1~sim1~intensityReport")
	animationID = jobid.Identity("u1~sim1~multiElectronAnimation")
)

type harness struct {
	tracker *Tracker
	store   *backendtest.Store
	backend *backendtest.Backend
	engine  *fingerprint.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat, err := simtype.LoadFromBytes([]byte(catalogYAML))
	require.NoError(t, err)
	store := backendtest.NewStore()
	b := backendtest.NewBackend(store)
	engine := fingerprint.NewEngine(cat, nil)
	return &harness{
		tracker: New(b, store, engine, cat, Config{}, nil),
		store:   store,
		backend: b,
		engine:  engine,
	}
}

func request(model string, energy float64) *job.Request {
	return &job.Request{
		SimulationType: "srw",
		SimulationID:   "sim1",
		ComputeModel:   model,
		Models: map[string]map[string]any{
			"simulation":   {"photonEnergy": energy},
			"electronBeam": {"energy": 3.0},
		},
	}
}

func (h *harness) start(t *testing.T, id jobid.Identity, req *job.Request) *job.Record {
	t.Helper()
	fp, err := h.engine.Fingerprint(context.Background(), req)
	require.NoError(t, err)
	rec := &job.Record{
		Identity:    string(id),
		RunID:       "run-1",
		Fingerprint: fp,
		Request:     *req,
		StartTime:   time.Now().UTC().Add(-10 * time.Second),
	}
	out, err := h.backend.Start(context.Background(), id, rec)
	require.NoError(t, err)
	require.Equal(t, backend.Started, out)
	return rec
}

func TestStatusNoResult(t *testing.T) {
	h := newHarness(t)
	st, err := h.tracker.Status(context.Background(), reportID, request("intensityReport", 100))
	require.NoError(t, err)
	assert.Equal(t, job.StateMissing, st.State)
	assert.False(t, st.ParametersChanged)
	assert.Nil(t, st.NextRequest)
}

func TestStatusPendingCarriesPollContract(t *testing.T) {
	h := newHarness(t)
	req := request("intensityReport", 100)
	rec := h.start(t, reportID, req)

	st, err := h.tracker.Status(context.Background(), reportID, req)
	require.NoError(t, err)
	assert.Equal(t, job.StatePending, st.State)
	assert.False(t, st.ParametersChanged)
	assert.Equal(t, 1, st.NextRequestSeconds)
	require.NotNil(t, st.NextRequest)
	assert.Equal(t, job.NextRequest{
		JobIdentity:    string(reportID),
		Fingerprint:    rec.Fingerprint,
		InstanceID:     "sim1",
		SimulationType: "srw",
	}, *st.NextRequest)
	assert.Nil(t, st.FrameCount)
	assert.GreaterOrEqual(t, st.ElapsedTime, int64(0))
}

func TestStatusRunningParallelProgress(t *testing.T) {
	h := newHarness(t)
	req := request("multiElectronAnimation", 100)
	h.start(t, animationID, req)
	h.backend.SetPhase(animationID, job.PhaseRunning)

	st, err := h.tracker.Status(context.Background(), animationID, req)
	require.NoError(t, err)
	assert.Equal(t, job.StateRunning, st.State)
	require.NotNil(t, st.PercentComplete)
	assert.Equal(t, 0.0, *st.PercentComplete)
	require.NotNil(t, st.FrameCount)
	assert.Equal(t, 0, *st.FrameCount)
	assert.Equal(t, 2, st.NextRequestSeconds)

	frames := 3
	h.backend.SetProgress(animationID, &backend.Progress{FrameCount: &frames, LastUpdate: time.Now()})
	st, err = h.tracker.Status(context.Background(), animationID, req)
	require.NoError(t, err)
	assert.Equal(t, 3, *st.FrameCount)
	assert.Equal(t, 0.0, *st.PercentComplete)
}

func TestStatusCompletedAndParametersChanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := request("intensityReport", 100)
	rec := h.start(t, reportID, req)

	start, end := rec.StartTime, rec.StartTime.Add(7*time.Second)
	require.NoError(t, h.backend.Finish(ctx, reportID, &job.CachedResult{
		Fingerprint:    rec.Fingerprint,
		RunID:          rec.RunID,
		State:          job.StateCompleted,
		StartTime:      &start,
		LastUpdateTime: &end,
		Output:         []byte(`{"points":[1,2]}`),
	}))

	st, err := h.tracker.Status(ctx, reportID, req)
	require.NoError(t, err)
	assert.Equal(t, job.StateCompleted, st.State)
	assert.False(t, st.ParametersChanged)
	assert.Equal(t, int64(7), st.ElapsedTime)
	assert.JSONEq(t, `{"points":[1,2]}`, string(st.Output))
	assert.Nil(t, st.NextRequest)

	st, err = h.tracker.Status(ctx, reportID, request("intensityReport", 200))
	require.NoError(t, err)
	assert.Equal(t, job.StateCompleted, st.State)
	assert.True(t, st.ParametersChanged)
}

func TestStatusErrorUsesLogParser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := request("intensityReport", 100)
	rec := h.start(t, reportID, req)

	require.NoError(t, h.backend.Finish(ctx, reportID, &job.CachedResult{
		Fingerprint: rec.Fingerprint,
		State:       job.StateError,
		Error:       "simulation failed: exit status 1",
	}))
	st, err := h.tracker.Status(ctx, reportID, req)
	require.NoError(t, err)
	assert.Equal(t, "simulation failed: exit status 1", st.Error)

	require.NoError(t, h.store.WriteLog(ctx, reportID, []byte("Traceback\nValueError: undulator period must be positive\n")))
	st, err = h.tracker.Status(ctx, reportID, req)
	require.NoError(t, err)
	assert.Equal(t, job.StateError, st.State)
	assert.Equal(t, "undulator period must be positive", st.Error)
}

func TestStatusReapsDesyncedSlot(t *testing.T) {
	h := newHarness(t)
	req := request("intensityReport", 100)
	h.start(t, reportID, req)
	h.backend.SetPhase(reportID, job.PhaseNone)

	st, err := h.tracker.Status(context.Background(), reportID, req)
	require.NoError(t, err)
	assert.Equal(t, 1, h.backend.Reaps())
	assert.Equal(t, job.StateMissing, st.State)
	assert.Nil(t, st.NextRequest)

	occ, err := h.backend.IsProcessing(context.Background(), reportID)
	require.NoError(t, err)
	assert.False(t, occ.Occupied)
}

func TestStatusOccupiedWithoutRequest(t *testing.T) {
	h := newHarness(t)
	req := request("intensityReport", 100)
	h.start(t, reportID, req)
	h.store.RemoveRequest(reportID)

	st, err := h.tracker.Status(context.Background(), reportID, req)
	require.NoError(t, err)
	assert.Equal(t, job.StateError, st.State)
	assert.Contains(t, st.Error, "missing simulation input")
}

func TestStatusCanceledWhileDraining(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := request("intensityReport", 100)
	rec := h.start(t, reportID, req)
	h.backend.SetPhase(reportID, job.PhaseRunning)

	require.NoError(t, h.store.WriteResult(ctx, reportID, &job.CachedResult{
		Fingerprint: rec.Fingerprint,
		RunID:       rec.RunID,
		State:       job.StateCanceled,
	}))

	st, err := h.tracker.Status(ctx, reportID, req)
	require.NoError(t, err)
	assert.Equal(t, job.StateCanceled, st.State)
	assert.Nil(t, st.NextRequest)
}

func TestStatusStaleCanceledResultIgnoredForNewRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := request("intensityReport", 100)
	h.start(t, reportID, req)

	require.NoError(t, h.store.WriteResult(ctx, reportID, &job.CachedResult{
		RunID: "older-run",
		State: job.StateCanceled,
	}))

	st, err := h.tracker.Status(ctx, reportID, req)
	require.NoError(t, err)
	assert.Equal(t, job.StatePending, st.State)
}

type failingBackend struct {
	*backendtest.Backend
}

func (failingBackend) IsProcessing(context.Context, jobid.Identity) (backend.Occupancy, error) {
	return backend.Occupancy{}, errors.New("backend unreachable")
}

func TestStatusBackendFailureBecomesErrorStatus(t *testing.T) {
	h := newHarness(t)
	cat, err := simtype.LoadFromBytes([]byte(catalogYAML))
	require.NoError(t, err)
	tr := New(failingBackend{h.backend}, h.store, h.engine, cat, Config{}, nil)

	st, err := tr.Status(context.Background(), reportID, request("intensityReport", 100))
	require.NoError(t, err)
	assert.Equal(t, job.StateError, st.State)
	assert.Contains(t, st.Error, "backend unreachable")
}

func TestStatusConfigErrorsPropagate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bad := request("intensityReport", 100)
	delete(bad.Models, "electronBeam")
	_, err := h.tracker.Status(ctx, reportID, bad)
	require.Error(t, err)
	assert.True(t, fingerprint.IsInvalidFieldReference(err))
	assert.True(t, IsConfigError(err))

	unknown := request("intensityReport", 100)
	unknown.SimulationType = "nosuchcode"
	_, err = h.tracker.Status(ctx, reportID, unknown)
	require.Error(t, err)
	assert.ErrorIs(t, err, simtype.ErrUnknownSimType)
}

func TestStatusMalformedResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := request("intensityReport", 100)
	h.start(t, reportID, req)
	require.NoError(t, h.backend.Finish(ctx, reportID, &job.CachedResult{State: job.StateRunning}))

	st, err := h.tracker.Status(ctx, reportID, req)
	require.NoError(t, err)
	assert.Equal(t, job.StateError, st.State)
	assert.Contains(t, st.Error, "non-terminal")
}

func TestSetTimesClampsElapsed(t *testing.T) {
	st := &job.ClientStatus{}
	now := time.Now()
	setTimes(st, now, now.Add(-time.Minute))
	assert.Equal(t, int64(0), st.ElapsedTime)
}
