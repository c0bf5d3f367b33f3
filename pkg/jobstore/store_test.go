package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
	"github.com/3leaps/simrun/pkg/provider/file"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	p, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return New(p, "")
}

func testRecord(id jobid.Identity) *job.Record {
	return &job.Record{
		Identity:    string(id),
		RunID:       "run-1",
		Fingerprint: "fp-1",
		Request: job.Request{
			SimulationType: "srw",
			SimulationID:   "sim1",
			ComputeModel:   "intensityReport",
			Models:         map[string]map[string]any{"intensityReport": {"x": 1.0}},
		},
		StartTime: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestRequestRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := jobid.Identity("u1~sim1~intensityReport")

	_, err := s.ReadRequest(ctx, id)
	assert.ErrorIs(t, err, job.ErrNotFound)

	require.NoError(t, s.WriteRequest(ctx, id, testRecord(id)))
	got, err := s.ReadRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fp-1", got.Fingerprint)
	assert.Equal(t, "intensityReport", got.Request.ComputeModel)
	assert.Equal(t, 1.0, got.Request.Models["intensityReport"]["x"])

	mt, err := s.RecordMtime(ctx, id, job.KindRequest)
	require.NoError(t, err)
	assert.False(t, mt.IsZero())

	_, err = s.RecordMtime(ctx, id, job.KindResult)
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestWriteResultRequiresRequest(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := jobid.Identity("u1~sim1~intensityReport")

	res := &job.CachedResult{Fingerprint: "fp-1", State: job.StateCompleted}
	err := s.WriteResult(ctx, id, res)
	assert.ErrorIs(t, err, job.ErrNotFound)

	require.NoError(t, s.WriteRequest(ctx, id, testRecord(id)))
	require.NoError(t, s.WriteResult(ctx, id, res))

	got, err := s.ReadResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StateCompleted, got.State)
	assert.Equal(t, "fp-1", got.Fingerprint)
}

func TestLogRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := jobid.Identity("u1~sim1~intensityReport")

	_, err := s.ReadLog(ctx, id)
	assert.ErrorIs(t, err, job.ErrNotFound)

	require.NoError(t, s.WriteLog(ctx, id, []byte("line1\nValueError: bad\n")))
	got, err := s.ReadLog(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "line1\nValueError: bad\n", string(got))
}

func TestRejectsInvalidIdentity(t *testing.T) {
	s := newStore(t)
	err := s.WriteLog(context.Background(), jobid.Identity("../escape"), []byte("x"))
	assert.ErrorIs(t, err, jobid.ErrInvalidComponent)
}

func TestMalformedResult(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := jobid.Identity("u1~sim1~intensityReport")

	require.NoError(t, s.put(ctx, id, resultFile, []byte("{not json")))
	_, err := s.ReadResult(ctx, id)
	require.Error(t, err)
	assert.False(t, job.IsNotFound(err))
}

func TestListAndDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := jobid.Identity("u1~sim1~intensityReport")
	b := jobid.Identity("u1~sim2~fluxReport")

	require.NoError(t, s.WriteRequest(ctx, a, testRecord(a)))
	require.NoError(t, s.WriteResult(ctx, a, &job.CachedResult{Fingerprint: "fp-a", State: job.StateCompleted}))
	require.NoError(t, s.WriteRequest(ctx, b, testRecord(b)))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byID := map[jobid.Identity]job.State{}
	for _, e := range entries {
		byID[e.Identity] = e.State
		assert.Equal(t, "srw", e.SimulationType)
	}
	assert.Equal(t, job.StateCompleted, byID[a])
	assert.Equal(t, job.StateMissing, byID[b])

	require.NoError(t, s.Delete(ctx, a))
	require.NoError(t, s.Delete(ctx, a))

	_, err = s.ReadResult(ctx, a)
	assert.ErrorIs(t, err, job.ErrNotFound)
	assert.ErrorIs(t, s.WriteResult(ctx, a, &job.CachedResult{State: job.StateCanceled}), job.ErrNotFound)

	entries, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, b, entries[0].Identity)
}
