package resultdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "nested", "results.db")})
	require.NoError(t, err)
	s := New(db)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(id jobid.Identity, fp string) *job.Record {
	return &job.Record{
		Identity:    string(id),
		RunID:       "run-" + fp,
		Fingerprint: fp,
		Request: job.Request{
			SimulationType: "elegant",
			SimulationID:   "sim1",
			ComputeModel:   "animation",
			Models:         map[string]map[string]any{"bunch": {"n_particles": 1000.0}},
		},
		StartTime: time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()

	dsn, err := buildDSN(Config{Path: filepath.Join(dir, "a", "r.db")})
	require.NoError(t, err)
	assert.Equal(t, "file:"+filepath.Join(dir, "a", "r.db"), dsn)

	dsn, err = buildDSN(Config{Path: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, ":memory:", dsn)

	dsn, err = buildDSN(Config{URL: "libsql://db.example.io", AuthToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "libsql://db.example.io?authToken=tok", dsn)

	_, err = buildDSN(Config{})
	assert.Error(t, err)
}

func TestRequestAndResult(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := jobid.Identity("u1~sim1~animation")

	_, err := s.ReadRequest(ctx, id)
	assert.ErrorIs(t, err, job.ErrNotFound)
	_, err = s.ReadResult(ctx, id)
	assert.ErrorIs(t, err, job.ErrNotFound)

	err = s.WriteResult(ctx, id, &job.CachedResult{Fingerprint: "fp1", State: job.StateCompleted})
	assert.ErrorIs(t, err, job.ErrNotFound, "result write without a request")

	require.NoError(t, s.WriteRequest(ctx, id, record(id, "fp1")))
	require.NoError(t, s.WriteResult(ctx, id, &job.CachedResult{Fingerprint: "fp1", State: job.StateRunning}))
	require.NoError(t, s.WriteResult(ctx, id, &job.CachedResult{Fingerprint: "fp1", State: job.StateCompleted}))

	rec, err := s.ReadRequest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "fp1", rec.Fingerprint)
	assert.Equal(t, 1000.0, rec.Request.Models["bunch"]["n_particles"])

	res, err := s.ReadResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, job.StateCompleted, res.State)
}

func TestRecordMtime(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := jobid.Identity("u1~sim1~animation")

	fixed := time.Date(2026, 6, 1, 12, 30, 0, 123, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.WriteRequest(ctx, id, record(id, "fp1")))
	mt, err := s.RecordMtime(ctx, id, job.KindRequest)
	require.NoError(t, err)
	assert.True(t, mt.Equal(fixed))

	_, err = s.RecordMtime(ctx, id, job.KindResult)
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestLog(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id := jobid.Identity("u1~sim1~animation")

	_, err := s.ReadLog(ctx, id)
	assert.ErrorIs(t, err, job.ErrNotFound)

	require.NoError(t, s.WriteLog(ctx, id, []byte("Problem: bad lattice\n")))
	got, err := s.ReadLog(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Problem: bad lattice\n", string(got))
}

func TestListAndDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	a := jobid.Identity("u1~sim1~animation")
	b := jobid.Identity("u2~sim9~animation")

	t0 := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return t0 }
	require.NoError(t, s.WriteRequest(ctx, a, record(a, "fpa")))
	s.now = func() time.Time { return t0.Add(time.Hour) }
	require.NoError(t, s.WriteRequest(ctx, b, record(b, "fpb")))
	s.now = func() time.Time { return t0.Add(2 * time.Hour) }
	require.NoError(t, s.WriteResult(ctx, a, &job.CachedResult{Fingerprint: "fpa", State: job.StateError}))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, a, entries[0].Identity)
	assert.Equal(t, job.StateError, entries[0].State)
	assert.True(t, entries[0].UpdatedAt.Equal(t0.Add(2*time.Hour)))
	assert.Equal(t, b, entries[1].Identity)
	assert.Equal(t, job.StateMissing, entries[1].State)
	assert.Equal(t, "elegant", entries[1].SimulationType)

	require.NoError(t, s.Delete(ctx, a))
	entries, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.ErrorIs(t, s.WriteResult(ctx, a, &job.CachedResult{State: job.StateCanceled}), job.ErrNotFound)
}
