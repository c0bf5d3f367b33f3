package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/simrun/internal/config"
	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/jobid"
	"github.com/3leaps/simrun/pkg/simtype"
	"github.com/3leaps/simrun/pkg/status"
)

func testConfig(t *testing.T, script string) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Storage: config.StorageConfig{Driver: "file", Root: filepath.Join(root, "store")},
		Slots:   config.SlotsConfig{Driver: "memory"},
		Library: config.LibraryConfig{Root: filepath.Join(root, "lib")},
		Poll:    config.PollConfig{LongSeconds: 1, ShortSeconds: 1},
		Backend: config.BackendConfig{
			WorkRoot:  filepath.Join(root, "work"),
			KillGrace: time.Second,
			Commands:  map[string][]string{"default": {"sh", "-c", script}},
		},
	}
}

func TestRuntimeRunsAndCachesJob(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, `printf '{"ok":true}' > "$SIMRUN_OUTPUT"`)

	rt, err := newRuntime(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = rt.Shutdown(ctx) }()

	req := &job.Request{
		SimulationType: "generic",
		SimulationID:   "sim1",
		ComputeModel:   "report",
		Models:         map[string]map[string]any{"report": {"energy": 3.0}},
	}
	id, err := jobid.New("alice", req.SimulationID, req.ComputeModel)
	require.NoError(t, err)

	st, err := rt.orch.Run(ctx, id, req)
	require.NoError(t, err)
	st, err = pollUntilSettled(ctx, rt.orch, id, req, st)
	require.NoError(t, err)
	require.Equal(t, job.StateCompleted, st.State, st.Error)
	assert.JSONEq(t, `{"ok":true}`, string(st.Output))
	assert.False(t, st.ParametersChanged)

	first, err := rt.store.ReadResult(ctx, id)
	require.NoError(t, err)

	again, err := rt.orch.Run(ctx, id, req)
	require.NoError(t, err)
	assert.Equal(t, job.StateCompleted, again.State)

	cached, err := rt.store.ReadResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, cached.RunID, "unchanged inputs reuse the cached result")

	inv, err := inventoryOf(rt)
	require.NoError(t, err)
	entries, err := inv.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].Identity)
}

func TestRuntimeUnknownSimType(t *testing.T) {
	ctx := context.Background()
	rt, err := newRuntime(ctx, testConfig(t, "true"), zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = rt.Shutdown(ctx) }()

	req := &job.Request{SimulationType: "nosuchcode", SimulationID: "s", ComputeModel: "m"}
	_, err = rt.orch.Run(ctx, "alice~s~m", req)
	require.Error(t, err)
	assert.True(t, status.IsConfigError(err))
	assert.ErrorIs(t, err, simtype.ErrUnknownSimType)
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	_, _, _, err := openStore(context.Background(), config.StorageConfig{Driver: "tape"})
	assert.ErrorContains(t, err, "unsupported storage driver")
}

func TestOpenSlotsRejectsUnknownDriver(t *testing.T) {
	_, _, err := openSlots(config.SlotsConfig{Driver: "etcd"})
	assert.ErrorContains(t, err, "unsupported slot driver")
}

func TestLibraryFor(t *testing.T) {
	cfg := &config.Config{Library: config.LibraryConfig{Root: t.TempDir()}}
	assert.NotNil(t, libraryFor(cfg, nil))
}

func TestOpenSlotsRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	slots, client, err := openSlots(config.SlotsConfig{Driver: "redis", RedisAddr: mr.Addr(), Prefix: "simrun:slot:"})
	require.NoError(t, err)
	require.NotNil(t, client)
	defer func() { _ = client.Close() }()

	ctx := context.Background()
	ok, err := slots.Acquire(ctx, "u~s~m", "host:0:run")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("simrun:slot:u~s~m"))
}

func TestOpenSlotsRedisUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, _, err = openSlots(config.SlotsConfig{Driver: "redis", RedisAddr: addr})
	assert.ErrorContains(t, err, "connect redis")
}
