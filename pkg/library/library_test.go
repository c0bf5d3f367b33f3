package library

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/simrun/pkg/job"
	"github.com/3leaps/simrun/pkg/provider/file"
)

func writeLib(t *testing.T, root, rel string, mtime time.Time) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(rel), 0o644))
	require.NoError(t, os.Chtimes(full, mtime, mtime))
}

func TestFSResolver(t *testing.T) {
	root := t.TempDir()
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	writeLib(t, root, "srw/mirror.dat", t0)
	writeLib(t, root, "srw/gratings/g1.dat", t0.Add(time.Minute))
	writeLib(t, root, "srw/notes.txt", t0)
	writeLib(t, root, "elegant/lattice.lte", t0)

	r := NewFSResolver(root)
	ctx := context.Background()

	names, err := r.Resolve(ctx, "srw", []string{"*.dat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mirror.dat"}, names)

	names, err = r.Resolve(ctx, "srw", []string{"**/*.dat", "*.dat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gratings/g1.dat", "mirror.dat"}, names)

	names, err = r.Resolve(ctx, "warppba", []string{"*"})
	require.NoError(t, err)
	assert.Empty(t, names)

	mt, err := r.FileMtime(ctx, "srw", "gratings/g1.dat")
	require.NoError(t, err)
	assert.True(t, mt.Equal(t0.Add(time.Minute)))

	_, err = r.FileMtime(ctx, "srw", "missing.dat")
	assert.ErrorIs(t, err, job.ErrNotFound)

	_, err = r.FileMtime(ctx, "srw", "../elegant/lattice.lte")
	assert.Error(t, err)

	_, err = r.Resolve(ctx, "srw", []string{"[bad"})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestProviderResolver(t *testing.T) {
	p, err := file.New(file.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"lib/srw/mirror.dat", "lib/srw/sub/deep.dat", "lib/srw/readme.md", "lib/srwx/other.dat"} {
		require.NoError(t, p.PutObject(ctx, key, bytes.NewReader([]byte("x")), 1))
	}

	r := NewProviderResolver(p, "")
	names, err := r.Resolve(ctx, "srw", []string{"**/*.dat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mirror.dat", "sub/deep.dat"}, names)

	mt, err := r.FileMtime(ctx, "srw", "mirror.dat")
	require.NoError(t, err)
	assert.False(t, mt.IsZero())

	_, err = r.FileMtime(ctx, "srw", "gone.dat")
	assert.ErrorIs(t, err, job.ErrNotFound)
}
